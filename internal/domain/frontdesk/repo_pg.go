package frontdesk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/clinicqueue/internal/domain/queue"
	"github.com/ehr/clinicqueue/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const entryCols = `q.id, q.patient_id, p.user_id, p.first_name || ' ' || p.last_name, p.hospital_number,
	q.queue_number, q.status, q.doctor_id, q.start_time, q.checkup_status,
	q.emergency_status, q.emergency_priority`

const entryFrom = `FROM queue_entries q JOIN patients p ON p.id = q.patient_id`

func scanEntry(row pgx.Row) (queue.Entry, error) {
	var e queue.Entry
	var status string
	err := row.Scan(&e.QueueID, &e.PatientID, &e.UserID, &e.PatientName, &e.HospitalNumber,
		&e.QueueNumber, &status, &e.DoctorID, &e.StartTime, &e.CheckupStatus,
		&e.EmergencyStatus, &e.EmergencyPriority)
	e.Status = queue.Status(status)
	return e, err
}

func (r *repoPG) listEntries(ctx context.Context, query string, args ...interface{}) ([]queue.Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []queue.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repoPG) TodayQueue(ctx context.Context, day time.Time) ([]queue.Entry, error) {
	return r.listEntries(ctx, `SELECT `+entryCols+` `+entryFrom+`
		WHERE q.queue_date = $1 AND q.routed_to_emergency_at IS NULL
		ORDER BY q.queue_number`, day)
}

func (r *repoPG) DoctorsOnDuty(ctx context.Context, day time.Time) ([]queue.Doctor, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT d.user_id, d.first_name, d.last_name, COALESCE(d.specialization, '')
		FROM doctors d JOIN doctor_duty dd ON dd.doctor_id = d.id
		WHERE dd.duty_date = $1
		ORDER BY d.id`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []queue.Doctor
	for rows.Next() {
		var d queue.Doctor
		if err := rows.Scan(&d.DoctorID, &d.FirstName, &d.LastName, &d.Specialization); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repoPG) SetOnDuty(ctx context.Context, day time.Time, doctorUserID int64, onDuty bool) error {
	var tag pgconn.CommandTag
	var err error
	if onDuty {
		tag, err = r.conn(ctx).Exec(ctx, `
			INSERT INTO doctor_duty (doctor_id, duty_date)
			SELECT id, $2 FROM doctors WHERE user_id = $1
			ON CONFLICT DO NOTHING`, doctorUserID, day)
		if err == nil && tag.RowsAffected() == 0 {
			// Either already on duty or unknown.
			var exists bool
			err = r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM doctors WHERE user_id = $1)`, doctorUserID).Scan(&exists)
			if err == nil && !exists {
				return fmt.Errorf("doctor %d: %w", doctorUserID, queue.ErrNotFound)
			}
		}
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		DELETE FROM doctor_duty dd USING doctors d
		WHERE dd.doctor_id = d.id AND d.user_id = $1 AND dd.duty_date = $2`, doctorUserID, day)
	return err
}

func (r *repoPG) UpsertDoctor(ctx context.Context, d queue.Doctor) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctors (user_id, first_name, last_name, specialization)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (user_id) DO UPDATE
		SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
			specialization = EXCLUDED.specialization`,
		d.DoctorID, d.FirstName, d.LastName, d.Specialization)
	return err
}

func (r *repoPG) UpsertPatient(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (user_id, first_name, last_name, hospital_number)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
			hospital_number = EXCLUDED.hospital_number
		RETURNING id, created_at`,
		p.UserID, p.FirstName, p.LastName, p.HospitalNumber).Scan(&p.ID, &p.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("hospital number %q: %w", p.HospitalNumber, ErrInvalidInput)
	}
	return err
}

func (r *repoPG) TreatmentCounts(ctx context.Context, userIDs []int64, since time.Time) (map[int64]int, error) {
	counts := make(map[int64]int, len(userIDs))
	if len(userIDs) == 0 {
		return counts, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT p.user_id, COUNT(s.id)
		FROM patients p
		LEFT JOIN treatment_sessions s ON s.patient_id = p.id AND s.session_date >= $2
		WHERE p.user_id = ANY($1)
		GROUP BY p.user_id`, userIDs, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (r *repoPG) RecordTreatment(ctx context.Context, userID int64, at time.Time, note string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO treatment_sessions (patient_id, session_date, note)
		SELECT id, $2, NULLIF($3, '') FROM patients WHERE user_id = $1`, userID, at, note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patient %d: %w", userID, queue.ErrNotFound)
	}
	return nil
}

// lockDay serializes writers of one day's queue, inserts included, which row
// locks alone do not cover.
func (r *repoPG) lockDay(ctx context.Context, day time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, dayLockKey(day))
	return err
}

func dayLockKey(day time.Time) int64 {
	y, m, d := day.Date()
	return int64(y*10000 + int(m)*100 + d)
}

func (r *repoPG) Enqueue(ctx context.Context, day time.Time, patientUserID int64) (*queue.Entry, error) {
	var out *queue.Entry
	err := db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		if err := r.lockDay(ctx, day); err != nil {
			return err
		}
		var patientID int64
		err := r.conn(ctx).QueryRow(ctx, `SELECT id FROM patients WHERE user_id = $1`, patientUserID).Scan(&patientID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("patient %d: %w", patientUserID, queue.ErrNotFound)
		}
		if err != nil {
			return err
		}

		var active bool
		err = r.conn(ctx).QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM queue_entries
				WHERE queue_date = $1 AND patient_id = $2 AND routed_to_emergency_at IS NULL
					AND status IN ('waiting', 'in-progress')
					AND COALESCE(checkup_status, '') <> $3)`,
			day, patientID, queue.CheckupCompleted).Scan(&active)
		if err != nil {
			return err
		}
		if active {
			return ErrAlreadyQueued
		}

		var id int64
		err = r.conn(ctx).QueryRow(ctx, `
			INSERT INTO queue_entries (queue_date, patient_id, queue_number)
			SELECT $1, $2, COALESCE(MAX(queue_number), 0) + 1 FROM queue_entries WHERE queue_date = $1
			RETURNING id`, day, patientID).Scan(&id)
		if err != nil {
			return err
		}
		e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` `+entryFrom+` WHERE q.id = $1`, id))
		if err != nil {
			return err
		}
		out = &e
		return nil
	})
	return out, err
}

func (r *repoPG) Mutate(ctx context.Context, day time.Time, fn func(ctx context.Context, d *Day) ([]Change, error)) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		if err := r.lockDay(ctx, day); err != nil {
			return err
		}
		entries, err := r.listEntries(ctx, `SELECT `+entryCols+` `+entryFrom+`
			WHERE q.queue_date = $1 AND q.routed_to_emergency_at IS NULL
			ORDER BY q.queue_number
			FOR UPDATE OF q`, day)
		if err != nil {
			return fmt.Errorf("lock queue: %w", err)
		}
		doctors, err := r.DoctorsOnDuty(ctx, day)
		if err != nil {
			return err
		}

		changes, err := fn(ctx, &Day{Date: day, Entries: entries, Doctors: doctors})
		if err != nil {
			return err
		}
		for _, c := range changes {
			if err := r.apply(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

// apply writes one change. With ExpectStatus set, zero affected rows means the
// entry moved on and the whole mutation is abandoned.
func (r *repoPG) apply(ctx context.Context, c Change) error {
	args := []interface{}{c.QueueID}
	sets := []string{"updated_at = NOW()"}
	set := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if c.QueueNumber != nil {
		set("queue_number", *c.QueueNumber)
	}
	if c.Status != nil {
		set("status", string(*c.Status))
	}
	switch {
	case c.DoctorID != nil:
		set("doctor_id", *c.DoctorID)
	case c.ClearDoctor:
		sets = append(sets, "doctor_id = NULL")
	}
	switch {
	case c.StartTime != nil:
		set("start_time", *c.StartTime)
	case c.ClearDoctor:
		sets = append(sets, "start_time = NULL")
	}
	if c.CheckupStatus != nil {
		set("checkup_status", *c.CheckupStatus)
	}
	if c.EmergencyStatus != nil {
		set("emergency_status", *c.EmergencyStatus)
	}
	if c.EmergencyPriority != nil {
		set("emergency_priority", *c.EmergencyPriority)
	}
	if c.RoutedToEmergency {
		sets = append(sets, "routed_to_emergency_at = NOW()")
	}

	where := "id = $1"
	if c.ExpectStatus != nil {
		args = append(args, string(*c.ExpectStatus))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE queue_entries SET `+strings.Join(sets, ", ")+` WHERE `+where, args...)
	if err != nil {
		return fmt.Errorf("update queue entry %d: %w", c.QueueID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("queue entry %d: %w", c.QueueID, queue.ErrStaleState)
	}
	return nil
}
