package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicqueue/internal/domain/queue"
)

func newTestMutator(f *fixture) *Mutator {
	return NewMutator(f.provider, f.sync, 0, time.Second, zerolog.Nop())
}

func TestStartNext_NoAvailableDoctors(t *testing.T) {
	f := newFixture()
	f.provider.setQueue([]queue.Entry{busy(1, 1, 7), entry(2, 2, queue.StatusWaiting)}, doctor(7))
	f.mustSync(t)

	_, err := newTestMutator(f).StartNext(context.Background())
	if !errors.Is(err, queue.ErrNoAvailableDoctors) {
		t.Fatalf("expected ErrNoAvailableDoctors, got %v", err)
	}
	if f.provider.callCount() != 0 {
		t.Error("expected no remote call")
	}
}

func TestStartNext_NoWaitingPatients(t *testing.T) {
	f := newFixture()
	f.provider.setQueue([]queue.Entry{completed(1, 1)}, doctor(7))
	f.mustSync(t)

	_, err := newTestMutator(f).StartNext(context.Background())
	if !errors.Is(err, queue.ErrNoWaitingPatients) {
		t.Fatalf("expected ErrNoWaitingPatients, got %v", err)
	}
	if f.provider.callCount() != 0 {
		t.Error("expected no remote call")
	}
}

func TestStartNext_SyncsWhenNotReady(t *testing.T) {
	f := newFixture()
	f.provider.setQueue([]queue.Entry{entry(1, 1, queue.StatusWaiting)}, doctor(7))
	f.provider.started = []queue.Entry{busy(1, 1, 7)}
	f.provider.afterMutate = func(p *mockProvider) {
		p.setQueue([]queue.Entry{busy(1, 1, 7)}, doctor(7))
	}

	started, err := newTestMutator(f).StartNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(started) != 1 || started[0].QueueID != 1 {
		t.Errorf("unexpected started entries: %v", started)
	}
	// One cycle to get ready, one after the mutation.
	if got := f.provider.fetches.Load(); got != 2 {
		t.Errorf("expected 2 fetches, got %d", got)
	}
	if got := f.sync.Current().Counts.InProgress; got != 1 {
		t.Errorf("expected mirror to show 1 in progress, got %d", got)
	}
}

func TestSetStatus_InProgressRequiresDoctor(t *testing.T) {
	f := newFixture()
	_, err := newTestMutator(f).SetStatus(context.Background(), 1, queue.StatusInProgress, nil)
	if !errors.Is(err, queue.ErrDoctorRequired) {
		t.Fatalf("expected ErrDoctorRequired, got %v", err)
	}
	if f.provider.callCount() != 0 {
		t.Error("expected no remote call")
	}
}

func TestSetStatus_CompletedSetsCheckupAndSignalsOnce(t *testing.T) {
	f := newFixture()
	f.provider.setQueue([]queue.Entry{busy(1, 1, 7)}, doctor(7))
	f.mustSync(t)
	f.provider.afterMutate = func(p *mockProvider) {
		p.setQueue([]queue.Entry{entry(1, 1, queue.StatusCompleted)}, doctor(7))
	}

	m := newTestMutator(f)
	if _, err := m.SetStatus(context.Background(), 1, queue.StatusCompleted, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u := f.provider.updates[0]
	if u.CheckupStatus == nil || *u.CheckupStatus != queue.CheckupCompleted {
		t.Errorf("expected checkup_status Completed, got %v", u.CheckupStatus)
	}
	want := []queue.SignalKind{queue.SignalConsultationCompleted}
	if diff := cmp.Diff(want, f.notifier.kinds()); diff != "" {
		t.Errorf("signals mismatch (-want +got):\n%s", diff)
	}
}

func TestSkip_DefaultPositions(t *testing.T) {
	f := newFixture()
	m := newTestMutator(f)
	if err := m.Skip(context.Background(), 1, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Skip(context.Background(), 1, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]int{DefaultSkipPositions, 2}, f.provider.skips); diff != "" {
		t.Errorf("positions mismatch (-want +got):\n%s", diff)
	}
}

func TestMutator_RejectionIsSurfacedNotRetried(t *testing.T) {
	f := newFixture()
	f.provider.mutErr = &queue.RejectionError{StatusCode: 422, Message: "queue entry is not currently waiting"}

	err := newTestMutator(f).Skip(context.Background(), 3, 5)
	var rej *queue.RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected *RejectionError, got %v", err)
	}
	if rej.Message != "queue entry is not currently waiting" {
		t.Errorf("unexpected message %q", rej.Message)
	}
	if f.provider.callCount() != 1 {
		t.Errorf("expected exactly one call, got %d", f.provider.callCount())
	}
	if got := f.provider.fetches.Load(); got != 1 {
		t.Errorf("expected a resync after rejection, got %d fetches", got)
	}
}

func TestMutator_TransportErrorStillResyncs(t *testing.T) {
	f := newFixture()
	f.provider.setQueue([]queue.Entry{entry(3, 1, queue.StatusWaiting)}, doctor(7))
	f.provider.mutErr = errors.New("connection reset")

	err := newTestMutator(f).Prioritize(context.Background(), 3)
	if err == nil || queue.IsBusinessError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if got := f.provider.fetches.Load(); got != 1 {
		t.Errorf("expected one resync after the failed write, got %d fetches", got)
	}
	if !f.sync.Current().Ready() {
		t.Error("expected the resync to publish a snapshot")
	}
}

func TestMutator_ResyncOutlivesCancelledCaller(t *testing.T) {
	f := newFixture()
	f.provider.setQueue([]queue.Entry{entry(1, 1, queue.StatusWaiting)}, doctor(7))
	f.provider.profiles[100] = queue.TreatmentProfile{EmergencyPriority: 12, IsEmergency: true, EmergencyNote: "Low treatment frequency"}
	f.mustSync(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.provider.afterMutate = func(p *mockProvider) { cancel() }

	if err := newTestMutator(f).Skip(ctx, 1, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := f.sync.Current()
	if snap.Cycle != 2 || snap.Stale || snap.Degraded {
		t.Fatalf("expected a fresh second cycle, got cycle=%d stale=%v degraded=%v", snap.Cycle, snap.Stale, snap.Degraded)
	}
	if got := snap.Waiting[0].Note; got != "Low treatment frequency" {
		t.Errorf("expected the fetched profile to survive, got note %q", got)
	}
}

func TestMutator_UnauthorizedReachesSession(t *testing.T) {
	f := newFixture()
	f.provider.mutErr = queue.ErrUnauthorized

	err := newTestMutator(f).SendToEmergency(context.Background(), 3)
	if !errors.Is(err, queue.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if f.session.calls.Load() != 1 {
		t.Errorf("expected session handler call, got %d", f.session.calls.Load())
	}
}

func TestRefreshEmergencyStatuses_Resyncs(t *testing.T) {
	f := newFixture()
	q1 := entry(1, 1, queue.StatusWaiting)
	f.provider.setQueue([]queue.Entry{q1, entry(2, 2, queue.StatusWaiting)}, doctor(7))
	f.mustSync(t)
	f.provider.afterMutate = func(p *mockProvider) {
		q2 := entry(2, 2, queue.StatusWaiting)
		q2.EmergencyStatus = true
		q2.EmergencyPriority = 18
		p.setQueue([]queue.Entry{q1, q2}, doctor(7))
	}

	if err := newTestMutator(f).RefreshEmergencyStatuses(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if top := f.sync.Current().Waiting[0]; top.QueueID != 2 || top.Priority.Tier != queue.TierCritical {
		t.Errorf("expected Q2 critical on top, got Q%d %s", top.QueueID, top.Priority.Tier)
	}
}
