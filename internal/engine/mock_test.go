package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/clinicqueue/internal/domain/queue"
)

// mockProvider is an in-memory queue.Provider. Tests swap the queue between
// cycles with setQueue.
type mockProvider struct {
	mu          sync.Mutex
	queue       queue.TodayQueue
	queueErr    error
	profiles    map[int64]queue.TreatmentProfile
	profileErrs map[int64]error
	mutErr      error
	started     []queue.Entry
	calls       []string
	updates     []queue.StatusUpdate
	skips       []int

	// When gate is set TodayQueue signals entered and blocks until gate closes.
	gate    chan struct{}
	entered chan struct{}

	fetches     atomic.Int32
	lookups     atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32
	lookupDelay time.Duration
	afterMutate func(p *mockProvider)
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		profiles:    make(map[int64]queue.TreatmentProfile),
		profileErrs: make(map[int64]error),
	}
}

func (p *mockProvider) setQueue(entries []queue.Entry, doctors ...queue.Doctor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = queue.TodayQueue{Entries: entries, Doctors: doctors}
}

func (p *mockProvider) setQueueErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queueErr = err
}

func (p *mockProvider) TodayQueue(ctx context.Context) (*queue.TodayQueue, error) {
	p.fetches.Add(1)
	p.mu.Lock()
	gate, entered := p.gate, p.entered
	p.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queueErr != nil {
		return nil, p.queueErr
	}
	tq := queue.TodayQueue{
		Entries: append([]queue.Entry(nil), p.queue.Entries...),
		Doctors: append([]queue.Doctor(nil), p.queue.Doctors...),
	}
	return &tq, nil
}

func (p *mockProvider) TreatmentProfile(ctx context.Context, userID int64) (*queue.TreatmentProfile, error) {
	p.lookups.Add(1)
	n := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		peak := p.maxInflight.Load()
		if n <= peak || p.maxInflight.CompareAndSwap(peak, n) {
			break
		}
	}
	if p.lookupDelay > 0 {
		select {
		case <-time.After(p.lookupDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.profileErrs[userID]; ok {
		return nil, err
	}
	if prof, ok := p.profiles[userID]; ok {
		return &prof, nil
	}
	return nil, queue.ErrNotFound
}

func (p *mockProvider) mutate(op string) error {
	p.mu.Lock()
	p.calls = append(p.calls, op)
	err := p.mutErr
	after := p.afterMutate
	p.mu.Unlock()
	if err == nil && after != nil {
		after(p)
	}
	return err
}

func (p *mockProvider) UpdateStatus(ctx context.Context, u queue.StatusUpdate) (*queue.Entry, error) {
	p.mu.Lock()
	p.updates = append(p.updates, u)
	p.mu.Unlock()
	if err := p.mutate("status"); err != nil {
		return nil, err
	}
	return &queue.Entry{QueueID: u.QueueID, Status: u.Status, DoctorID: u.DoctorID, CheckupStatus: u.CheckupStatus}, nil
}

func (p *mockProvider) Skip(ctx context.Context, queueID int64, positions int) error {
	p.mu.Lock()
	p.skips = append(p.skips, positions)
	p.mu.Unlock()
	return p.mutate("skip")
}

func (p *mockProvider) Prioritize(ctx context.Context, queueID int64) error {
	return p.mutate("prioritize")
}

func (p *mockProvider) SendToEmergency(ctx context.Context, queueID int64) error {
	return p.mutate("send_to_emergency")
}

func (p *mockProvider) StartQueue(ctx context.Context) ([]queue.Entry, error) {
	if err := p.mutate("start"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started, nil
}

func (p *mockProvider) UpdateEmergencyStatuses(ctx context.Context) error {
	return p.mutate("refresh_emergency")
}

func (p *mockProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type mockNotifier struct {
	mu      sync.Mutex
	signals []queue.Signal
}

func (n *mockNotifier) Notify(ctx context.Context, s queue.Signal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.signals = append(n.signals, s)
	return nil
}

func (n *mockNotifier) kinds() []queue.SignalKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []queue.SignalKind
	for _, s := range n.signals {
		out = append(out, s.Kind)
	}
	return out
}

type mockSession struct {
	calls atomic.Int32
}

func (s *mockSession) OnUnauthorized(err error) {
	s.calls.Add(1)
}

// mockTicker is a manually driven Ticker.
type mockTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func newMockTicker() *mockTicker {
	return &mockTicker{ch: make(chan time.Time)}
}

func (t *mockTicker) Channel() <-chan time.Time { return t.ch }
func (t *mockTicker) Stop()                     { t.stopped.Store(true) }
func (t *mockTicker) Tick()                     { t.ch <- time.Now() }

type fixture struct {
	provider *mockProvider
	notifier *mockNotifier
	session  *mockSession
	sync     *Synchronizer
}

func newFixture() *fixture {
	p := newMockProvider()
	n := &mockNotifier{}
	s := &mockSession{}
	logger := zerolog.Nop()
	syncer := NewSynchronizer(p, NewProfileCache(p, 4, time.Second, logger), Options{
		RequestTimeout: time.Second,
		Notifier:       n,
		Session:        s,
		Logger:         logger,
	})
	return &fixture{provider: p, notifier: n, session: s, sync: syncer}
}

func (f *fixture) mustSync(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := f.sync.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
	return snap
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func entry(id int64, number int, status queue.Status) queue.Entry {
	return queue.Entry{
		QueueID:     id,
		PatientID:   id,
		UserID:      id * 100,
		PatientName: "Patient",
		QueueNumber: number,
		Status:      status,
	}
}

func busy(id int64, number int, doctorID int64) queue.Entry {
	e := entry(id, number, queue.StatusInProgress)
	e.DoctorID = &doctorID
	return e
}

func completed(id int64, number int) queue.Entry {
	e := entry(id, number, queue.StatusCompleted)
	done := queue.CheckupCompleted
	e.CheckupStatus = &done
	return e
}

func doctor(id int64) queue.Doctor {
	return queue.Doctor{DoctorID: id, FirstName: "Doc", LastName: "Tor"}
}
