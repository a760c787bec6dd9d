package monitoring

import (
	"context"
	"errors"
	"sync"
	"time"

	"carewatch/internal/types"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time {
	return testNow.Add(-time.Duration(n) * 24 * time.Hour)
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func sessions(statuses ...types.SessionStatus) []types.SessionRecord {
	out := make([]types.SessionRecord, len(statuses))
	for i, s := range statuses {
		out[i] = types.SessionRecord{ScheduledAt: daysAgo(7 * (len(statuses) - i)), Status: s}
	}
	return out
}

// --- patient source ---

type fakePatients struct {
	mu       sync.Mutex
	patients []types.Patient
	records  map[string]types.PatientRecords
	listErr  error
	fetchErr map[string]error
	panicOn  map[string]bool

	// barrier, when set, blocks each fetch until released.
	barrier     chan struct{}
	inFlight    int
	maxInFlight int
	calls       int
	sinceSeen   time.Time
	asOfSeen    time.Time
}

func (f *fakePatients) ListActive(ctx context.Context) ([]types.Patient, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.patients, nil
}

func (f *fakePatients) GetRecentRecords(ctx context.Context, patientID string, since, asOf time.Time) (types.PatientRecords, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.sinceSeen = since
	f.asOfSeen = asOf
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.barrier != nil {
		select {
		case <-f.barrier:
		case <-ctx.Done():
			return types.PatientRecords{}, ctx.Err()
		}
	}
	if f.panicOn[patientID] {
		panic("corrupt record for " + patientID)
	}
	if err := f.fetchErr[patientID]; err != nil {
		return types.PatientRecords{}, err
	}
	return f.records[patientID], nil
}

// --- settings source ---

type fakeSettings struct {
	overrides *types.ThresholdOverrides
	err       error
}

func (f *fakeSettings) GetMonitoringSettings(ctx context.Context) (*types.ThresholdOverrides, error) {
	return f.overrides, f.err
}

// --- case store ---

// memCaseStore is an in-memory CaseStore with the same one-open-case
// guarantee as the partial unique index.
type memCaseStore struct {
	mu    sync.Mutex
	cases map[string]*types.CriticalCase

	findErr   error
	insertErr error
	// beforeInsert runs under no lock before each insert; tests use it to
	// simulate a concurrent writer.
	beforeInsert func(patientID string)
	inserts      int
}

func newMemCaseStore() *memCaseStore {
	return &memCaseStore{cases: make(map[string]*types.CriticalCase)}
}

func (s *memCaseStore) FindOpenByPatient(ctx context.Context, patientID string) (*types.CriticalCase, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[patientID]
	if !ok || c.Status != types.CaseStatusOpen {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *memCaseStore) InsertOpen(ctx context.Context, c *types.CriticalCase) (bool, error) {
	if s.insertErr != nil {
		return false, s.insertErr
	}
	if s.beforeInsert != nil {
		s.beforeInsert(c.PatientID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if existing, ok := s.cases[c.PatientID]; ok && existing.Status == types.CaseStatusOpen {
		return false, nil
	}
	c.Status = types.CaseStatusOpen
	cp := *c
	s.cases[c.PatientID] = &cp
	return true, nil
}

func (s *memCaseStore) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.cases {
		if c.Status == types.CaseStatusOpen {
			n++
		}
	}
	return n
}

// --- alert channel ---

type fakeChannel struct {
	mu   sync.Mutex
	name types.ChannelType
	err  error
	sent []types.AlertNotification
}

func (c *fakeChannel) Name() types.ChannelType { return c.name }

func (c *fakeChannel) Send(ctx context.Context, n types.AlertNotification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, n)
	return nil
}

// --- metrics ---

type fakeMetrics struct {
	mu        sync.Mutex
	completed []*types.RunSummary
	failed    []types.RunState
	alerts    map[types.ChannelType][2]int
}

func (m *fakeMetrics) RunCompleted(ctx context.Context, s *types.RunSummary, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, s)
}

func (m *fakeMetrics) RunFailed(ctx context.Context, stage types.RunState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, stage)
}

func (m *fakeMetrics) AlertSent(ch types.ChannelType, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alerts == nil {
		m.alerts = make(map[types.ChannelType][2]int)
	}
	counts := m.alerts[ch]
	if ok {
		counts[0]++
	} else {
		counts[1]++
	}
	m.alerts[ch] = counts
}

// --- run recorder ---

type fakeRecorder struct {
	startErr  error
	finishErr error
	started   []string
	finished  []string
	items     int
	lastErr   error
}

func (r *fakeRecorder) Start(ctx context.Context, trigger string) (int64, error) {
	if r.startErr != nil {
		return 0, r.startErr
	}
	r.started = append(r.started, trigger)
	return int64(len(r.started)), nil
}

func (r *fakeRecorder) Finish(ctx context.Context, id int64, status string, items int, runErr error) error {
	r.finished = append(r.finished, status)
	r.items = items
	r.lastErr = runErr
	return r.finishErr
}

var errDBDown = errors.New("connection refused")
