package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gps2rest/internal/config"
	"gps2rest/internal/dispatch"
	"gps2rest/internal/location"
	"gps2rest/internal/metrics"
	"gps2rest/internal/model"
	"gps2rest/internal/privacy"
	"gps2rest/internal/queue"
	"gps2rest/internal/statuslog"
)

// testStore 는 밀리초 단위 interval 을 허용하는 Store.
type testStore struct {
	mu       sync.Mutex
	base     string
	interval time.Duration
	policy   privacy.Policy
}

func (s *testStore) BaseURL() string { s.mu.Lock(); defer s.mu.Unlock(); return s.base }
func (s *testStore) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}
func (s *testStore) Policy() privacy.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}
func (s *testStore) SigningEnabled() bool { return false }

func (s *testStore) setInterval(d time.Duration) {
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

func (s *testStore) setPolicy(p privacy.Policy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

type online bool

func (o online) Available(context.Context) bool { return bool(o) }

type call struct {
	c          model.Coordinate
	isRetry    bool
	ctxErr     error
	start, end time.Time
}

type fakeSender struct {
	mu      sync.Mutex
	calls   []call
	outcome func(c model.Coordinate, isRetry bool) model.Outcome
	sent    chan struct{}
	delay   time.Duration

	inflight, maxInflight int
}

func (f *fakeSender) Send(ctx context.Context, c model.Coordinate, isRetry bool) model.Outcome {
	start := time.Now()
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	out := model.Outcome{Kind: model.OutcomeSent, StatusCode: 200}
	if f.outcome != nil {
		out = f.outcome(c, isRetry)
	}

	f.mu.Lock()
	f.inflight--
	f.calls = append(f.calls, call{c: c, isRetry: isRetry, ctxErr: ctx.Err(), start: start, end: time.Now()})
	f.mu.Unlock()
	if f.sent != nil {
		select {
		case f.sent <- struct{}{}:
		default:
		}
	}
	return out
}

func (f *fakeSender) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type memSpool struct {
	mu    sync.Mutex
	saved []model.Coordinate
}

func (m *memSpool) Save(c []model.Coordinate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, c...)
	return nil
}

func (m *memSpool) Restore() ([]model.Coordinate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.saved
	m.saved = nil
	return out, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func hasLine(lines []statuslog.Entry, substr string) bool {
	for _, l := range lines {
		if strings.Contains(l.Message, substr) {
			return true
		}
	}
	return false
}

func newTestScheduler(store config.Store, sender Sender, q *queue.Offline, status *statuslog.Log) *Scheduler {
	return NewScheduler(Options{
		Store:         store,
		Sender:        sender,
		Network:       online(true),
		Queue:         q,
		Status:        status,
		Metrics:       metrics.New(),
		Transformer:   privacy.NewSeededTransformer(1, 2),
		RetryInterval: time.Hour,
		RetryPacing:   time.Millisecond,
	})
}

var here = location.Static{Latitude: 37.4229, Longitude: -122.0841}

func TestScheduler_StartStopLifecycle(t *testing.T) {
	status := statuslog.New(5, nil)
	s := newTestScheduler(&testStore{interval: time.Hour}, &fakeSender{}, queue.New(10), status)

	if !s.Start(here) {
		t.Fatal("first Start should succeed")
	}
	if s.Start(here) {
		t.Fatal("second Start should report already running")
	}
	if !s.Running() {
		t.Fatal("Running = false")
	}

	s.Stop()
	s.Stop()

	if s.Running() {
		t.Fatal("Running after Stop")
	}
	lines := status.Snapshot()
	if lines[0].Message != "Starting GPS service..." || lines[len(lines)-1].Message != "GPS service stopped" {
		t.Fatalf("lines = %v", status.Lines())
	}

	// 재시작 가능
	if !s.Start(here) {
		t.Fatal("restart failed")
	}
	s.Stop()
}

func TestScheduler_SampleLoopAppliesCurrentPolicy(t *testing.T) {
	store := &testStore{interval: 5 * time.Millisecond, policy: privacy.Truncate(3)}
	sender := &fakeSender{}
	s := newTestScheduler(store, sender, queue.New(10), statuslog.New(5, nil))

	s.Start(here)
	waitFor(t, "first send", func() bool { return len(sender.snapshot()) >= 1 })

	first := sender.snapshot()[0]
	if first.isRetry || first.c.Latitude != 37.422 || first.c.Longitude != -122.085 {
		t.Fatalf("first send = %+v", first)
	}

	store.setPolicy(privacy.Truncate(1))
	waitFor(t, "policy change", func() bool {
		calls := sender.snapshot()
		return calls[len(calls)-1].c.Latitude == 37.4
	})
	s.Stop()
}

func TestScheduler_IntervalChangeAppliesNextCycle(t *testing.T) {
	store := &testStore{interval: 5 * time.Millisecond}
	sender := &fakeSender{}
	s := newTestScheduler(store, sender, queue.New(10), statuslog.New(5, nil))

	s.Start(here)
	waitFor(t, "fast sends", func() bool { return len(sender.snapshot()) >= 3 })

	const slow = 150 * time.Millisecond
	store.setInterval(slow)
	mark := len(sender.snapshot())
	waitFor(t, "slow sends", func() bool { return len(sender.snapshot()) >= mark+3 })
	s.Stop()

	// mark 이후의 send 는 모두 변경 뒤에 끝났으므로 다음 대기는 새 interval 이다
	calls := sender.snapshot()
	for i := mark + 1; i < len(calls); i++ {
		if gap := calls[i].start.Sub(calls[i-1].end); gap < slow-10*time.Millisecond {
			t.Fatalf("gap %d = %v, want >= %v", i, gap, slow)
		}
	}
}

func TestScheduler_SampleCyclesNeverOverlap(t *testing.T) {
	const interval = 20 * time.Millisecond
	sender := &fakeSender{delay: 30 * time.Millisecond}
	s := newTestScheduler(&testStore{interval: interval}, sender, queue.New(10), statuslog.New(5, nil))

	s.Start(here)
	waitFor(t, "several sends", func() bool { return len(sender.snapshot()) >= 4 })
	s.Stop()

	sender.mu.Lock()
	maxInflight := sender.maxInflight
	sender.mu.Unlock()
	if maxInflight != 1 {
		t.Fatalf("max concurrent sends = %d, want 1", maxInflight)
	}

	// 대기는 이전 cycle 이 끝난 뒤부터 센다
	calls := sender.snapshot()
	for i := 1; i < len(calls); i++ {
		if gap := calls[i].start.Sub(calls[i-1].end); gap < interval-5*time.Millisecond {
			t.Fatalf("cycle %d started %v after previous ended, want >= %v", i, gap, interval)
		}
	}
}

func TestScheduler_LocationUnavailable(t *testing.T) {
	status := statuslog.New(5, nil)
	sender := &fakeSender{}
	src := location.Func(func(context.Context) (model.Coordinate, bool) { return model.Coordinate{}, false })

	s := newTestScheduler(&testStore{interval: time.Hour}, sender, queue.New(10), status)
	s.Start(src)
	waitFor(t, "unavailable status", func() bool { return hasLine(status.Snapshot(), "Location unavailable") })
	s.Stop()

	if n := len(sender.snapshot()); n != 0 {
		t.Fatalf("sends = %d, want 0", n)
	}
}

func TestScheduler_PanicInCycleIsRecovered(t *testing.T) {
	status := statuslog.New(5, nil)
	sender := &fakeSender{}
	var mu sync.Mutex
	calls := 0
	src := location.Func(func(context.Context) (model.Coordinate, bool) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			panic("gps exploded")
		}
		return model.Coordinate{Latitude: 1, Longitude: 2}, true
	})

	s := newTestScheduler(&testStore{interval: 5 * time.Millisecond}, sender, queue.New(10), status)
	s.Start(src)
	waitFor(t, "send after panic", func() bool { return len(sender.snapshot()) >= 1 })
	s.Stop()

	if !hasLine(status.Snapshot(), "Error: gps exploded") {
		t.Fatalf("panic not reported: %v", status.Lines())
	}
}

func TestScheduler_RetryTickDeliversQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	store := &testStore{base: srv.URL + "/api/v1/gps", interval: time.Hour}
	q := queue.New(100)
	status := statuslog.New(statuslog.DefaultCapacity, nil)
	d := dispatch.New(dispatch.Options{
		Store:   store,
		Network: online(true),
		Router:  dispatch.NewRouter(nil, nil, srv.Client(), nil),
		Queue:   q,
		Status:  status,
	})

	q.Offer(model.Coordinate{Latitude: 1, Longitude: 1})
	q.Offer(model.Coordinate{Latitude: 2, Longitude: 2})

	s := newTestScheduler(store, d, q, status)
	src := location.Func(func(context.Context) (model.Coordinate, bool) { return model.Coordinate{}, false })
	s.Start(src)
	defer s.Stop()

	waitFor(t, "two retry successes", func() bool {
		n := 0
		for _, e := range status.Snapshot() {
			if strings.HasPrefix(e.Message, "Retry ✓") {
				n++
			}
		}
		return n == 2
	})
	if q.Len() != 0 {
		t.Fatalf("queue len = %d", q.Len())
	}
	if len(status.Snapshot()) > statuslog.DefaultCapacity {
		t.Fatal("status log exceeded capacity")
	}
}

func TestScheduler_RetryFailuresAreRequeued(t *testing.T) {
	q := queue.New(10)
	status := statuslog.New(5, nil)
	sender := &fakeSender{outcome: func(model.Coordinate, bool) model.Outcome {
		return model.Outcome{Kind: model.OutcomeServerError, StatusCode: 503}
	}}
	s := newTestScheduler(&testStore{interval: time.Hour}, sender, q, status)

	q.Offer(model.Coordinate{Latitude: 1})
	q.Offer(model.Coordinate{Latitude: 2})
	s.retryPass(context.Background())

	calls := sender.snapshot()
	if len(calls) != 2 || !calls[0].isRetry || !calls[1].isRetry {
		t.Fatalf("calls = %+v", calls)
	}
	got := q.Snapshot()
	if len(got) != 2 || got[0].Latitude != 1 || got[1].Latitude != 2 {
		t.Fatalf("queue = %+v", got)
	}
	if !hasLine(status.Snapshot(), "Retrying 2 offline locations...") {
		t.Fatalf("lines = %v", status.Lines())
	}
}

func TestScheduler_RetryDropWhenQueueFullIsReported(t *testing.T) {
	q := queue.New(1)
	status := statuslog.New(5, nil)
	sender := &fakeSender{outcome: func(model.Coordinate, bool) model.Outcome {
		// 전송 중 새 샘플이 큐를 채운다
		q.Offer(model.Coordinate{Latitude: 9})
		return model.Outcome{Kind: model.OutcomeServerError, StatusCode: 500}
	}}
	s := newTestScheduler(&testStore{interval: time.Hour}, sender, q, status)

	q.Offer(model.Coordinate{Latitude: 1})
	s.retryPass(context.Background())

	if !hasLine(status.Snapshot(), "⚠ Retry failed, queue full, dropping") {
		t.Fatalf("lines = %v", status.Lines())
	}
	if got := q.Snapshot(); len(got) != 1 || got[0].Latitude != 9 {
		t.Fatalf("queue = %+v", got)
	}
	if s.opts.Metrics.DroppedTotal != 1 {
		t.Fatalf("dropped = %d", s.opts.Metrics.DroppedTotal)
	}
}

func TestScheduler_RetryDoesNotDoubleQueue(t *testing.T) {
	q := queue.New(10)
	sender := &fakeSender{outcome: func(model.Coordinate, bool) model.Outcome {
		return model.Outcome{Kind: model.OutcomeNetworkError, Queued: true}
	}}
	s := newTestScheduler(&testStore{interval: time.Hour}, sender, q, statuslog.New(5, nil))

	q.Offer(model.Coordinate{Latitude: 1})
	s.retryPass(context.Background())

	if q.Len() != 0 {
		t.Fatalf("queue len = %d, dispatcher already queued", q.Len())
	}
}

func TestScheduler_RetrySkippedWhenOffline(t *testing.T) {
	q := queue.New(10)
	sender := &fakeSender{}
	s := newTestScheduler(&testStore{interval: time.Hour}, sender, q, statuslog.New(5, nil))
	s.opts.Network = online(false)

	q.Offer(model.Coordinate{Latitude: 1})
	s.retryPass(context.Background())

	if len(sender.snapshot()) != 0 || q.Len() != 1 {
		t.Fatal("retry should wait for network")
	}
}

func TestScheduler_StopMidPassRequeuesRemainder(t *testing.T) {
	q := queue.New(10)
	sender := &fakeSender{sent: make(chan struct{}, 1)}
	s := newTestScheduler(&testStore{interval: time.Hour}, sender, q, statuslog.New(5, nil))
	s.opts.RetryPacing = time.Hour

	for i := 1; i <= 3; i++ {
		q.Offer(model.Coordinate{Latitude: float64(i)})
	}

	src := location.Func(func(context.Context) (model.Coordinate, bool) { return model.Coordinate{}, false })
	s.Start(src)

	select {
	case <-sender.sent:
	case <-time.After(3 * time.Second):
		t.Fatal("retry pass never sent")
	}
	s.Stop()

	got := q.Snapshot()
	if len(got) != 2 || got[0].Latitude != 2 || got[1].Latitude != 3 {
		t.Fatalf("queue after stop = %+v", got)
	}
}

func TestScheduler_SendsSurviveStop(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	sender := &fakeSender{}
	sender.outcome = func(model.Coordinate, bool) model.Outcome {
		close(started)
		<-release
		return model.Outcome{Kind: model.OutcomeSent}
	}

	s := newTestScheduler(&testStore{interval: time.Hour}, sender, queue.New(10), statuslog.New(5, nil))
	s.Start(here)
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a send was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-stopped

	calls := sender.snapshot()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	if err := calls[0].ctxErr; err != nil {
		t.Fatalf("send context was cancelled by Stop: %v", err)
	}
}

func TestScheduler_SpoolRoundTrip(t *testing.T) {
	q := queue.New(10)
	status := statuslog.New(5, nil)
	sp := &memSpool{}
	s := newTestScheduler(&testStore{interval: time.Hour}, &fakeSender{}, q, status)
	s.opts.Spool = sp
	s.opts.Network = online(false)

	src := location.Func(func(context.Context) (model.Coordinate, bool) { return model.Coordinate{}, false })
	s.Start(src)
	q.Offer(model.Coordinate{Latitude: 5})
	q.Offer(model.Coordinate{Latitude: 6})
	s.Stop()

	if q.Len() != 0 || len(sp.saved) != 2 {
		t.Fatalf("queue=%d spooled=%d", q.Len(), len(sp.saved))
	}

	s.Start(src)
	defer s.Stop()
	if q.Len() != 2 {
		t.Fatalf("restored queue = %d", q.Len())
	}
	if !hasLine(status.Snapshot(), "Restored 2 offline locations") {
		t.Fatalf("lines = %v", status.Lines())
	}
}

func TestScheduler_ObservesDisplacement(t *testing.T) {
	obs := &displacementRecorder{}
	sender := &fakeSender{}
	s := newTestScheduler(&testStore{interval: time.Hour, policy: privacy.RandomNoise(500)}, sender, queue.New(10), statuslog.New(5, nil))
	s.opts.Observer = obs

	s.cycle(context.Background(), here)

	if len(obs.got) != 1 || obs.got[0] <= 0 {
		t.Fatalf("observed = %v", obs.got)
	}
}

type displacementRecorder struct{ got []float64 }

func (d *displacementRecorder) ObserveDisplacement(m float64) { d.got = append(d.got, m) }
