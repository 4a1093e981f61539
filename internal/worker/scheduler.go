// internal/worker/scheduler.go
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gps2rest/internal/config"
	"gps2rest/internal/location"
	"gps2rest/internal/metrics"
	"gps2rest/internal/model"
	"gps2rest/internal/privacy"
	"gps2rest/internal/queue"
	"gps2rest/internal/statuslog"

	zlog "github.com/rs/zerolog/log"
)

// Sender 는 *dispatch.Dispatcher.
type Sender interface {
	Send(ctx context.Context, c model.Coordinate, isRetry bool) model.Outcome
}

type NetworkMonitor interface {
	Available(ctx context.Context) bool
}

// Spooler 는 재시작 사이에 Offline Queue 를 보존한다 (*Spool).
type Spooler interface {
	Save(coords []model.Coordinate) error
	Restore() ([]model.Coordinate, error)
}

// DisplacementObserver 는 privacy 변환 거리를 관측한다 (*metrics.Exporter).
type DisplacementObserver interface {
	ObserveDisplacement(meters float64)
}

type Options struct {
	Store       config.Store
	Sender      Sender
	Network     NetworkMonitor
	Queue       *queue.Offline
	Status      *statuslog.Log
	Metrics     *metrics.Metrics
	Transformer *privacy.Transformer

	// 선택
	Spool    Spooler
	Observer DisplacementObserver

	RetryInterval time.Duration // 기본 60s
	RetryPacing   time.Duration // 기본 1s
	SendTimeout   time.Duration // 기본 35s (client timeout 보다 약간 길게)
}

// Scheduler
// ------------------------------------------------------------
// telemetry 파이프라인의 두 루프를 관리한다.
//
//   - sampleLoop: 위치 → privacy 변환 → Send(first attempt) → interval 대기
//     interval 과 정책은 매 cycle 새로 읽는다. cycle 은 겹치지 않는다.
//   - retryLoop: 시작 직후, 이후 RetryInterval 마다
//     큐가 비어 있지 않고 네트워크가 있으면 큐 전체를 꺼내 RetryPacing 간격으로 재전송
//
// 전송은 취소와 분리된 ctx 로 실행한다. Stop 은 진행 중인 요청을 끊지 않고
// 두 루프가 끝날 때까지 기다린다.
type Scheduler struct {
	opts Options

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(opts Options) *Scheduler {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 60 * time.Second
	}
	if opts.RetryPacing <= 0 {
		opts.RetryPacing = time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 35 * time.Second
	}
	if opts.Transformer == nil {
		opts.Transformer = privacy.NewTransformer()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Scheduler{opts: opts}
}

// Start returns false if the scheduler is already running.
func (s *Scheduler) Start(src location.Source) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}

	s.opts.Status.Add("Starting GPS service...")
	s.restore()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(2)
	go s.sampleLoop(ctx, src)
	go s.retryLoop(ctx)

	return true
}

// Stop 은 멱등. 두 루프 종료를 기다린 뒤 큐를 spool 에 저장한다.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.persist()

	s.running = false
	s.opts.Status.Add("GPS service stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ------------------------------------------------------------
// sample loop
// ------------------------------------------------------------

func (s *Scheduler) sampleLoop(ctx context.Context, src location.Source) {
	defer s.wg.Done()

	for {
		s.cycle(ctx, src)

		timer := time.NewTimer(s.opts.Store.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cycle 안의 panic 은 여기서 끝난다. 루프는 다음 interval 에 계속 돈다.
func (s *Scheduler) cycle(ctx context.Context, src location.Source) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Inc(&s.opts.Metrics.SampleErrorsTotal)
			s.opts.Status.Add(fmt.Sprintf("Error: %v", r))
			zlog.Error().Interface("panic", r).Msg("sample cycle failed")
		}
	}()

	metrics.Inc(&s.opts.Metrics.SamplesTotal)

	raw, ok := src.Current(ctx)
	if !ok {
		metrics.Inc(&s.opts.Metrics.LocationUnavailableTotal)
		s.opts.Status.Add("Location unavailable")
		return
	}

	policy := s.opts.Store.Policy()
	c := s.opts.Transformer.Apply(raw, policy)

	if s.opts.Observer != nil && policy.Mode != privacy.ModeOriginal {
		s.opts.Observer.ObserveDisplacement(privacy.Distance(raw, c))
	}

	s.send(ctx, c, false)
}

// send 는 Stop 으로 요청이 끊기지 않도록 취소를 떼어낸 ctx 를 쓴다.
func (s *Scheduler) send(ctx context.Context, c model.Coordinate, isRetry bool) model.Outcome {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.SendTimeout)
	defer cancel()
	return s.opts.Sender.Send(sendCtx, c, isRetry)
}

// ------------------------------------------------------------
// retry loop
// ------------------------------------------------------------

func (s *Scheduler) retryLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.RetryInterval)
	defer ticker.Stop()

	for {
		s.retryPass(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// retryPass
//
// 큐 전체를 스냅샷으로 꺼내 순서대로 재전송한다.
//   - 재전송 실패는 다음 tick 에 다시 시도하도록 큐에 되돌린다
//     (dispatcher 가 이미 큐에 넣었거나 버린 경우는 제외)
//   - 중간에 취소되면 아직 보내지 않은 나머지를 되돌린다
func (s *Scheduler) retryPass(ctx context.Context) {
	var remaining []model.Coordinate

	defer func() {
		if r := recover(); r != nil {
			s.requeue(remaining)
			s.opts.Status.Add(fmt.Sprintf("Retry error: %v", r))
			zlog.Error().Interface("panic", r).Msg("retry pass failed")
		}
	}()

	if ctx.Err() != nil || s.opts.Queue.Len() == 0 {
		return
	}
	if s.opts.Network != nil && !s.opts.Network.Available(ctx) {
		return
	}

	remaining = s.opts.Queue.Drain()
	if len(remaining) == 0 {
		return
	}
	s.opts.Status.Add(fmt.Sprintf("Retrying %d offline locations...", len(remaining)))

	for len(remaining) > 0 {
		c := remaining[0]
		out := s.send(ctx, c, true)
		remaining = remaining[1:]

		if out.Retryable() && !out.Queued && !out.Dropped {
			s.requeue([]model.Coordinate{c})
		}

		if len(remaining) == 0 {
			break
		}

		timer := time.NewTimer(s.opts.RetryPacing)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.requeue(remaining)
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) requeue(coords []model.Coordinate) {
	for _, c := range coords {
		if _, ok := s.opts.Queue.Offer(c); ok {
			metrics.Inc(&s.opts.Metrics.RequeuedTotal)
			continue
		}
		metrics.Inc(&s.opts.Metrics.DroppedTotal)
		s.opts.Status.Add("⚠ Retry failed, queue full, dropping")
	}
}

// ------------------------------------------------------------
// spool
// ------------------------------------------------------------

func (s *Scheduler) restore() {
	if s.opts.Spool == nil {
		return
	}

	coords, err := s.opts.Spool.Restore()
	if err != nil {
		zlog.Error().Err(err).Msg("restore spool")
		return
	}

	restored := 0
	for _, c := range coords {
		if _, ok := s.opts.Queue.Offer(c); !ok {
			metrics.Inc(&s.opts.Metrics.DroppedTotal)
			continue
		}
		restored++
	}
	if restored > 0 {
		metrics.Add(&s.opts.Metrics.SpoolRestoredTotal, int64(restored))
		metrics.Add(&s.opts.Metrics.QueuedTotal, int64(restored))
		s.opts.Status.Add(fmt.Sprintf("Restored %d offline locations", restored))
	}
}

// persist 는 저장에 실패하면 좌표를 큐에 되돌린다 (프로세스가 계속 살아 있는 경우 대비).
func (s *Scheduler) persist() {
	if s.opts.Spool == nil {
		return
	}

	coords := s.opts.Queue.Drain()
	if len(coords) == 0 {
		return
	}
	if err := s.opts.Spool.Save(coords); err != nil {
		zlog.Error().Err(err).Int("coordinates", len(coords)).Msg("spool offline queue")
		for _, c := range coords {
			s.opts.Queue.Offer(c)
		}
	}
}
