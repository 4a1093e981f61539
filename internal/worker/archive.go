// internal/worker/archive.go
package worker

import (
	"context"
	"sync"
	"time"

	"gps2rest/internal/metrics"
	"gps2rest/internal/model"

	zlog "github.com/rs/zerolog/log"
)

// uploader 는 *S3Uploader.
type uploader interface {
	UploadBytesWithRetryCtx(ctx context.Context, key string, body []byte) error
}

type ArchiveOptions struct {
	InstanceID    string
	Prefix        string
	BatchSize     int
	FlushInterval time.Duration
	ChannelSize   int
}

// Archive
// ------------------------------------------------------------
// 전송에 성공한 좌표를 모아 S3 에 gzip+JSONL 로 남기는 track archive.
//
//   - Record: dispatcher 가 호출, 채널이 가득 차면 버린다 (전송 경로를 막지 않음)
//   - collectLoop: BatchSize 또는 FlushInterval 마다 배치를 uploadCh 로
//   - uploadLoop: 인코딩 + 업로드, 실패하면 배치를 버리고 카운트
//
// Shutdown 은 입력 채널을 닫고 남은 배치까지 올린 뒤 돌아온다.
type Archive struct {
	opts     ArchiveOptions
	metrics  *metrics.Metrics
	uploader uploader
	encoder  *Encoder

	inCh     chan model.Coordinate
	uploadCh chan []model.Coordinate

	mu     sync.RWMutex
	closed bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewArchive(opts ArchiveOptions, up uploader, m *metrics.Metrics) *Archive {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Minute
	}
	if opts.ChannelSize <= 0 {
		opts.ChannelSize = opts.BatchSize * 2
	}
	if m == nil {
		m = metrics.New()
	}

	return &Archive{
		opts:     opts,
		metrics:  m,
		uploader: up,
		encoder:  NewEncoder(),
		inCh:     make(chan model.Coordinate, opts.ChannelSize),
		uploadCh: make(chan []model.Coordinate, 4),
	}
}

func (a *Archive) Start() {
	a.wg.Add(2)
	go a.collectLoop()
	go a.uploadLoop()
}

// Record queues c for archiving without blocking.
func (a *Archive) Record(c model.Coordinate) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		metrics.Inc(&a.metrics.ArchiveDroppedTotal)
		return
	}
	select {
	case a.inCh <- c:
	default:
		metrics.Inc(&a.metrics.ArchiveDroppedTotal)
	}
}

func (a *Archive) Shutdown() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.inCh)
		a.mu.Unlock()
	})
	a.wg.Wait()
}

// collectLoop 는 flush 마다 새 slice 를 만든다 (uploadLoop 가 이전 slice 를 쓰는 중).
func (a *Archive) collectLoop() {
	defer a.wg.Done()
	defer close(a.uploadCh)

	batch := make([]model.Coordinate, 0, a.opts.BatchSize)
	timer := time.NewTimer(a.opts.FlushInterval)
	defer timer.Stop()

	reset := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(a.opts.FlushInterval)
	}

	flush := func() {
		if len(batch) == 0 {
			return
		}
		a.uploadCh <- batch
		batch = make([]model.Coordinate, 0, a.opts.BatchSize)
	}

	for {
		select {
		case c, ok := <-a.inCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, c)
			if len(batch) >= a.opts.BatchSize {
				flush()
				reset()
			}

		case <-timer.C:
			flush()
			timer.Reset(a.opts.FlushInterval)
		}
	}
}

func (a *Archive) uploadLoop() {
	defer a.wg.Done()

	for batch := range a.uploadCh {
		a.upload(batch)
	}
	zlog.Info().Msg("archive uploader exiting")
}

// upload 는 재시도/timeout 이 uploader 안에서 제한되므로 취소되지 않는 ctx 를 쓴다.
// 종료 중에도 마지막 배치를 올리기 위함.
func (a *Archive) upload(batch []model.Coordinate) {
	data, err := a.encoder.EncodeBatchJSONLGZ(batch)
	if err != nil {
		zlog.Error().Err(err).Int("coordinates", len(batch)).Msg("archive encode failed")
		metrics.Add(&a.metrics.ArchiveDroppedTotal, int64(len(batch)))
		return
	}

	key := BuildS3Key(a.opts.Prefix, a.opts.InstanceID, NewFilename(a.opts.InstanceID))
	if err := a.uploader.UploadBytesWithRetryCtx(context.Background(), key, data); err != nil {
		zlog.Warn().Err(err).Str("key", key).Int("coordinates", len(batch)).Msg("archive upload failed, dropping batch")
		metrics.Add(&a.metrics.ArchiveDroppedTotal, int64(len(batch)))
		return
	}

	metrics.Add(&a.metrics.ArchiveStoredTotal, int64(len(batch)))
	zlog.Debug().Str("key", key).Int("coordinates", len(batch)).Msg("archive batch stored")
}
