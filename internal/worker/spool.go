// internal/worker/spool.go
package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gps2rest/internal/metrics"
	"gps2rest/internal/model"

	json "github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"
)

const metaSuffix = ".meta.json"

type SpoolOptions struct {
	Dir        string
	InstanceID string
	MaxAge     time.Duration // 0 = 무제한
	MaxBytes   int64         // 0 = 무제한
}

type spoolMeta struct {
	NumCoordinates int   `json:"num_coordinates"`
	SavedAt        int64 `json:"saved_at"`
}

// Spool
// ------------------------------------------------------------
// Offline Queue 를 재시작 사이에 보존하는 로컬 디스크 저장소.
//   - Stop 시 큐 내용을 gzip+JSONL 파일 하나로 저장 (+ .meta.json)
//   - Start 시 오래된 파일부터 읽어 큐에 되돌리고 파일은 삭제
//   - TTL(MaxAge) 을 넘긴 파일은 복원하지 않고 삭제
//   - MaxBytes 를 넘기면 가장 오래된 파일부터 지운다
//
// TTL 판단은 파일명 prefix 의 Unix timestamp 기준.
type Spool struct {
	opts    SpoolOptions
	metrics *metrics.Metrics
	encoder *Encoder

	mu        sync.Mutex
	sizeBytes int64
}

// NewSpool 은 디렉토리를 만들고 기존 파일을 스캔해 크기/개수 지표를 복원한다.
// data 없이 남은 meta 파일은 정리한다.
func NewSpool(opts SpoolOptions, m *metrics.Metrics) (*Spool, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("spool dir is empty")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	if m == nil {
		m = metrics.New()
	}

	s := &Spool{opts: opts, metrics: m, encoder: NewEncoder()}

	entries, err := os.ReadDir(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("scan spool dir: %w", err)
	}

	var total, count int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()

		if strings.HasSuffix(name, metaSuffix) {
			dataName := strings.TrimSuffix(name, metaSuffix)
			if _, err := os.Stat(filepath.Join(opts.Dir, dataName)); os.IsNotExist(err) {
				_ = os.Remove(filepath.Join(opts.Dir, name))
			}
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
			count++
		}
	}

	s.sizeBytes = total
	atomic.StoreInt64(&m.SpoolSizeBytes, total)
	atomic.StoreInt64(&m.SpoolFilesCurrent, count)

	return s, nil
}

// Save writes coords as one spool file. An empty slice is a no-op.
func (s *Spool) Save(coords []model.Coordinate) error {
	if len(coords) == 0 {
		return nil
	}

	data, err := s.encoder.EncodeBatchJSONLGZ(coords)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	size := int64(len(data))
	if !s.ensureCapacity(size) {
		zlog.Error().Int64("bytes", size).Int("coordinates", len(coords)).Msg("spool full, dropping")
		metrics.Add(&s.metrics.SpoolDroppedTotal, int64(len(coords)))
		return nil
	}

	name := NewFilename(s.opts.InstanceID)
	dataPath := filepath.Join(s.opts.Dir, name)

	// 쓰다가 죽으면 .tmp 만 남고 복원 대상에서 빠진다
	tmp := filepath.Join(s.opts.Dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write spool file: %w", err)
	}
	if err := os.Rename(tmp, dataPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit spool file: %w", err)
	}

	meta, _ := json.Marshal(spoolMeta{NumCoordinates: len(coords), SavedAt: Unix()})
	_ = os.WriteFile(dataPath+metaSuffix, meta, 0o600)

	s.sizeBytes += size
	atomic.AddInt64(&s.metrics.SpoolSizeBytes, size)
	atomic.AddInt64(&s.metrics.SpoolFilesCurrent, 1)
	metrics.Add(&s.metrics.SpoolSavedTotal, int64(len(coords)))

	zlog.Info().Str("file", name).Int("coordinates", len(coords)).Msg("queue spooled")
	return nil
}

// Restore
//
// 모든 spool 파일을 오래된 순으로 읽어 좌표를 돌려주고 파일을 지운다.
// 읽지 못한 파일은 지우지 않고 남겨 둔다 (다음 기동 때 다시 시도).
func (s *Spool) Restore() ([]model.Coordinate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Coordinate
	for _, name := range s.listData() {
		dataPath := filepath.Join(s.opts.Dir, name)

		info, err := os.Stat(dataPath)
		if err != nil {
			continue
		}
		size := info.Size()

		if s.expired(name) {
			s.remove(name, size)
			metrics.Inc(&s.metrics.SpoolFilesExpiredTotal)
			zlog.Info().Str("file", name).Msg("spool file expired")
			continue
		}

		f, err := os.Open(dataPath)
		if err != nil {
			zlog.Warn().Err(err).Str("file", name).Msg("open spool file")
			continue
		}
		coords, skipped, err := s.encoder.DecodeBatchJSONLGZ(f)
		f.Close()
		if err != nil {
			zlog.Warn().Err(err).Str("file", name).Msg("decode spool file")
			continue
		}
		if skipped > 0 {
			zlog.Warn().Str("file", name).Int("skipped", skipped).Msg("spool file had unreadable lines")
		}

		out = append(out, coords...)
		s.remove(name, size)
	}

	return out, nil
}

func (s *Spool) expired(name string) bool {
	if s.opts.MaxAge <= 0 {
		return false
	}
	sec, ok := extractUnixFromFilename(name)
	if !ok {
		return false
	}
	return time.Duration(Unix()-sec)*time.Second > s.opts.MaxAge
}

// ensureCapacity 는 MaxBytes 를 넘지 않도록 가장 오래된 파일부터 삭제한다.
// 지울 파일이 없으면 false. s.mu 를 잡은 상태에서 호출.
func (s *Spool) ensureCapacity(incoming int64) bool {
	max := s.opts.MaxBytes
	if max <= 0 {
		return true
	}
	if incoming > max {
		return false
	}

	for s.sizeBytes+incoming > max {
		files := s.listData()
		if len(files) == 0 {
			return false
		}
		oldest := files[0]

		var size int64
		if info, err := os.Stat(filepath.Join(s.opts.Dir, oldest)); err == nil {
			size = info.Size()
		}
		s.remove(oldest, size)
		metrics.Inc(&s.metrics.SpoolFilesExpiredTotal)

		zlog.Warn().Str("file", oldest).Msg("spool capacity, removed oldest file")
	}
	return true
}

func (s *Spool) remove(name string, size int64) {
	dataPath := filepath.Join(s.opts.Dir, name)
	_ = os.Remove(dataPath)
	_ = os.Remove(dataPath + metaSuffix)

	s.sizeBytes -= size
	if s.sizeBytes < 0 {
		s.sizeBytes = 0
	}
	atomic.AddInt64(&s.metrics.SpoolSizeBytes, -size)
	atomic.AddInt64(&s.metrics.SpoolFilesCurrent, -1)
}

// listData 는 data 파일명만 정렬해서 돌려준다 (문자열 정렬 = 시간 정렬).
func (s *Spool) listData() []string {
	entries, err := os.ReadDir(s.opts.Dir)
	if err != nil {
		return nil
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "" || name[0] == '.' || strings.HasSuffix(name, metaSuffix) {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files
}
