package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 agent 상태를 나타내는 카운터 모음이다.
// 모든 필드는 atomic 으로만 읽고 쓴다.
type Metrics struct {
	// ======================
	// 샘플링 지표
	// ======================

	// SamplesTotal
	// - sample loop 가 한 cycle 을 시작한 횟수.
	// - 위치를 못 얻은 cycle 도 포함한다.
	SamplesTotal int64

	// LocationUnavailableTotal
	// - 위치 소스가 fix 를 주지 못해 전송을 건너뛴 cycle 수.
	// - gpsd 가 죽었거나 fix 가 max age 보다 오래된 경우 증가한다.
	LocationUnavailableTotal int64

	// SampleErrorsTotal
	// - cycle 도중 panic 이 recover 된 횟수 ("Error: ..." 상태 메시지와 1:1).
	SampleErrorsTotal int64

	// ======================
	// 전송 지표
	// ======================

	// SentTotal / RetrySentTotal
	// - 2xx 응답을 받은 최초 전송 / 재전송 수.
	SentTotal      int64
	RetrySentTotal int64

	// ServerErrorsTotal
	// - non-2xx 응답 수 (최초 + 재전송).
	ServerErrorsTotal int64

	// NetworkErrorsTotal
	// - 네트워크 없음 또는 transport 오류 수.
	NetworkErrorsTotal int64

	// ConfigErrorsTotal
	// - 목적지 URL 이 잘못되어 호출 자체를 하지 않은 횟수.
	// - 이 값이 오르면 settings 의 url 을 확인해야 한다.
	ConfigErrorsTotal int64

	// UnsignedTotal
	// - 서명이 켜져 있지만 키가 없어 서명 없이 보낸 요청 수.
	UnsignedTotal int64

	// ======================
	// Offline Queue 지표
	// ======================

	// QueuedTotal
	// - Offline Queue 에 들어간 좌표 수 (dispatcher + retry 재적재 + spool 복원).
	QueuedTotal int64

	// DroppedTotal
	// - 큐가 가득 차서 버린 좌표 수. 0 이 아니면 데이터 손실이 시작된 것.
	DroppedTotal int64

	// RequeuedTotal
	// - retry pass 에서 실패하거나 중단되어 다시 큐에 넣은 좌표 수.
	RequeuedTotal int64

	// ======================
	// Spool (재시작 간 큐 보존) 지표
	// ======================

	// SpoolSavedTotal / SpoolRestoredTotal
	// - Stop 시 디스크에 쓴 좌표 수 / Start 시 다시 읽어 큐에 넣은 좌표 수.
	SpoolSavedTotal    int64
	SpoolRestoredTotal int64

	// SpoolDroppedTotal
	// - spool 용량 제한 때문에 저장하지 못한 좌표 수.
	SpoolDroppedTotal int64

	// SpoolFilesExpiredTotal
	// - TTL 또는 용량 정리로 삭제된 spool 파일 수.
	SpoolFilesExpiredTotal int64

	// SpoolFilesCurrent / SpoolSizeBytes
	// - 현재 spool 디렉토리의 파일 수 / 전체 크기 (gauge).
	SpoolFilesCurrent int64
	SpoolSizeBytes    int64

	// ======================
	// S3 track archive 지표
	// ======================

	// ArchiveStoredTotal
	// - S3 에 저장된 좌표 수 (배치 수가 아님).
	ArchiveStoredTotal int64

	// ArchivePutErrorsTotal
	// - PutObject 실패 시도 수. retry 마다 증가한다.
	ArchivePutErrorsTotal int64

	// ArchiveDroppedTotal
	// - archive 채널이 가득 차거나 업로드가 끝내 실패해 버린 좌표 수.
	ArchiveDroppedTotal int64
}

func New() *Metrics {
	return &Metrics{}
}

// Add 는 nil receiver 를 허용한다 (테스트에서 metrics 없이 쓰는 경우).
func Add(p *int64, n int64) {
	if p == nil {
		return
	}
	atomic.AddInt64(p, n)
}

func Inc(p *int64) {
	Add(p, 1)
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	for _, c := range m.counters() {
		fmt.Fprintf(&sb, "%s=%d\n", c.name, atomic.LoadInt64(c.value))
	}

	return sb.String()
}

type counter struct {
	name  string
	help  string
	value *int64
	gauge bool
}

// counters 는 String() 과 Prometheus exporter 가 같은 목록을 쓰도록 한 곳에 둔다.
func (m *Metrics) counters() []counter {
	return []counter{
		{"samples_total", "Sample cycles started.", &m.SamplesTotal, false},
		{"location_unavailable_total", "Cycles skipped because no location fix was available.", &m.LocationUnavailableTotal, false},
		{"sample_errors_total", "Sample cycles that failed with a recovered panic.", &m.SampleErrorsTotal, false},

		{"sent_total", "First-attempt deliveries answered with 2xx.", &m.SentTotal, false},
		{"retry_sent_total", "Retried deliveries answered with 2xx.", &m.RetrySentTotal, false},
		{"server_errors_total", "Deliveries answered with a non-2xx status.", &m.ServerErrorsTotal, false},
		{"network_errors_total", "Deliveries that failed for lack of network or transport errors.", &m.NetworkErrorsTotal, false},
		{"config_errors_total", "Deliveries skipped because the destination URL is invalid.", &m.ConfigErrorsTotal, false},
		{"unsigned_total", "Requests sent without a signature although signing is enabled.", &m.UnsignedTotal, false},

		{"queued_total", "Coordinates appended to the offline queue.", &m.QueuedTotal, false},
		{"dropped_total", "Coordinates dropped because the offline queue was full.", &m.DroppedTotal, false},
		{"requeued_total", "Coordinates put back into the queue by a retry pass.", &m.RequeuedTotal, false},

		{"spool_saved_total", "Coordinates persisted to the spool on shutdown.", &m.SpoolSavedTotal, false},
		{"spool_restored_total", "Coordinates restored from the spool on start.", &m.SpoolRestoredTotal, false},
		{"spool_dropped_total", "Coordinates not persisted because the spool is full.", &m.SpoolDroppedTotal, false},
		{"spool_files_expired_total", "Spool files removed by TTL or capacity cleanup.", &m.SpoolFilesExpiredTotal, false},
		{"spool_files_current", "Files currently in the spool directory.", &m.SpoolFilesCurrent, true},
		{"spool_size_bytes", "Bytes currently used by the spool directory.", &m.SpoolSizeBytes, true},

		{"archive_stored_total", "Coordinates stored in the S3 track archive.", &m.ArchiveStoredTotal, false},
		{"archive_put_errors_total", "Failed S3 PutObject attempts.", &m.ArchivePutErrorsTotal, false},
		{"archive_dropped_total", "Coordinates the archive gave up on.", &m.ArchiveDroppedTotal, false},
	}
}
