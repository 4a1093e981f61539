// internal/worker/file_util.go
package worker

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// file_util.go
// ------------------------------------------------------------
// spool 파일과 archive 객체가 공유하는 이름 규칙.
//
//	<unix>_<instance>_<counter>.jsonl.gz
//
// 예:
//
//	1764721594_rpi-truck7_000042.jsonl.gz
//
// 문자열 정렬 = 시간 정렬이므로 spool 복원 시 오래된 파일부터 읽는다.
var globalCounter uint64

// NextCounter 는 1e6 에서 wrap 한다. timestamp + instance 조합이라 충돌하지 않는다.
func NextCounter() uint64 {
	return atomic.AddUint64(&globalCounter, 1) % 1_000_000
}

// NewFilename 은 instance 에 들어 있는 '_' 와 '/' 를 '-' 로 바꾼다.
// '_' 는 파일명에서 unix prefix 구분자로 쓰인다.
func NewFilename(instanceID string) string {
	return fmt.Sprintf("%d_%s_%06d.jsonl.gz", Unix(), safeInstance(instanceID), NextCounter())
}

// BuildS3Key
// ------------------------------------------------------------
//
//	<prefix>/device=<instance>/dt=<YYYY-MM-DD>/hr=<HH>/<filename>
//
// 장비별 / 날짜별로 Athena 파티션 스캔이 가능하도록.
func BuildS3Key(prefix, instanceID, filename string) string {
	prefix = strings.Trim(prefix, "/")
	key := fmt.Sprintf("device=%s/dt=%s/hr=%s/%s", safeInstance(instanceID), DT(), HR(), filename)
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func safeInstance(id string) string {
	if id == "" {
		return "unknown"
	}
	return strings.NewReplacer("_", "-", "/", "-").Replace(id)
}

// extractUnixFromFilename 은 "<unix>_..." prefix 에서 Unix seconds 를 읽는다.
func extractUnixFromFilename(name string) (int64, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	sec, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil || sec <= 0 {
		return 0, false
	}
	return sec, true
}
