// internal/worker/timecache.go
package worker

import (
	"sync/atomic"
	"time"
)

//
// timecache.go
// ------------------------------------------------------------
// 현재 UTC epoch seconds 와 S3 파티션 문자열(dt / hr)을 1초 단위로 캐싱한다.
// spool 파일명과 archive key 를 만들 때마다 포맷팅하지 않도록.
//
// 좌표는 어느 시간대에서든 수집되므로 파티션은 UTC 기준.
// ------------------------------------------------------------

var (
	unixSec atomic.Int64
	dtVal   atomic.Value // "YYYY-MM-DD"
	hrVal   atomic.Value // "HH"
)

func init() {
	store(time.Now())

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for now := range ticker.C {
			store(now)
		}
	}()
}

func store(now time.Time) {
	unixSec.Store(now.Unix())
	dt, hr := Partition(now)
	dtVal.Store(dt)
	hrVal.Store(hr)
}

// Partition formats t as the dt / hr partition values (UTC).
func Partition(t time.Time) (dt, hr string) {
	u := t.UTC()
	return u.Format("2006-01-02"), u.Format("15")
}

// Unix returns current UTC epoch seconds (cached, 1-second precision).
func Unix() int64 {
	return unixSec.Load()
}

// DT returns "YYYY-MM-DD" (UTC).
func DT() string {
	return dtVal.Load().(string)
}

// HR returns "HH" (UTC).
func HR() string {
	return hrVal.Load().(string)
}
