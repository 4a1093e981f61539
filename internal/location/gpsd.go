package location

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"gps2rest/internal/model"

	"github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"
)

const watchCommand = `?WATCH={"enable":true,"json":true};` + "\n"

// tpv 는 gpsd 의 Time-Position-Velocity 리포트 중 쓰는 필드만.
type tpv struct {
	Class string   `json:"class"`
	Mode  int      `json:"mode"` // 0/1 = no fix, 2 = 2D, 3 = 3D
	Time  string   `json:"time"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	Eph   *float64 `json:"eph"`
	Epx   *float64 `json:"epx"`
	Epy   *float64 `json:"epy"`
}

// GPSD
// ------------------------------------------------------------
// gpsd(TCP, JSON watch 모드) 에서 fix 를 받아 마지막 값을 캐시한다.
//   - Run 은 연결이 끊기면 backoff(1s → 30s) 후 재연결
//   - Current 는 MaxAge 보다 오래된 fix 는 돌려주지 않는다
//
// sample loop 는 Current 만 호출하므로 gpsd 가 느려도 cycle 이 막히지 않는다.
type GPSD struct {
	addr   string
	maxAge time.Duration
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
	now    func() time.Time

	mu   sync.RWMutex
	last model.Coordinate
	seen time.Time
	have bool
}

func NewGPSD(addr string, maxAge time.Duration) *GPSD {
	d := &net.Dialer{Timeout: 5 * time.Second}
	return &GPSD{
		addr:   addr,
		maxAge: maxAge,
		dial:   d.DialContext,
		now:    time.Now,
	}
}

// Current returns the last fix if it is recent enough.
func (g *GPSD) Current(context.Context) (model.Coordinate, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.have {
		return model.Coordinate{}, false
	}
	if g.maxAge > 0 && g.now().Sub(g.seen) > g.maxAge {
		return model.Coordinate{}, false
	}
	return g.last, true
}

// Run blocks until ctx is cancelled.
func (g *GPSD) Run(ctx context.Context) {
	backoff := time.Second

	for {
		connected, err := g.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = time.Second
		}

		zlog.Warn().Err(err).Str("addr", g.addr).Dur("backoff", backoff).Msg("gpsd session ended")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

// session 은 연결 하나의 수명. connected 는 WATCH 까지 성공했는지 (backoff 초기화용).
func (g *GPSD) session(ctx context.Context) (connected bool, err error) {
	conn, err := g.dial(ctx, "tcp", g.addr)
	if err != nil {
		return false, fmt.Errorf("dial gpsd: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if _, err := conn.Write([]byte(watchCommand)); err != nil {
		return false, fmt.Errorf("send watch: %w", err)
	}
	zlog.Info().Str("addr", g.addr).Msg("gpsd connected")

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), 64*1024)

	for sc.Scan() {
		if c, ok := parseTPV(sc.Bytes(), g.now); ok {
			g.mu.Lock()
			g.last = c
			g.seen = g.now()
			g.have = true
			g.mu.Unlock()
		}
	}
	if err := sc.Err(); err != nil {
		return true, fmt.Errorf("read gpsd: %w", err)
	}
	return true, fmt.Errorf("gpsd closed connection")
}

// parseTPV 는 2D 이상 fix 의 TPV 만 Coordinate 로 바꾼다.
func parseTPV(line []byte, now func() time.Time) (model.Coordinate, bool) {
	var r tpv
	if err := json.Unmarshal(line, &r); err != nil {
		return model.Coordinate{}, false
	}
	if r.Class != "TPV" || r.Mode < 2 || r.Lat == nil || r.Lon == nil {
		return model.Coordinate{}, false
	}

	c := model.Coordinate{Latitude: *r.Lat, Longitude: *r.Lon}
	if !c.Valid() {
		return model.Coordinate{}, false
	}

	switch {
	case r.Eph != nil:
		c.Accuracy = model.Float64(*r.Eph)
	case r.Epx != nil && r.Epy != nil:
		c.Accuracy = model.Float64(math.Max(*r.Epx, *r.Epy))
	}

	c.Timestamp = now().UTC()
	if r.Time != "" {
		if ts, err := time.Parse(time.RFC3339Nano, r.Time); err == nil {
			c.Timestamp = ts.UTC()
		}
	}
	return c, true
}
