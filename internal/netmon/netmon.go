package netmon

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// Interface 는 IPv4 주소를 가진 네트워크 인터페이스 하나.
type Interface struct {
	Name     string
	Addr     net.IP
	Up       bool
	Loopback bool
}

type Options struct {
	// ProbeAddr 가 비어 있으면 "up 상태의 non-loopback 인터페이스가 있는가" 만 본다.
	ProbeAddr    string
	ProbeTimeout time.Duration
	ProbeTTL     time.Duration

	// WiFiInterface 가 비어 있으면 wl* 이름의 인터페이스를 찾는다.
	WiFiInterface string

	// 테스트 주입용. nil 이면 net 패키지를 쓴다.
	Dial       func(ctx context.Context, network, addr string) (net.Conn, error)
	Interfaces func() ([]Interface, error)
	Now        func() time.Time
}

// Monitor
// ------------------------------------------------------------
// "인터넷 사용 가능" 판단과 Wi-Fi 인터페이스 탐색.
//   - Available: ProbeAddr 로 TCP 연결을 시도해 검증된 연결인지 본다
//   - 결과는 ProbeTTL 동안 캐시 (매 샘플마다 probe 하지 않도록)
//   - WiFi: Private 목적지를 Wi-Fi 로 보내기 위한 인터페이스와 로컬 주소
type Monitor struct {
	opts Options

	mu      sync.Mutex
	checked time.Time
	lastOK  bool
}

func New(opts Options) *Monitor {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	if opts.Dial == nil {
		d := &net.Dialer{}
		opts.Dial = d.DialContext
	}
	if opts.Interfaces == nil {
		opts.Interfaces = systemInterfaces
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{opts: opts}
}

// Available reports whether an internet-capable network is usable right now.
func (m *Monitor) Available(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Now()
	if !m.checked.IsZero() && m.opts.ProbeTTL > 0 && now.Sub(m.checked) < m.opts.ProbeTTL {
		return m.lastOK
	}

	ok := m.check(ctx)
	if ok != m.lastOK || m.checked.IsZero() {
		zlog.Debug().Bool("available", ok).Str("probe", m.opts.ProbeAddr).Msg("network state")
	}
	m.lastOK = ok
	m.checked = now
	return ok
}

func (m *Monitor) check(ctx context.Context) bool {
	if !m.hasActiveInterface() {
		return false
	}
	if m.opts.ProbeAddr == "" {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	conn, err := m.opts.Dial(ctx, "tcp", m.opts.ProbeAddr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (m *Monitor) hasActiveInterface() bool {
	ifs, err := m.opts.Interfaces()
	if err != nil {
		zlog.Warn().Err(err).Msg("list interfaces")
		return false
	}
	for _, it := range ifs {
		if it.Up && !it.Loopback && it.Addr != nil {
			return true
		}
	}
	return false
}

// Invalidate 는 다음 Available 호출이 다시 probe 하게 만든다.
func (m *Monitor) Invalidate() {
	m.mu.Lock()
	m.checked = time.Time{}
	m.mu.Unlock()
}

// WiFi returns the associated Wi-Fi interface, if any.
func (m *Monitor) WiFi() (Interface, bool) {
	ifs, err := m.opts.Interfaces()
	if err != nil {
		return Interface{}, false
	}
	for _, it := range ifs {
		if !it.Up || it.Loopback || it.Addr == nil {
			continue
		}
		if m.opts.WiFiInterface != "" {
			if it.Name == m.opts.WiFiInterface {
				return it, true
			}
			continue
		}
		if strings.HasPrefix(it.Name, "wl") {
			return it, true
		}
	}
	return Interface{}, false
}

// systemInterfaces 는 인터페이스마다 첫 번째 IPv4 주소만 쓴다.
func systemInterfaces() ([]Interface, error) {
	raw, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(raw))
	for _, ni := range raw {
		it := Interface{
			Name:     ni.Name,
			Up:       ni.Flags&net.FlagUp != 0,
			Loopback: ni.Flags&net.FlagLoopback != 0,
		}
		addrs, err := ni.Addrs()
		if err == nil {
			for _, a := range addrs {
				if ipn, ok := a.(*net.IPNet); ok {
					if v4 := ipn.IP.To4(); v4 != nil {
						it.Addr = v4
						break
					}
				}
			}
		}
		out = append(out, it)
	}
	return out, nil
}
