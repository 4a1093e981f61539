package dispatch

import (
	"context"
	"net"
	"strings"
	"time"
)

// Destination 은 목적지 host 가 로컬 네트워크인지 여부.
type Destination int

const (
	Public Destination = iota
	Private
)

func (d Destination) String() string {
	if d == Private {
		return "private"
	}
	return "public"
}

// ------------------------------------------------------------
// Classifier
//
// 전송 시점에 목적지 host 를 해석해서 Private / Public 을 판단한다.
//   - "localhost" 와 IP literal 은 lookup 없이 바로 판단
//   - 이름은 resolver 로 해석, 첫 번째 주소 기준
//   - 해석에 실패하면 Public (기본 경로로 보낸다)
// ------------------------------------------------------------
type Classifier struct {
	LookupIP func(ctx context.Context, host string) ([]net.IP, error)
	Timeout  time.Duration
}

func NewClassifier() *Classifier {
	return &Classifier{
		LookupIP: func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip", host)
		},
		Timeout: 2 * time.Second,
	}
}

func (c *Classifier) Classify(ctx context.Context, host string) Destination {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return Public
	}
	if host == "localhost" {
		return Private
	}
	if ip := net.ParseIP(host); ip != nil {
		return classifyIP(ip)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	ips, err := c.LookupIP(ctx, host)
	if err != nil || len(ips) == 0 {
		return Public
	}
	return classifyIP(ips[0])
}

// classifyIP:
//   - 10/8, 172.16/12, 192.168/16 (IsPrivate)
//   - 127/8 (IsLoopback)
//   - IPv6 도 같은 규칙: fc00::/7 (ULA) 와 ::1 은 Private, 링크로컬 fe80::/10 은 Public
func classifyIP(ip net.IP) Destination {
	if ip.IsPrivate() || ip.IsLoopback() {
		return Private
	}
	return Public
}
