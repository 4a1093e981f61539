// Package transport builds the HTTP clients the dispatcher sends with.
package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

type Options struct {
	// Timeout 은 연결부터 응답 body 까지 전체 요청 한도 (기본 30s).
	Timeout time.Duration

	// LocalAddr 를 주면 해당 주소(= 인터페이스)에서 나가도록 bind 한다.
	LocalAddr net.IP

	// Device 를 주면 소켓을 인터페이스에 묶는다 (Linux SO_BINDTODEVICE).
	// 주소 bind 만으로는 커널이 목적지 기준 라우트를 고르므로
	// Wi-Fi 서브넷 밖의 사설 목적지가 모바일 라우트로 나갈 수 있다.
	// 권한(CAP_NET_RAW)이 없으면 주소 bind 만 한다.
	Device string
}

// NewClient
//
// https 목적지는 HTTP/2 를 협상하고, 유휴 연결은 ping 으로 확인한다.
// Wi-Fi 전용 client 는 Device / LocalAddr 로 Wi-Fi 인터페이스를 받는다.
func NewClient(opts Options) (*http.Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := newDialer(opts, timeout)

	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          4,
		MaxIdleConnsPerHost:   2,
	}

	h2, err := http2.ConfigureTransports(t)
	if err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}
	h2.ReadIdleTimeout = 30 * time.Second
	h2.PingTimeout = 10 * time.Second

	return &http.Client{
		Transport: t,
		Timeout:   timeout,
	}, nil
}

func newDialer(opts Options, timeout time.Duration) *net.Dialer {
	d := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	if opts.LocalAddr != nil {
		d.LocalAddr = &net.TCPAddr{IP: opts.LocalAddr}
	}
	if opts.Device != "" {
		d.Control = bindToDevice(opts.Device)
	}
	return d
}
