package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL 는 목적지 URL 이 http(s) + host 형식이 아닐 때.
var ErrInvalidURL = errors.New("invalid destination url")

// NormalizeURL 은 공백을 자르고 scheme 이 없을 때만 http:// 를 붙인다.
// "ftp://..." 처럼 다른 scheme 이 있으면 그대로 두어 ParseURL 이 거부하게 한다.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || strings.Contains(s, "://") {
		return s
	}
	return "http://" + s
}

// ParseURL
//
// 목적지 URL 검증.
//   - scheme 은 http / https 만
//   - host 는 비어 있으면 안 된다
//   - "/api" 처럼 상대 경로는 거부
//   - "http://ftp://host" 처럼 authority 안에 scheme 이 또 있으면 거부
func ParseURL(raw string) (*url.URL, error) {
	if raw == "" || strings.HasPrefix(raw, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	if nestedScheme(raw) {
		return nil, fmt.Errorf("%w: nested scheme in %q", ErrInvalidURL, raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidURL, raw)
	}
	return u, nil
}

// nestedScheme 은 scheme 뒤 path 까지 (query/fragment 제외) 에 "://" 가 또 있는지 본다.
func nestedScheme(raw string) bool {
	i := strings.Index(raw, "://")
	if i < 0 {
		return false
	}
	rest := raw[i+3:]
	if j := strings.IndexAny(rest, "?#"); j >= 0 {
		rest = rest[:j]
	}
	return strings.Contains(rest, "://")
}
