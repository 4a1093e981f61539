package config

import (
	"fmt"
	"sync"
	"time"

	"gps2rest/internal/privacy"
)

const (
	DefaultBaseURL         = "http://192.168.1.1:8080/api/v1/gps"
	DefaultIntervalSeconds = 15
)

// Store
//
// Configuration Store. 모든 getter 는 동기식이며 scheduler/dispatcher 가
// 매 cycle 마다 새로 읽는다. 값이 바뀌면 다음 cycle 부터 반영된다.
type Store interface {
	BaseURL() string
	Interval() time.Duration
	Policy() privacy.Policy
	SigningEnabled() bool
}

// Settings 는 Store 가 들고 있는 런타임 설정 묶음.
type Settings struct {
	BaseURL         string         `json:"url"`
	IntervalSeconds int            `json:"interval_seconds"`
	Policy          privacy.Policy `json:"-"`
	SigningEnabled  bool           `json:"signing_enabled"`
}

func DefaultSettings() Settings {
	return Settings{
		BaseURL:         DefaultBaseURL,
		IntervalSeconds: DefaultIntervalSeconds,
		Policy:          privacy.Original(),
	}
}

// Runtime 은 메모리 기반 Store. 값 교체는 RWMutex 로 보호한다.
type Runtime struct {
	mu sync.RWMutex
	s  Settings
}

func NewRuntime(s Settings) *Runtime {
	return &Runtime{s: s}
}

func (r *Runtime) BaseURL() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s.BaseURL
}

// Interval 은 최소 1초로 보정한다.
func (r *Runtime) Interval() time.Duration {
	r.mu.RLock()
	sec := r.s.IntervalSeconds
	r.mu.RUnlock()

	if sec <= 0 {
		sec = DefaultIntervalSeconds
	}
	return time.Duration(sec) * time.Second
}

func (r *Runtime) Policy() privacy.Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s.Policy
}

func (r *Runtime) SigningEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s.SigningEnabled
}

func (r *Runtime) Settings() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s
}

// Replace swaps the whole settings set at once.
func (r *Runtime) Replace(s Settings) {
	r.mu.Lock()
	r.s = s
	r.mu.Unlock()
}

// Update
// ------------------------------------------------------------
// 설정 부분 갱신. nil 필드는 그대로 둔다.
// 모든 필드를 먼저 검증하고, 하나라도 잘못되면 아무것도 바꾸지 않는다.
type Update struct {
	BaseURL         *string
	IntervalSeconds *int
	Policy          *privacy.Policy
	SigningEnabled  *bool
}

// normalized 는 URL 을 정규화하고 전체 필드를 검증한다.
func (u Update) normalized() (Update, error) {
	if u.BaseURL != nil {
		url := NormalizeURL(*u.BaseURL)
		if _, err := ParseURL(url); err != nil {
			return u, err
		}
		u.BaseURL = &url
	}
	if u.IntervalSeconds != nil && *u.IntervalSeconds <= 0 {
		return u, fmt.Errorf("interval must be positive, got %d", *u.IntervalSeconds)
	}
	if u.Policy != nil {
		if err := u.Policy.Validate(); err != nil {
			return u, err
		}
	}
	return u, nil
}

func (u Update) applyTo(s Settings) Settings {
	if u.BaseURL != nil {
		s.BaseURL = *u.BaseURL
	}
	if u.IntervalSeconds != nil {
		s.IntervalSeconds = *u.IntervalSeconds
	}
	if u.Policy != nil {
		s.Policy = *u.Policy
	}
	if u.SigningEnabled != nil {
		s.SigningEnabled = *u.SigningEnabled
	}
	return s
}

// Update applies u atomically.
func (r *Runtime) Update(u Update) error {
	u, err := u.normalized()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.s = u.applyTo(r.s)
	r.mu.Unlock()
	return nil
}

// SetBaseURL 은 정규화 후 검증을 통과한 URL 만 저장한다.
func (r *Runtime) SetBaseURL(raw string) error {
	return r.Update(Update{BaseURL: &raw})
}

func (r *Runtime) SetIntervalSeconds(sec int) error {
	return r.Update(Update{IntervalSeconds: &sec})
}

func (r *Runtime) SetPolicy(p privacy.Policy) error {
	return r.Update(Update{Policy: &p})
}

func (r *Runtime) SetSigningEnabled(on bool) {
	_ = r.Update(Update{SigningEnabled: &on})
}

// policyFrom builds a policy from loose settings values.
func policyFrom(mode string, radius float64, precision int) (privacy.Policy, error) {
	m, err := privacy.ParseMode(mode)
	if err != nil {
		return privacy.Original(), err
	}

	var p privacy.Policy
	switch m {
	case privacy.ModeRandomNoise:
		if radius == 0 {
			radius = privacy.DefaultNoiseRadius
		}
		p = privacy.RandomNoise(radius)
	case privacy.ModeTruncate:
		if precision == 0 {
			precision = privacy.DefaultPrecision
		}
		p = privacy.Truncate(precision)
	default:
		p = privacy.Original()
	}

	if err := p.Validate(); err != nil {
		return privacy.Original(), err
	}
	return p, nil
}
