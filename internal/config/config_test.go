package config

import (
	"errors"
	"testing"
	"time"

	"gps2rest/internal/privacy"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"GPS_URL", "INTERVAL_SECONDS", "PRIVACY_MODE", "QUEUE_CAPACITY", "HTTP_TIMEOUT", "ARCHIVE_BUCKET"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	if cfg.Defaults.BaseURL != DefaultBaseURL {
		t.Fatalf("BaseURL = %q", cfg.Defaults.BaseURL)
	}
	if cfg.Defaults.IntervalSeconds != 15 {
		t.Fatalf("IntervalSeconds = %d", cfg.Defaults.IntervalSeconds)
	}
	if cfg.Defaults.Policy.Mode != privacy.ModeOriginal {
		t.Fatalf("policy = %v", cfg.Defaults.Policy)
	}
	if cfg.QueueCapacity != 100 {
		t.Fatalf("QueueCapacity = %d", cfg.QueueCapacity)
	}
	if cfg.HTTPTimeout != 30*time.Second || cfg.RetryInterval != time.Minute || cfg.RetryPacing != time.Second {
		t.Fatalf("timings = %v %v %v", cfg.HTTPTimeout, cfg.RetryInterval, cfg.RetryPacing)
	}
	if cfg.InstanceID == "" {
		t.Fatal("InstanceID is empty")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GPS_URL", "10.0.0.2:9000/track")
	t.Setenv("INTERVAL_SECONDS", "30")
	t.Setenv("PRIVACY_MODE", "truncate")
	t.Setenv("TRUNCATE_PRECISION", "2")
	t.Setenv("QUEUE_CAPACITY", "7")
	t.Setenv("RETRY_PACING", "250ms")
	t.Setenv("ARCHIVE_BUCKET", "")

	cfg := Load()

	if cfg.Defaults.BaseURL != "http://10.0.0.2:9000/track" {
		t.Fatalf("BaseURL = %q", cfg.Defaults.BaseURL)
	}
	if cfg.Defaults.IntervalSeconds != 30 {
		t.Fatalf("IntervalSeconds = %d", cfg.Defaults.IntervalSeconds)
	}
	if cfg.Defaults.Policy != privacy.Truncate(2) {
		t.Fatalf("policy = %v", cfg.Defaults.Policy)
	}
	if cfg.QueueCapacity != 7 || cfg.RetryPacing != 250*time.Millisecond {
		t.Fatalf("queue=%d pacing=%v", cfg.QueueCapacity, cfg.RetryPacing)
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"192.168.1.1:8080/api/v1/gps":        "http://192.168.1.1:8080/api/v1/gps",
		"  https://example.com/gps ":         "https://example.com/gps",
		"HTTP://Example.com":                 "HTTP://Example.com",
		"":                                   "",
		"http://192.168.1.1:8080/api/v1/gps": "http://192.168.1.1:8080/api/v1/gps",
		"ftp://example.com/gps":              "ftp://example.com/gps",
		" ws://10.0.0.1/gps":                 "ws://10.0.0.1/gps",
	}
	for in, want := range cases {
		if got := NormalizeURL(in); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseURL(t *testing.T) {
	valid := []string{
		"http://192.168.1.1:8080/api/v1/gps",
		"https://example.com",
		"http://localhost/gps/",
		"http://example.com/gps?cb=http://other",
	}
	for _, u := range valid {
		if _, err := ParseURL(u); err != nil {
			t.Errorf("ParseURL(%q) unexpected error: %v", u, err)
		}
	}

	invalid := []string{
		"",
		"/api/v1/gps",
		"ftp://example.com",
		"http://",
		"http://%zz",
		"http://ftp://example.com/gps",
		NormalizeURL("ftp://example.com/gps"),
	}
	for _, u := range invalid {
		_, err := ParseURL(u)
		if !errors.Is(err, ErrInvalidURL) {
			t.Errorf("ParseURL(%q) err = %v, want ErrInvalidURL", u, err)
		}
	}
}

func TestRuntime_Setters(t *testing.T) {
	r := NewRuntime(DefaultSettings())

	if got := r.Interval(); got != 15*time.Second {
		t.Fatalf("Interval = %v", got)
	}

	if err := r.SetBaseURL("10.1.1.1/gps"); err != nil {
		t.Fatalf("SetBaseURL: %v", err)
	}
	if got := r.BaseURL(); got != "http://10.1.1.1/gps" {
		t.Fatalf("BaseURL = %q", got)
	}
	if err := r.SetBaseURL("ftp://x"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("SetBaseURL(ftp) err = %v", err)
	}
	if got := r.BaseURL(); got != "http://10.1.1.1/gps" {
		t.Fatalf("invalid url replaced previous value: %q", got)
	}

	if err := r.SetIntervalSeconds(0); err == nil {
		t.Fatal("expected error for zero interval")
	}
	if err := r.SetIntervalSeconds(5); err != nil {
		t.Fatal(err)
	}
	if got := r.Interval(); got != 5*time.Second {
		t.Fatalf("Interval = %v", got)
	}

	if err := r.SetPolicy(privacy.Truncate(9)); err == nil {
		t.Fatal("expected error for precision 9")
	}
	if err := r.SetPolicy(privacy.RandomNoise(50)); err != nil {
		t.Fatal(err)
	}
	if got := r.Policy(); got != privacy.RandomNoise(50) {
		t.Fatalf("Policy = %v", got)
	}

	r.SetSigningEnabled(true)
	if !r.SigningEnabled() {
		t.Fatal("signing should be enabled")
	}
}

func TestRuntime_ZeroIntervalFallsBackToDefault(t *testing.T) {
	r := NewRuntime(Settings{})
	if got := r.Interval(); got != DefaultIntervalSeconds*time.Second {
		t.Fatalf("Interval = %v", got)
	}
}

func TestPolicyFrom(t *testing.T) {
	p, err := policyFrom("noise", 0, 0)
	if err != nil || p != privacy.RandomNoise(privacy.DefaultNoiseRadius) {
		t.Fatalf("noise default = %v, %v", p, err)
	}
	p, err = policyFrom("truncate", 0, 0)
	if err != nil || p != privacy.Truncate(privacy.DefaultPrecision) {
		t.Fatalf("truncate default = %v, %v", p, err)
	}
	if _, err := policyFrom("truncate", 0, 8); err == nil {
		t.Fatal("expected error for precision 8")
	}
	if _, err := policyFrom("blur", 0, 0); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestRuntime_UpdateIsAllOrNothing(t *testing.T) {
	r := NewRuntime(DefaultSettings())

	url, sec := "10.0.0.2/gps", 30
	bad := privacy.Truncate(0)
	if err := r.Update(Update{BaseURL: &url, IntervalSeconds: &sec, Policy: &bad}); err == nil {
		t.Fatal("expected error for invalid policy")
	}
	if r.Settings() != DefaultSettings() {
		t.Fatalf("partial update applied: %+v", r.Settings())
	}

	good := privacy.RandomNoise(50)
	if err := r.Update(Update{BaseURL: &url, IntervalSeconds: &sec, Policy: &good}); err != nil {
		t.Fatal(err)
	}
	if r.BaseURL() != "http://10.0.0.2/gps" || r.Interval() != 30*time.Second || r.Policy() != good {
		t.Fatalf("settings = %+v", r.Settings())
	}
}
