// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config
//
// 프로세스 시작 시 환경변수에서 읽는 설정.
// Load() 이후 변경되지 않는 read-only 값들이며,
// 런타임에 바뀌는 값(URL, 주기, privacy 정책, 서명 여부)은 Store 가 담당한다.
type Config struct {

	// ---------------------------
	// 식별자 / 로깅
	// ---------------------------

	ServiceName string // 로그 service 필드
	InstanceID  string // 호스트명 기반, 실패 시 랜덤 hex
	LogLevel    string // debug / info / warn / error
	LogPretty   bool   // true 면 콘솔 출력, false 면 JSON
	LogSampleN  uint32 // Debug/Info 샘플링 (1 이하 = 전부 기록)

	// ---------------------------
	// 상태 조회 HTTP 서버
	// ---------------------------

	HTTPAddr string // 빈 문자열이면 서버를 띄우지 않는다

	// ---------------------------
	// Configuration Store
	// ---------------------------

	SettingsFile string   // 지정 시 viper 기반 파일 store (hot reload)
	Defaults     Settings // 파일이 없거나 키가 빠졌을 때의 기본값

	// ---------------------------
	// 전송 / 큐
	// ---------------------------

	QueueCapacity int           // Offline Queue 용량
	HTTPTimeout   time.Duration // connect/read/write 전체 timeout
	RetryInterval time.Duration // retry loop 주기
	RetryPacing   time.Duration // retry 간 간격

	// ---------------------------
	// 네트워크 감시
	// ---------------------------

	WiFiInterface string        // 비어 있으면 wl* 인터페이스 자동 탐색
	ProbeAddr     string        // 인터넷 검증용 TCP 주소, 비어 있으면 인터페이스 상태만 본다
	ProbeTimeout  time.Duration // probe dial timeout
	ProbeTTL      time.Duration // probe 결과 캐시 기간

	// ---------------------------
	// 위치 소스
	// ---------------------------

	GPSDAddr       string        // gpsd 주소 (예: 127.0.0.1:2947)
	LocationMaxAge time.Duration // 마지막 fix 를 재사용할 수 있는 최대 나이
	StaticLocation string        // "lat,lon" 고정 좌표 (gpsd 미사용 시)

	// ---------------------------
	// 서명
	// ---------------------------

	SigningKeyFile string // 32바이트 hex 키 파일
	SigningIssuer  string // JWT iss

	// ---------------------------
	// 로컬 spool (재시작 간 Offline Queue 보존)
	// ---------------------------

	SpoolDir          string
	SpoolMaxAge       time.Duration
	SpoolMaxSizeBytes int64

	// ---------------------------
	// S3 track archive (선택)
	// ---------------------------

	AWSRegion            string
	ArchiveBucket        string
	ArchivePrefix        string
	ArchiveBatchSize     int
	ArchiveFlushInterval time.Duration
	ArchiveTimeout       time.Duration
	ArchiveRetries       int
}

// Load
//
// 환경 변수 기반으로 Config 를 만든다.
// 값이 없으면 기본값을 쓰고, 형식이 잘못된 값은 즉시 종료(fail-fast)한다.
// S3 archive 를 켠 경우에만 AWS_REGION 이 필수다.
func Load() Config {
	cfg := Config{
		ServiceName: env("SERVICE_NAME", "gps2rest"),
		InstanceID:  fallbackInstanceID(),
		LogLevel:    env("LOG_LEVEL", "info"),
		LogPretty:   envBool("LOG_PRETTY", false),
		LogSampleN:  uint32(envInt("LOG_SAMPLE_N", 1)),

		HTTPAddr: env("HTTP_ADDR", "127.0.0.1:8089"),

		SettingsFile: env("SETTINGS_FILE", ""),
		Defaults:     defaultsFromEnv(),

		QueueCapacity: envInt("QUEUE_CAPACITY", 100),
		HTTPTimeout:   envDur("HTTP_TIMEOUT", 30*time.Second),
		RetryInterval: envDur("RETRY_INTERVAL", 60*time.Second),
		RetryPacing:   envDur("RETRY_PACING", time.Second),

		WiFiInterface: env("WIFI_INTERFACE", ""),
		ProbeAddr:     env("PROBE_ADDR", ""),
		ProbeTimeout:  envDur("PROBE_TIMEOUT", 3*time.Second),
		ProbeTTL:      envDur("PROBE_TTL", 10*time.Second),

		GPSDAddr:       env("GPSD_ADDR", ""),
		LocationMaxAge: envDur("LOCATION_MAX_AGE", 2*time.Minute),
		StaticLocation: env("STATIC_LOCATION", ""),

		SigningKeyFile: env("SIGNING_KEY_FILE", ""),
		SigningIssuer:  env("SIGNING_ISSUER", "gps2rest"),

		SpoolDir:          env("SPOOL_DIR", ""),
		SpoolMaxAge:       envDur("SPOOL_MAX_AGE", 24*time.Hour),
		SpoolMaxSizeBytes: envInt64("SPOOL_MAX_SIZE_BYTES", 4<<20),

		ArchiveBucket:        env("ARCHIVE_BUCKET", ""),
		ArchivePrefix:        env("ARCHIVE_PREFIX", "tracks"),
		ArchiveBatchSize:     envInt("ARCHIVE_BATCH_SIZE", 200),
		ArchiveFlushInterval: envDur("ARCHIVE_FLUSH_INTERVAL", 5*time.Minute),
		ArchiveTimeout:       envDur("ARCHIVE_TIMEOUT", 10*time.Second),
		ArchiveRetries:       envInt("ARCHIVE_RETRIES", 3),
	}

	if cfg.ArchiveBucket != "" {
		cfg.AWSRegion = must("AWS_REGION")
	}

	return cfg
}

// defaultsFromEnv 는 settings 파일이 없을 때 쓰는 런타임 설정 초기값.
func defaultsFromEnv() Settings {
	s := DefaultSettings()

	if v := env("GPS_URL", ""); v != "" {
		s.BaseURL = NormalizeURL(v)
	}
	s.IntervalSeconds = envInt("INTERVAL_SECONDS", s.IntervalSeconds)
	s.SigningEnabled = envBool("SIGNING_ENABLED", false)

	policy, err := policyFrom(
		env("PRIVACY_MODE", ""),
		envFloat("NOISE_RADIUS_M", 0),
		envInt("TRUNCATE_PRECISION", 0),
	)
	if err != nil {
		log.Fatalf("invalid privacy env: %v", err)
	}
	s.Policy = policy

	return s
}

// env / envInt / envInt64 / envFloat / envBool / envDur
//
// 값이 없으면 def 를 돌려주고, 형식이 잘못되면 즉시 종료(fail-fast).
// 잘못된 설정으로 조용히 기본값이 쓰이는 상황을 막기 위함.
func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func must(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing required env: %s", key)
	}
	return v
}

func envInt(key string, def int) int {
	v := env(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int env %s=%q: %v", key, v, err)
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := env(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Fatalf("invalid int64 env %s=%q: %v", key, v, err)
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := env(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Fatalf("invalid float env %s=%q: %v", key, v, err)
	}
	return f
}

func envBool(key string, def bool) bool {
	v := env(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("invalid bool env %s=%q: %v", key, v, err)
	}
	return b
}

func envDur(key string, def time.Duration) time.Duration {
	v := env(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration env %s=%q: %v", key, v, err)
	}
	return d
}

// fallbackInstanceID
//
// 이 agent 인스턴스를 식별하는 값.
//   - 기본: hostname
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
