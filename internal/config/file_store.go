package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gps2rest/internal/privacy"

	"github.com/fsnotify/fsnotify"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// settings 파일 키
const (
	keyURL          = "url"
	keyInterval     = "interval_seconds"
	keyPrivacyMode  = "privacy.mode"
	keyNoiseRadius  = "privacy.noise_radius_m"
	keyPrecision    = "privacy.precision"
	keySigningOn    = "signing.enabled"
	settingsEnvPref = "GPS2REST"
)

var (
	// ErrPersist 는 설정 파일 쓰기 실패.
	ErrPersist = errors.New("persist settings")
	// ErrEnvOverride 는 GPS2REST_* 환경변수가 고정한 키를 바꾸려 할 때.
	ErrEnvOverride = errors.New("setting is pinned by environment")
)

// FileStore
// ------------------------------------------------------------
// viper 로 settings 파일(YAML/JSON/TOML)을 읽는 Store.
//   - GPS2REST_URL, GPS2REST_PRIVACY_MODE ... 환경변수가 파일 값을 덮어쓴다
//   - 파일이 바뀌면 WatchConfig 로 다시 읽어 Runtime 스냅샷을 교체한다
//   - Update / Set* 는 파일에 기록한 뒤 다시 읽는다 (reload, 재시작 후에도 유지)
//
// getter 는 viper 를 직접 읽지 않고 Runtime 스냅샷만 본다.
// viper 접근과 스냅샷 교체는 mu 로 직렬화한다.
type FileStore struct {
	*Runtime

	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// NewFileStore reads path once and starts watching it for changes.
func NewFileStore(path string, defaults Settings) (*FileStore, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(settingsEnvPref)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(keyURL, defaults.BaseURL)
	v.SetDefault(keyInterval, defaults.IntervalSeconds)
	v.SetDefault(keyPrivacyMode, defaults.Policy.Mode.String())
	v.SetDefault(keyNoiseRadius, defaults.Policy.NoiseRadius)
	v.SetDefault(keyPrecision, defaults.Policy.Precision)
	v.SetDefault(keySigningOn, defaults.SigningEnabled)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}

	fs := &FileStore{
		Runtime: NewRuntime(defaults),
		v:       v,
		path:    path,
	}
	fs.apply()

	return fs, nil
}

// Watch 는 파일 변경 시 자동 reload 를 켠다.
func (fs *FileStore) Watch() {
	fs.v.OnConfigChange(func(e fsnotify.Event) {
		zlog.Info().Str("file", e.Name).Msg("settings changed, reloading")
		fs.mu.Lock()
		defer fs.mu.Unlock()
		fs.apply()
	})
	fs.v.WatchConfig()
}

// Reload re-reads the file synchronously.
func (fs *FileStore) Reload() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read settings %s: %w", fs.path, err)
	}
	fs.apply()
	return nil
}

// Update
//
// 검증 → 환경변수 고정 키 확인 → 파일 기록 → 다시 읽어 적용.
// 파일에는 파일 내용과 바뀐 키만 쓴다 (기본값 / 환경변수 값은 쓰지 않는다).
func (fs *FileStore) Update(u Update) error {
	u, err := u.normalized()
	if err != nil {
		return err
	}

	values := map[string]any{}
	if u.BaseURL != nil {
		values[keyURL] = *u.BaseURL
	}
	if u.IntervalSeconds != nil {
		values[keyInterval] = *u.IntervalSeconds
	}
	if u.Policy != nil {
		values[keyPrivacyMode] = u.Policy.Mode.String()
		switch u.Policy.Mode {
		case privacy.ModeRandomNoise:
			values[keyNoiseRadius] = u.Policy.NoiseRadius
		case privacy.ModeTruncate:
			values[keyPrecision] = u.Policy.Precision
		}
	}
	if u.SigningEnabled != nil {
		values[keySigningOn] = *u.SigningEnabled
	}
	if len(values) == 0 {
		return nil
	}

	for key := range values {
		if env := envKey(key); os.Getenv(env) != "" {
			return fmt.Errorf("%w: %s", ErrEnvOverride, env)
		}
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	w := viper.New()
	w.SetConfigFile(fs.path)
	if err := w.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrPersist, fs.path, err)
	}
	for k, val := range values {
		w.Set(k, val)
	}
	if err := w.WriteConfig(); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrPersist, fs.path, err)
	}

	if err := fs.v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: reread %s: %v", ErrPersist, fs.path, err)
	}
	fs.apply()
	return nil
}

func (fs *FileStore) SetBaseURL(raw string) error {
	return fs.Update(Update{BaseURL: &raw})
}

func (fs *FileStore) SetIntervalSeconds(sec int) error {
	return fs.Update(Update{IntervalSeconds: &sec})
}

func (fs *FileStore) SetPolicy(p privacy.Policy) error {
	return fs.Update(Update{Policy: &p})
}

func (fs *FileStore) SetSigningEnabled(on bool) {
	if err := fs.Update(Update{SigningEnabled: &on}); err != nil {
		zlog.Error().Err(err).Bool("enabled", on).Msg("update signing setting")
	}
}

func envKey(key string) string {
	return settingsEnvPref + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// apply
//
// viper 값을 Settings 로 옮긴다. 호출자가 mu 를 잡고 있어야 한다 (생성자 제외).
// 잘못된 privacy 값은 경고 후 이전 정책을 유지하고,
// URL 은 정규화만 하고 그대로 둔다 (전송 시 ConfigError 로 드러나게).
func (fs *FileStore) apply() {
	prev := fs.Settings()
	next := prev

	next.BaseURL = NormalizeURL(fs.v.GetString(keyURL))
	if _, err := ParseURL(next.BaseURL); err != nil {
		zlog.Warn().Err(err).Str("url", next.BaseURL).Msg("settings url is invalid")
	}

	if sec := fs.v.GetInt(keyInterval); sec > 0 {
		next.IntervalSeconds = sec
	} else {
		zlog.Warn().Int("interval_seconds", sec).Msg("ignoring non-positive interval")
	}

	p, err := policyFrom(
		fs.v.GetString(keyPrivacyMode),
		fs.v.GetFloat64(keyNoiseRadius),
		fs.v.GetInt(keyPrecision),
	)
	if err != nil {
		zlog.Warn().Err(err).Str("policy", prev.Policy.String()).Msg("invalid privacy settings, keeping previous policy")
	} else {
		next.Policy = p
	}

	next.SigningEnabled = fs.v.GetBool(keySigningOn)

	fs.Replace(next)
}
