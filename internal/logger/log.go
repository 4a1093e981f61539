// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"gps2rest/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// agent 시작 시 한 번 호출하는 전역 로거 초기화.
//
//  1. LOG_PRETTY=true 이면 콘솔 포맷, 아니면 JSON (journald/Loki 수집용)
//  2. 모든 로그에 service / instance 필드를 붙인다
//  3. LOG_SAMPLE_N > 1 이면 Debug/Info 만 샘플링, Warn/Error 는 전부 기록
//
// Status Log 의 메시지도 이 로거로 미러링되므로(component=status)
// 화면이 없는 환경에서는 로그가 유일한 관측 수단이다.
func Init(cfg config.Config) {
	var w io.Writer = os.Stdout
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.LogLevel))
	zlog.Logger = New(cfg, w)

	// 표준 log 패키지 출력도 zerolog 로 돌린다
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}

// New builds the logger Init installs, writing to w.
func New(cfg config.Config, w io.Writer) zerolog.Logger {
	level := ParseLevel(cfg.LogLevel)

	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	if cfg.LogSampleN <= 1 {
		return base
	}

	// Warn/Error 샘플러는 nil: 장애 로그는 버리지 않는다
	return base.Sample(&zerolog.LevelSampler{
		DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
		InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
	})
}

// ParseLevel 은 알 수 없는 값이면 info 로 둔다.
func ParseLevel(s string) zerolog.Level {
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s))); err == nil && s != "" {
		return l
	}
	return zerolog.InfoLevel
}
