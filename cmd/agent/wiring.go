package main

import (
	"context"
	"fmt"

	"gps2rest/internal/config"
	"gps2rest/internal/location"
	"gps2rest/internal/server"
	"gps2rest/internal/worker"

	zlog "github.com/rs/zerolog/log"
)

// openStore 는 설정 파일이 있으면 viper 기반 store 를, 없으면 메모리 store 를 만든다.
func openStore(cfg config.Config) (config.Store, server.SettingsEditor) {
	if cfg.SettingsFile == "" {
		rt := config.NewRuntime(cfg.Defaults)
		return rt, rt
	}

	fs, err := config.NewFileStore(cfg.SettingsFile, cfg.Defaults)
	if err != nil {
		zlog.Fatal().Err(err).Str("file", cfg.SettingsFile).Msg("open settings file")
	}
	fs.Watch()
	return fs, fs
}

// openSource
//
// 우선순위: GPSD_ADDR → STATIC_LOCATION.
// gpsd 세션은 ctx 가 끝날 때까지 재연결하며 돈다.
func openSource(ctx context.Context, cfg config.Config) (location.Source, error) {
	switch {
	case cfg.GPSDAddr != "":
		g := location.NewGPSD(cfg.GPSDAddr, cfg.LocationMaxAge)
		go g.Run(ctx)
		zlog.Info().Str("addr", cfg.GPSDAddr).Msg("using gpsd location source")
		return g, nil

	case cfg.StaticLocation != "":
		s, err := location.ParseStatic(cfg.StaticLocation)
		if err != nil {
			return nil, err
		}
		zlog.Info().Float64("lat", s.Latitude).Float64("lon", s.Longitude).Msg("using static location")
		return s, nil

	default:
		return nil, fmt.Errorf("no location source configured: set GPSD_ADDR or STATIC_LOCATION")
	}
}

// service 는 scheduler 를 위치 소스와 묶어 HTTP 제어면에 노출한다.
type service struct {
	sched *worker.Scheduler
	src   location.Source
}

func (s *service) Start() bool   { return s.sched.Start(s.src) }
func (s *service) Stop()         { s.sched.Stop() }
func (s *service) Running() bool { return s.sched.Running() }
