package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gps2rest/internal/config"
	"gps2rest/internal/dispatch"
	"gps2rest/internal/logger"
	"gps2rest/internal/metrics"
	"gps2rest/internal/netmon"
	"gps2rest/internal/queue"
	"gps2rest/internal/server"
	"gps2rest/internal/signing"
	"gps2rest/internal/statuslog"
	"gps2rest/internal/transport"
	"gps2rest/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	zlog "github.com/rs/zerolog/log"
)

func main() {

	// ====================================================================
	// Config & Logger
	// ====================================================================
	//
	// - Config: 환경변수 기반 (프로세스 수명 동안 고정)
	// - Store: 런타임에 바뀌는 설정 (URL, 주기, privacy, 서명)
	//   SETTINGS_FILE 이 있으면 viper 로 읽고 파일 변경을 감시한다.
	// ====================================================================
	cfg := config.Load()
	logger.Init(cfg)

	store, editor := openStore(cfg)

	// ====================================================================
	// Metrics / Status Log / Offline Queue
	// ====================================================================
	m := metrics.New()
	status := statuslog.New(statuslog.DefaultCapacity, nil)
	q := queue.New(cfg.QueueCapacity)

	reg := prometheus.NewRegistry()
	exp, err := metrics.NewExporter(reg, m, q.Len)
	if err != nil {
		zlog.Fatal().Err(err).Msg("init prometheus exporter")
	}

	// ====================================================================
	// Network / Transport
	// ====================================================================
	//
	// - netmon: "검증된 인터넷 연결" 판단 (probe 결과는 ProbeTTL 동안 캐시)
	// - 기본 client: OS 라우팅
	// - Wi-Fi client: Private 목적지일 때 Wi-Fi 주소에 bind (Router 가 캐시)
	// ====================================================================
	mon := netmon.New(netmon.Options{
		ProbeAddr:     cfg.ProbeAddr,
		ProbeTimeout:  cfg.ProbeTimeout,
		ProbeTTL:      cfg.ProbeTTL,
		WiFiInterface: cfg.WiFiInterface,
	})

	defClient, err := transport.NewClient(transport.Options{Timeout: cfg.HTTPTimeout})
	if err != nil {
		zlog.Fatal().Err(err).Msg("init http client")
	}
	factory := func(it netmon.Interface) (*http.Client, error) {
		return transport.NewClient(transport.Options{Timeout: cfg.HTTPTimeout, LocalAddr: it.Addr, Device: it.Name})
	}
	router := dispatch.NewRouter(dispatch.NewClassifier(), mon, defClient, factory)

	// ====================================================================
	// 서명 키
	// ====================================================================
	//
	// 키 파일이 없어도 기동한다. 서명이 켜져 있으면 서명 없이 보내고
	// gps2rest_unsigned_total 이 증가한다.
	// ====================================================================
	keys, err := signing.LoadHMACKeyFile(cfg.SigningKeyFile)
	if err != nil {
		zlog.Fatal().Err(err).Msg("load signing key")
	}
	signer := signing.NewSigner(keys, cfg.SigningIssuer)

	// ====================================================================
	// 위치 소스
	// ====================================================================
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	src, err := openSource(ctx, cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("init location source")
	}

	// ====================================================================
	// Spool / Archive (선택)
	// ====================================================================
	//
	// - Spool: 종료 시 Offline Queue 를 디스크에 저장, 기동 시 복원
	// - Archive: 전송 성공한 좌표를 S3 에 배치로 남긴다 (ARCHIVE_BUCKET 지정 시)
	// ====================================================================
	var spool worker.Spooler
	if cfg.SpoolDir != "" {
		sp, err := worker.NewSpool(worker.SpoolOptions{
			Dir:        cfg.SpoolDir,
			InstanceID: cfg.InstanceID,
			MaxAge:     cfg.SpoolMaxAge,
			MaxBytes:   cfg.SpoolMaxSizeBytes,
		}, m)
		if err != nil {
			zlog.Fatal().Err(err).Str("dir", cfg.SpoolDir).Msg("init spool")
		}
		spool = sp
	}

	var archive *worker.Archive
	if cfg.ArchiveBucket != "" {
		up, err := worker.NewS3Uploader(ctx, cfg.AWSRegion, worker.UploaderOptions{
			Bucket:  cfg.ArchiveBucket,
			Timeout: cfg.ArchiveTimeout,
			Retries: cfg.ArchiveRetries,
		}, m)
		if err != nil {
			zlog.Fatal().Err(err).Msg("init s3 uploader")
		}
		archive = worker.NewArchive(worker.ArchiveOptions{
			InstanceID:    cfg.InstanceID,
			Prefix:        cfg.ArchivePrefix,
			BatchSize:     cfg.ArchiveBatchSize,
			FlushInterval: cfg.ArchiveFlushInterval,
		}, up, m)
		archive.Start()
	}

	// ====================================================================
	// Dispatcher / Scheduler
	// ====================================================================
	dopts := dispatch.Options{
		Store:    store,
		Network:  mon,
		Router:   router,
		Queue:    q,
		Status:   status,
		Metrics:  m,
		Signer:   signer,
		Observer: exp,
	}
	if archive != nil {
		dopts.Recorder = archive
	}
	d := dispatch.New(dopts)

	sched := worker.NewScheduler(worker.Options{
		Store:         store,
		Sender:        d,
		Network:       mon,
		Queue:         q,
		Status:        status,
		Metrics:       m,
		Spool:         spool,
		Observer:      exp,
		RetryInterval: cfg.RetryInterval,
		RetryPacing:   cfg.RetryPacing,
		SendTimeout:   cfg.HTTPTimeout + 5*time.Second,
	})
	svc := &service{sched: sched, src: src}
	svc.Start()

	// ====================================================================
	// HTTP 상태 서버
	// ====================================================================
	var srv *http.Server
	if cfg.HTTPAddr != "" {
		mux := http.NewServeMux()
		server.NewHandler(server.Options{
			Store:    store,
			Settings: editor,
			Service:  svc,
			Queue:    q,
			Status:   status,
			Metrics:  m,
			Exporter: exp.Handler(),
		}).Register(mux)

		// WriteTimeout 은 두지 않는다 (/status/stream 이 장시간 연결)
		srv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       8 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			zlog.Info().Str("addr", cfg.HTTPAddr).Msg("status server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zlog.Fatal().Err(err).Msg("http server terminated")
			}
		}()
	}

	// ====================================================================
	// Graceful Shutdown
	// ====================================================================
	//
	// SIGTERM / SIGINT 수신 시:
	//   1) HTTP 서버 종료 (새 요청 차단, stream 연결 정리)
	//   2) Scheduler 종료: 진행 중인 전송은 끝까지 기다리고 큐를 spool 에 저장
	//   3) Archive flush
	//   4) gpsd 세션 종료
	// ====================================================================
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	zlog.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(sctx); err != nil {
			zlog.Error().Err(err).Msg("http shutdown")
		}
		cancel()
	}

	svc.Stop()

	if archive != nil {
		zlog.Info().Msg("flushing track archive...")
		archive.Shutdown()
	}

	stop()
	zlog.Info().Msg("shutdown complete")
}
