package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gps2rest/internal/config"
	"gps2rest/internal/metrics"
	"gps2rest/internal/privacy"
	"gps2rest/internal/queue"
	"gps2rest/internal/statuslog"

	"github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"
)

// maxSettingsBody 는 PUT /settings 요청 body 상한.
const maxSettingsBody = 8 << 10

// Service 는 telemetry 서비스 제어면 (main 의 scheduler 래퍼).
type Service interface {
	Running() bool
	Start() bool
	Stop()
}

// SettingsEditor 는 런타임 설정 변경 (*config.Runtime / *config.FileStore).
// Update 는 전부 적용하거나 아무것도 바꾸지 않는다.
type SettingsEditor interface {
	Update(u config.Update) error
}

type Options struct {
	Store    config.Store
	Settings SettingsEditor // nil 이면 PUT /settings 비활성
	Service  Service        // nil 이면 /service/* 비활성
	Queue    *queue.Offline
	Status   *statuslog.Log
	Metrics  *metrics.Metrics
	Exporter http.Handler // nil 이면 /metrics 는 텍스트 카운터
}

type Handler struct {
	opts Options
}

func NewHandler(opts Options) *Handler {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Handler{opts: opts}
}

// Register
//
// 엔드포인트:
//   - /status        : 현재 상태 스냅샷 (JSON)
//   - /status/stream : Status Log 변경을 SSE 로 push
//   - /counters      : 내부 카운터 (텍스트)
//   - /metrics       : Prometheus exporter
//   - /health        : liveness
//   - /settings      : 설정 조회 / 변경
//   - /service/start, /service/stop
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/status", h.HandleStatus)
	mux.HandleFunc("/status/stream", h.HandleStream)
	mux.HandleFunc("/counters", h.HandleCounters)
	mux.HandleFunc("/settings", h.HandleSettings)
	mux.HandleFunc("/service/start", h.HandleService)
	mux.HandleFunc("/service/stop", h.HandleService)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})

	if h.opts.Exporter != nil {
		mux.Handle("/metrics", h.opts.Exporter)
	} else {
		mux.HandleFunc("/metrics", h.HandleCounters)
	}
}

// ------------------------------------------------------------
// 응답 타입
// ------------------------------------------------------------

type PolicyView struct {
	Mode         string  `json:"mode"`
	Label        string  `json:"label"`
	NoiseRadiusM float64 `json:"noise_radius_m,omitempty"`
	Precision    int     `json:"precision,omitempty"`
	RadiusM      float64 `json:"radius_m"`
	Strength     int     `json:"strength"`
	Description  string  `json:"description"`
}

type QueueView struct {
	Length   int `json:"length"`
	Capacity int `json:"capacity"`
}

type StatusView struct {
	Running         bool              `json:"running"`
	URL             string            `json:"url"`
	IntervalSeconds int               `json:"interval_seconds"`
	SigningEnabled  bool              `json:"signing_enabled"`
	Policy          PolicyView        `json:"policy"`
	Queue           QueueView         `json:"queue"`
	Lines           []string          `json:"lines"`
	Entries         []statuslog.Entry `json:"entries"`
}

func policyView(p privacy.Policy) PolicyView {
	v := PolicyView{
		Mode:        p.Mode.String(),
		Label:       p.String(),
		RadiusM:     privacy.NominalRadius(p),
		Strength:    privacy.Strength(p),
		Description: privacy.Description(p),
	}
	switch p.Mode {
	case privacy.ModeRandomNoise:
		v.NoiseRadiusM = p.NoiseRadius
	case privacy.ModeTruncate:
		v.Precision = p.Precision
	}
	return v
}

func (h *Handler) snapshot() StatusView {
	v := StatusView{
		Lines:   []string{},
		Entries: []statuslog.Entry{},
	}
	if s := h.opts.Store; s != nil {
		v.URL = s.BaseURL()
		v.IntervalSeconds = int(s.Interval() / time.Second)
		v.SigningEnabled = s.SigningEnabled()
		v.Policy = policyView(s.Policy())
	}
	if h.opts.Service != nil {
		v.Running = h.opts.Service.Running()
	}
	if q := h.opts.Queue; q != nil {
		v.Queue = QueueView{Length: q.Len(), Capacity: q.Cap()}
	}
	if l := h.opts.Status; l != nil {
		v.Entries = l.Snapshot()
		for _, e := range v.Entries {
			v.Lines = append(v.Lines, e.String())
		}
	}
	return v
}

// ------------------------------------------------------------
// handlers
// ------------------------------------------------------------

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

// HandleStream
//
// Status Log 구독을 SSE 로 흘려보낸다. 연결 직후 현재 스냅샷을 한 번 보낸다.
// 느린 클라이언트는 중간 업데이트를 놓칠 수 있다 (항상 최신 스냅샷만 의미 있음).
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if h.opts.Status == nil {
		http.NotFound(w, r)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates, cancel := h.opts.Status.Subscribe(4)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, h.opts.Status.Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case entries, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, entries); err != nil {
				zlog.Debug().Err(err).Msg("status stream closed")
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, entries []statuslog.Entry) error {
	b, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: status\ndata: %s\n\n", b)
	return err
}

func (h *Handler) HandleCounters(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.opts.Metrics.String())
}

// settingsRequest 는 부분 갱신. 빠진 필드는 그대로 둔다.
type settingsRequest struct {
	URL             *string `json:"url"`
	IntervalSeconds *int    `json:"interval_seconds"`
	SigningEnabled  *bool   `json:"signing_enabled"`
	Privacy         *struct {
		Mode         string  `json:"mode"`
		NoiseRadiusM float64 `json:"noise_radius_m"`
		Precision    int     `json:"precision"`
	} `json:"privacy"`
}

// HandleSettings
//
// GET 은 /status 와 같은 스냅샷. PUT 은 검증 후 적용하며,
// 잘못된 값이 하나라도 있으면 아무것도 바꾸지 않고 400 을 돌려준다.
// 환경변수가 고정한 키는 409, 파일 기록 실패는 500.
func (h *Handler) HandleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.snapshot())
		return
	case http.MethodPut, http.MethodPost:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if h.opts.Settings == nil {
		http.Error(w, "settings are read-only", http.StatusForbidden)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSettingsBody)
	defer r.Body.Close()

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	u := config.Update{
		BaseURL:         req.URL,
		IntervalSeconds: req.IntervalSeconds,
		SigningEnabled:  req.SigningEnabled,
	}
	if req.Privacy != nil {
		mode, err := privacy.ParseMode(req.Privacy.Mode)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p := privacy.Policy{Mode: mode, NoiseRadius: req.Privacy.NoiseRadiusM, Precision: req.Privacy.Precision}
		switch {
		case mode == privacy.ModeRandomNoise && p.NoiseRadius == 0:
			p.NoiseRadius = privacy.DefaultNoiseRadius
		case mode == privacy.ModeTruncate && p.Precision == 0:
			p.Precision = privacy.DefaultPrecision
		}
		u.Policy = &p
	}

	if err := h.opts.Settings.Update(u); err != nil {
		http.Error(w, err.Error(), settingsErrorCode(err))
		return
	}

	var changed []string
	if u.BaseURL != nil {
		changed = append(changed, "url")
	}
	if u.IntervalSeconds != nil {
		changed = append(changed, "interval")
	}
	if u.Policy != nil {
		changed = append(changed, "privacy")
	}
	if u.SigningEnabled != nil {
		changed = append(changed, "signing")
	}
	if len(changed) > 0 {
		zlog.Info().Str("fields", strings.Join(changed, ",")).Msg("settings updated")
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

// HandleService 는 POST /service/start, /service/stop.
// 이미 그 상태이면 409.
func (h *Handler) HandleService(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.opts.Service == nil {
		http.NotFound(w, r)
		return
	}

	switch r.URL.Path {
	case "/service/start":
		if !h.opts.Service.Start() {
			http.Error(w, "already running", http.StatusConflict)
			return
		}
	case "/service/stop":
		if !h.opts.Service.Running() {
			http.Error(w, "not running", http.StatusConflict)
			return
		}
		h.opts.Service.Stop()
	default:
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

func settingsErrorCode(err error) int {
	switch {
	case errors.Is(err, config.ErrEnvOverride):
		return http.StatusConflict
	case errors.Is(err, config.ErrPersist):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		zlog.Error().Err(err).Msg("encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}
