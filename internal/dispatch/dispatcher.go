package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gps2rest/internal/config"
	"gps2rest/internal/metrics"
	"gps2rest/internal/model"
	"gps2rest/internal/pool"
	"gps2rest/internal/queue"
	"gps2rest/internal/statuslog"

	zlog "github.com/rs/zerolog/log"
)

// 상태 메시지에 싣는 응답 body 최대 길이
const maxBodyBytes = 256

// NetworkMonitor 는 "검증된 인터넷 연결" 여부를 알려준다 (*netmon.Monitor).
type NetworkMonitor interface {
	Available(ctx context.Context) bool
}

// Signer 는 요청마다 Bearer 토큰을 만든다 (*signing.Signer).
type Signer interface {
	Ready() bool
	Token(c model.Coordinate) (string, error)
}

// Recorder 는 전송에 성공한 좌표를 받는다 (S3 track archive).
type Recorder interface {
	Record(c model.Coordinate)
}

// Observer 는 전송 지연을 관측한다 (*metrics.Exporter).
type Observer interface {
	ObserveLatency(outcome string, d time.Duration)
}

type Options struct {
	Store   config.Store
	Network NetworkMonitor
	Router  *Router
	Queue   *queue.Offline
	Status  *statuslog.Log
	Metrics *metrics.Metrics

	// 선택
	Signer   Signer
	Recorder Recorder
	Observer Observer
}

// Dispatcher
// ------------------------------------------------------------
// 좌표 하나를 목적지로 보내고 결과를 Outcome 으로 돌려준다.
//
//  1. URL = base + "/" + "lat,lon"  (잘못되면 ConfigError, 호출 없음)
//  2. 네트워크 없음 → Offline Queue 에 적재 (재전송 포함)
//  3. Router 로 client 선택 (Private + Wi-Fi → Wi-Fi bind)
//  4. 빈 body POST, 서명이 켜져 있으면 Authorization: Bearer
//  5. 2xx Sent / non-2xx ServerError / transport 오류 NetworkError
//     최초 전송 실패만 큐에 넣는다. 재전송 실패 처리는 Scheduler 몫.
//
// 모든 결과는 Status Log 에 한 줄 남긴다. Offline Queue 를 채우는 곳은
// 이 Dispatcher 와 Scheduler 의 재적재뿐이다.
type Dispatcher struct {
	store   config.Store
	network NetworkMonitor
	router  *Router
	queue   *queue.Offline
	status  *statuslog.Log
	metrics *metrics.Metrics

	signer   Signer
	recorder Recorder
	observer Observer
}

func New(opts Options) *Dispatcher {
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	r := opts.Router
	if r == nil {
		r = NewRouter(nil, nil, nil, nil)
	}
	return &Dispatcher{
		store:    opts.Store,
		network:  opts.Network,
		router:   r,
		queue:    opts.Queue,
		status:   opts.Status,
		metrics:  m,
		signer:   opts.Signer,
		recorder: opts.Recorder,
		observer: opts.Observer,
	}
}

// Send delivers c. ctx bounds the request; callers detach it from shutdown.
func (d *Dispatcher) Send(ctx context.Context, c model.Coordinate, isRetry bool) model.Outcome {
	start := time.Now()
	out := d.send(ctx, c, isRetry)
	out.Retry = isRetry

	if d.observer != nil {
		d.observer.ObserveLatency(out.Kind.String(), time.Since(start))
	}
	d.count(out)

	zlog.Debug().
		Str("outcome", out.Kind.String()).
		Int("status", out.StatusCode).
		Bool("retry", isRetry).
		Bool("queued", out.Queued).
		Bool("dropped", out.Dropped).
		Dur("took", time.Since(start)).
		Msg("dispatch")

	return out
}

func (d *Dispatcher) send(ctx context.Context, c model.Coordinate, isRetry bool) model.Outcome {
	// 1) URL
	target := strings.TrimRight(d.store.BaseURL(), "/") + "/" + c.PathSegment()
	u, err := config.ParseURL(target)
	if err != nil {
		msg := "✗ Invalid URL configuration: " + err.Error()
		d.status.Add(msg)
		return model.Outcome{Kind: model.OutcomeConfigError, Message: msg}
	}

	// 2) 네트워크
	if d.network != nil && !d.network.Available(ctx) {
		out := model.Outcome{Kind: model.OutcomeNetworkError, Message: "network unavailable"}
		d.enqueue(c, "Network unavailable", &out)
		return out
	}

	// 3) client
	client, route := d.router.Route(ctx, u)

	// 4) 요청
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), http.NoBody)
	if err != nil {
		msg := "✗ Invalid URL configuration: " + err.Error()
		d.status.Add(msg)
		return model.Outcome{Kind: model.OutcomeConfigError, Message: msg}
	}
	d.sign(req, c)

	resp, err := client.Do(req)
	if err != nil {
		out := model.Outcome{Kind: model.OutcomeNetworkError, Message: err.Error()}
		d.status.Add(prefix(isRetry, "✗") + " Network error: " + err.Error())
		if !isRetry {
			d.enqueue(c, "Send failed", &out)
		}
		zlog.Debug().Err(err).Str("route", route).Str("host", u.Host).Msg("request failed")
		return out
	}
	body := readBody(resp)

	// 5) 분류
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.status.Add(fmt.Sprintf("%s GPS data sent to %s (HTTP %d): %s", prefix(isRetry, "✓"), u.Host, resp.StatusCode, body))
		if d.recorder != nil {
			d.recorder.Record(c)
		}
		return model.Outcome{Kind: model.OutcomeSent, StatusCode: resp.StatusCode, Body: body}
	}

	out := model.Outcome{Kind: model.OutcomeServerError, StatusCode: resp.StatusCode, Body: body}
	d.status.Add(fmt.Sprintf("%s Server error %d from %s: %s", prefix(isRetry, "✗"), resp.StatusCode, u.Host, body))
	if !isRetry {
		d.enqueue(c, "Send failed", &out)
	}
	return out
}

// enqueue 는 남은 자리가 있으면 큐에 넣고 결과를 out 에 기록한다.
func (d *Dispatcher) enqueue(c model.Coordinate, reason string, out *model.Outcome) {
	n, ok := d.queue.Offer(c)
	if !ok {
		out.Dropped = true
		msg := fmt.Sprintf("⚠ %s, queue full, dropping", reason)
		out.Message = msg
		d.status.Add(msg)
		return
	}
	out.Queued = true
	msg := fmt.Sprintf("⚠ %s, queued (%d/%d)", reason, n, d.queue.Cap())
	if out.Message == "" {
		out.Message = msg
	}
	d.status.Add(msg)
}

// sign 은 서명이 켜져 있을 때만 헤더를 붙인다. 키가 없으면 서명 없이 보낸다.
func (d *Dispatcher) sign(req *http.Request, c model.Coordinate) {
	if !d.store.SigningEnabled() {
		return
	}
	if d.signer == nil || !d.signer.Ready() {
		metrics.Inc(&d.metrics.UnsignedTotal)
		zlog.Warn().Msg("signing enabled but no key installed, sending unsigned")
		return
	}
	tok, err := d.signer.Token(c)
	if err != nil {
		metrics.Inc(&d.metrics.UnsignedTotal)
		zlog.Warn().Err(err).Msg("sign request, sending unsigned")
		return
	}
	req.Header.Set("Authorization", "Bearer "+tok)
}

func (d *Dispatcher) count(out model.Outcome) {
	m := d.metrics
	switch out.Kind {
	case model.OutcomeSent:
		if out.Retry {
			metrics.Inc(&m.RetrySentTotal)
		} else {
			metrics.Inc(&m.SentTotal)
		}
	case model.OutcomeServerError:
		metrics.Inc(&m.ServerErrorsTotal)
	case model.OutcomeNetworkError:
		metrics.Inc(&m.NetworkErrorsTotal)
	case model.OutcomeConfigError:
		metrics.Inc(&m.ConfigErrorsTotal)
	}
	if out.Queued {
		metrics.Inc(&m.QueuedTotal)
	}
	if out.Dropped {
		metrics.Inc(&m.DroppedTotal)
	}
}

func prefix(isRetry bool, mark string) string {
	if isRetry {
		return "Retry " + mark
	}
	return mark
}

// readBody 는 앞 maxBodyBytes 만 남기고 나머지는 버린다 (keep-alive 재사용 위해 끝까지 읽음).
func readBody(resp *http.Response) string {
	defer resp.Body.Close()

	buf := pool.GetBody()
	defer pool.PutBody(buf)

	_, _ = io.Copy(buf, io.LimitReader(resp.Body, maxBodyBytes))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	// 잘린 multi-byte 문자는 버린다
	return strings.TrimSpace(strings.ToValidUTF8(buf.String(), ""))
}
