package dispatch

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"gps2rest/internal/netmon"

	zlog "github.com/rs/zerolog/log"
)

// WiFiLocator 는 현재 연결된 Wi-Fi 인터페이스를 알려준다 (*netmon.Monitor).
type WiFiLocator interface {
	WiFi() (netmon.Interface, bool)
}

// ClientFactory builds a client bound to the given interface.
type ClientFactory func(it netmon.Interface) (*http.Client, error)

// Router
// ------------------------------------------------------------
// 목적지에 따라 http.Client 를 고른다.
//   - Private 목적지 + Wi-Fi 연결됨 → Wi-Fi 주소에 bind 된 client
//   - 그 외 → 기본 client (OS 라우팅, 보통 모바일/유선)
//
// Wi-Fi client 는 인터페이스 이름+주소 별로 캐시한다.
// 주소가 바뀌면 (재연결, DHCP 갱신) 새로 만든다.
type Router struct {
	classifier *Classifier
	wifi       WiFiLocator
	def        *http.Client
	factory    ClientFactory

	mu      sync.Mutex
	wifiKey string
	wifiCli *http.Client
}

func NewRouter(classifier *Classifier, wifi WiFiLocator, def *http.Client, factory ClientFactory) *Router {
	if classifier == nil {
		classifier = NewClassifier()
	}
	if def == nil {
		def = http.DefaultClient
	}
	return &Router{
		classifier: classifier,
		wifi:       wifi,
		def:        def,
		factory:    factory,
	}
}

// Route 는 client 와 로그용 경로 이름("default" / "wifi:wlan0")을 돌려준다.
func (r *Router) Route(ctx context.Context, u *url.URL) (*http.Client, string) {
	if r.wifi == nil || r.factory == nil {
		return r.def, "default"
	}
	if r.classifier.Classify(ctx, u.Hostname()) != Private {
		return r.def, "default"
	}

	it, ok := r.wifi.WiFi()
	if !ok {
		return r.def, "default"
	}

	cli, err := r.wifiClient(it)
	if err != nil {
		zlog.Warn().Err(err).Str("iface", it.Name).Msg("wifi client unavailable, using default route")
		return r.def, "default"
	}
	return cli, "wifi:" + it.Name
}

func (r *Router) wifiClient(it netmon.Interface) (*http.Client, error) {
	key := it.Name + "/" + it.Addr.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.wifiCli != nil && r.wifiKey == key {
		return r.wifiCli, nil
	}

	cli, err := r.factory(it)
	if err != nil {
		return nil, err
	}
	if r.wifiCli != nil {
		r.wifiCli.CloseIdleConnections()
	}
	r.wifiKey = key
	r.wifiCli = cli
	return cli, nil
}
