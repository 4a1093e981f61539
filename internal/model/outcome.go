// internal/model/outcome.go
package model

import "fmt"

// OutcomeKind 는 한 번의 전송 시도 결과 분류.
type OutcomeKind int

const (
	OutcomeSent         OutcomeKind = iota // 2xx
	OutcomeServerError                     // non-2xx HTTP 응답
	OutcomeNetworkError                    // DNS / connect / timeout / 네트워크 없음
	OutcomeConfigError                     // 목적지 URL 이 잘못됨 (재시도 무의미)
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSent:
		return "sent"
	case OutcomeServerError:
		return "server_error"
	case OutcomeNetworkError:
		return "network_error"
	case OutcomeConfigError:
		return "config_error"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Outcome
// ------------------------------------------------------------
// Dispatcher.Send 의 반환값.
//
// Queued / Dropped 는 dispatcher 가 Offline Queue 에 대해 이미 한 일을 기록한다.
// retry loop 는 이 값을 보고 중복 enqueue 를 피한다.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int    // Sent / ServerError 에서만 의미 있음
	Body       string // 응답 body (잘라낸 값)
	Message    string // NetworkError / ConfigError 메시지
	Retry      bool   // retry 시도였는지
	Queued     bool   // 이번 호출에서 queue 에 들어갔는지
	Dropped    bool   // queue full 로 버려졌는지
}

func (o Outcome) Failed() bool {
	return o.Kind != OutcomeSent
}

// Retryable 은 재시도로 성공할 가능성이 있는 실패인지 알려준다.
// ConfigError 는 URL 을 고치기 전까지 절대 성공할 수 없으므로 제외.
func (o Outcome) Retryable() bool {
	return o.Kind == OutcomeServerError || o.Kind == OutcomeNetworkError
}
