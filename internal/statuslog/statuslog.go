// Package statuslog keeps the last few human-readable pipeline events.
package statuslog

import (
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// DefaultCapacity 는 화면에 보여주는 status 줄 수.
const DefaultCapacity = 5

// Entry 는 시각이 찍힌 status 메시지 한 줄.
type Entry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// String renders "[HH:MM:SS] message".
func (e Entry) String() string {
	return "[" + e.Time.Format("15:04:05") + "] " + e.Message
}

// Log
// ------------------------------------------------------------
// 고정 크기 ring buffer. 가장 오래된 항목부터 밀려난다.
//
// sample loop / retry loop 가 동시에 Add 하므로 mutex 로 보호하고,
// 외부 관찰자(HTTP /status, 구독자)는 항상 복사본만 받는다.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	now      func() time.Time

	subs   map[int]chan []Entry
	nextID int
}

// New creates a status log. now may be nil (time.Now).
func New(capacity int, now func() time.Time) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &Log{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
		now:      now,
		subs:     make(map[int]chan []Entry),
	}
}

// Add appends a message, evicting the oldest entry when full.
// 모든 메시지는 zerolog 에도 그대로 남긴다.
func (l *Log) Add(message string) {
	l.mu.Lock()
	entry := Entry{Time: l.now(), Message: message}

	if len(l.entries) >= l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, entry)

	snap := l.snapshotLocked()
	for _, ch := range l.subs {
		// 느린 구독자는 이번 업데이트를 놓친다 (다음 스냅샷에 포함됨)
		select {
		case ch <- snap:
		default:
		}
	}
	l.mu.Unlock()

	zlog.Info().Str("component", "status").Msg(message)
}

// Snapshot returns a copy of the current entries, oldest first.
func (l *Log) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Log) snapshotLocked() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Lines returns the rendered entries.
func (l *Log) Lines() []string {
	snap := l.Snapshot()
	out := make([]string, len(snap))
	for i, e := range snap {
		out[i] = e.String()
	}
	return out
}

func (l *Log) Capacity() int {
	return l.capacity
}

// Subscribe
//
// push 방식 관찰자용. Add 가 일어날 때마다 새 스냅샷이 채널로 간다.
// buffer 가 가득 차 있으면 그 업데이트는 버린다 (Add 는 절대 block 되지 않는다).
// 반환된 cancel 을 호출하면 채널이 닫힌다.
func (l *Log) Subscribe(buffer int) (<-chan []Entry, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan []Entry, buffer)

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
