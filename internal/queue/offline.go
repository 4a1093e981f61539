// Package queue holds coordinates that could not be delivered yet.
package queue

import (
	"sync"

	"gps2rest/internal/model"
)

// DefaultCapacity 는 Offline Queue 기본 용량.
const DefaultCapacity = 100

// Offline
// ------------------------------------------------------------
// 전송 실패한 좌표를 보관하는 bounded FIFO.
//
// 용량 초과 시 새 좌표를 버린다 (오래된 항목을 밀어내지 않는다).
// 덕분에 queue 안의 좌표는 항상 시간 순서를 유지한다.
//
// 첫 시도 실패(sample loop)와 재시도 실패(retry loop)가 동시에
// 들어올 수 있으므로 용량 검사 + append 는 하나의 lock 안에서 한다.
type Offline struct {
	mu       sync.Mutex
	items    []model.Coordinate
	capacity int
}

func New(capacity int) *Offline {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Offline{
		items:    make([]model.Coordinate, 0, capacity),
		capacity: capacity,
	}
}

// Offer enqueues c if there is room.
// 반환값 n 은 호출 직후 queue 길이, ok 는 실제로 들어갔는지.
func (q *Offline) Offer(c model.Coordinate) (n int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return len(q.items), false
	}
	q.items = append(q.items, c)
	return len(q.items), true
}

// Drain 은 현재 내용을 통째로 꺼내고 queue 를 비운다 (retry pass 스냅샷).
func (q *Offline) Drain() []model.Coordinate {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = make([]model.Coordinate, 0, q.capacity)
	return out
}

func (q *Offline) Snapshot() []model.Coordinate {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]model.Coordinate, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Offline) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Offline) Cap() int {
	return q.capacity
}
