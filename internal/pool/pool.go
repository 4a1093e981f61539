package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// agent 는 저사양 장비(라즈베리파이 등)에서 오래 돈다.
// 응답 body 읽기와 spool/archive gzip 인코딩에 쓰는 버퍼를
// 재사용해서 GC 부담을 일정하게 유지한다.
// ---------------------------------------------------------------

var (
	// BodyPool:
	//   - 서버 응답 body (최대 256B 만 쓰지만 읽기 여유분 포함)
	BodyPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 1024))
		},
	}

	// BufferPool:
	//   - spool 파일 / archive 배치의 gzip 결과
	//   - 좌표 100개 JSONL.gz 는 수 KB 수준
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 64*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용, BestSpeed
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// 이보다 커진 버퍼는 풀에 돌려주지 않는다.
const (
	MaxBodyCap   = 16 * 1024
	MaxBufferCap = 1 * 1024 * 1024
)

func GetBody() *bytes.Buffer {
	buf := BodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func PutBody(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBodyCap {
		buf.Reset()
		BodyPool.Put(buf)
	}
}

func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}
