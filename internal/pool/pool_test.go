package pool

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestGetBodyIsEmpty(t *testing.T) {
	b := GetBody()
	b.WriteString("leftover")
	PutBody(b)

	if got := GetBody(); got.Len() != 0 {
		t.Fatalf("recycled body not reset: %q", got.String())
	}
}

func TestPutBufferSkipsOversized(t *testing.T) {
	big := bytes.NewBuffer(make([]byte, 0, MaxBufferCap+1))
	PutBuffer(big)

	// 풀이 비어 있거나 다른 버퍼를 주더라도 oversized 버퍼는 아니어야 한다
	if got := GetBuffer(); got.Cap() > MaxBufferCap {
		t.Fatalf("oversized buffer returned from pool: cap=%d", got.Cap())
	}
}

func TestGzipPoolWriterRoundTrip(t *testing.T) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	gz := GzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)
	gz.Write([]byte("hello"))
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	GzipPool.Put(gz)

	r, err := gzip.NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	out.ReadFrom(r)
	if out.String() != "hello" {
		t.Fatalf("round trip = %q", out.String())
	}
}
