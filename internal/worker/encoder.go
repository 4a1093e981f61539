package worker

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"gps2rest/internal/model"
	"gps2rest/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// Encoder 는 좌표 배치를 JSONL → gzip 으로 직렬화한다.
// spool 파일과 S3 archive 객체가 같은 포맷을 쓴다.
//
//	{"lat":37.422,"lon":-122.084,"ts":"2024-05-01T12:00:00Z"}
//	{"lat":37.423,"lon":-122.085,"acc":4.5,"ts":"..."}
type Encoder struct{}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// EncodeBatchJSONLGZ returns a caller-owned slice.
// pool 버퍼를 그대로 돌려주면 다음 Get 에서 덮어써지므로 반드시 복사한다.
func (e *Encoder) EncodeBatchJSONLGZ(coords []model.Coordinate) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	gz := pool.GzipPool.Get().(*gzip.Writer)
	defer pool.GzipPool.Put(gz)
	gz.Reset(buf)

	enc := json.NewEncoder(gz)
	for i := range coords {
		if err := enc.Encode(&coords[i]); err != nil {
			_ = gz.Close()
			return nil, fmt.Errorf("encode coordinate %d: %w", i, err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}

	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())
	return data, nil
}

// DecodeBatchJSONLGZ
//
// 깨진 줄은 건너뛰고 skipped 로 센다. 파일 끝이 잘린 경우(전원 차단 등)에도
// 읽을 수 있는 앞부분은 살린다.
func (e *Encoder) DecodeBatchJSONLGZ(r io.Reader) (coords []model.Coordinate, skipped int, err error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, 0, fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var c model.Coordinate
		if json.Unmarshal(line, &c) != nil || !c.Valid() {
			skipped++
			continue
		}
		coords = append(coords, c)
	}
	if err := sc.Err(); err != nil && len(coords) == 0 {
		return nil, skipped, fmt.Errorf("read jsonl: %w", err)
	}
	return coords, skipped, nil
}
