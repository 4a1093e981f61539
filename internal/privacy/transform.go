// Package privacy 는 전송 직전 좌표에 적용하는 위치 보호 변환이다.
package privacy

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gps2rest/internal/model"
)

// Transformer 는 난수원을 가진 변환기.
// sample loop 와 테스트가 동시에 써도 되도록 rng 접근은 mutex 로 보호한다.
type Transformer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewTransformer 는 시각 기반 seed 로 변환기를 만든다.
func NewTransformer() *Transformer {
	now := uint64(time.Now().UnixNano())
	return NewSeededTransformer(now, now>>17|1)
}

// NewSeededTransformer 는 재현 가능한 변환기 (테스트 벡터용).
func NewSeededTransformer(seed1, seed2 uint64) *Transformer {
	return &Transformer{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Apply
// ------------------------------------------------------------
// 정책에 따라 새 Coordinate 를 만든다. 실패하지 않는다.
// Accuracy / Timestamp 는 그대로 복사된다.
func (t *Transformer) Apply(c model.Coordinate, p Policy) model.Coordinate {
	p = p.normalized()

	switch p.Mode {
	case ModeRandomNoise:
		t.mu.Lock()
		theta := t.rng.Float64() * 2 * math.Pi
		u := t.rng.Float64()
		t.mu.Unlock()
		return addNoise(c, p.NoiseRadius, theta, u)

	case ModeTruncate:
		return truncate(c, p.Precision)

	default:
		return c
	}
}

// addNoise
//
// geo-indistinguishability 형태의 극좌표 노이즈.
//   - 각도 θ ~ U[0, 2π)
//   - 반경 r = -radius · ln(1-u), u ~ U[0,1)  (지수분포 → 원점 근처 밀도가 높다)
//
// 미터 오프셋을 각도로 바꿀 때 경도는 cos(lat) 로 나눠 자오선 수렴을 보정한다.
// 이 보정이 빠지면 고위도에서 경도 노이즈가 실제 거리보다 훨씬 작아진다.
func addNoise(c model.Coordinate, radius, theta, u float64) model.Coordinate {
	r := -radius * math.Log(1-u)

	north := r * math.Cos(theta)
	east := r * math.Sin(theta)

	dLat := north / EarthRadiusMeters * radToDeg
	dLon := east / (EarthRadiusMeters * math.Cos(c.Latitude*degToRad)) * radToDeg

	return c.WithPosition(c.Latitude+dLat, c.Longitude+dLon)
}

// truncate 는 floor 기반 하향 양자화. 반올림이 아니다.
// -122.0845 → -122.085 (precision 3) 처럼 항상 더 작은 값으로 간다.
func truncate(c model.Coordinate, precision int) model.Coordinate {
	f := math.Pow(10, float64(precision))
	return c.WithPosition(
		floorToGrid(c.Latitude, f),
		floorToGrid(c.Longitude, f),
	)
}

// gridEpsilon 은 v*f 의 이진 표현 오차 허용치 (grid 단위).
const gridEpsilon = 1e-6

// floorToGrid
//
// k/f 는 이진수로 정확히 표현되지 않아서 (k/f)*f 가 k 보다 아주 조금 작게
// 나올 수 있다. 그대로 floor 하면 이미 양자화된 값이 한 칸 더 내려가므로
// grid 위에 있는 값은 먼저 grid 에 붙인다. 덕분에 truncate 는 멱등이다.
func floorToGrid(v, f float64) float64 {
	scaled := v * f
	if r := math.Round(scaled); math.Abs(scaled-r) <= gridEpsilon {
		return r / f
	}
	return math.Floor(scaled) / f
}
