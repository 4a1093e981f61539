package privacy

import (
	"fmt"
	"strings"
)

// Mode 는 위치 보호 방식.
type Mode int

const (
	ModeOriginal Mode = iota
	ModeRandomNoise
	ModeTruncate
)

const (
	DefaultNoiseRadius = 111.0 // meters
	DefaultPrecision   = 3     // ~110 m

	MinPrecision = 1
	MaxPrecision = 6
)

func (m Mode) String() string {
	switch m {
	case ModeOriginal:
		return "original"
	case ModeRandomNoise:
		return "noise"
	case ModeTruncate:
		return "truncate"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts the spellings used in settings files and env vars.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "original", "precision", "precision location":
		return ModeOriginal, nil
	case "noise", "random_noise", "random-noise", "add random noise":
		return ModeRandomNoise, nil
	case "truncate", "truncation", "truncate coordinates":
		return ModeTruncate, nil
	default:
		return ModeOriginal, fmt.Errorf("unknown privacy mode %q", s)
	}
}

// Policy
// ------------------------------------------------------------
// 한 시점에 활성화된 보호 정책 (tagged variant).
//   - Original:    변환 없음
//   - RandomNoise: NoiseRadius(m) 기반 geo-indistinguishability 노이즈
//   - Truncate:    Precision(1..6) 자리까지 floor 양자화
//
// Configuration Store 가 보관하고 매 샘플마다 새로 읽는다.
type Policy struct {
	Mode        Mode
	NoiseRadius float64
	Precision   int
}

func Original() Policy {
	return Policy{Mode: ModeOriginal}
}

func RandomNoise(radiusMeters float64) Policy {
	return Policy{Mode: ModeRandomNoise, NoiseRadius: radiusMeters}
}

func Truncate(precision int) Policy {
	return Policy{Mode: ModeTruncate, Precision: precision}
}

// Validate rejects parameters outside the supported range.
func (p Policy) Validate() error {
	switch p.Mode {
	case ModeOriginal:
		return nil
	case ModeRandomNoise:
		if p.NoiseRadius < 0 {
			return fmt.Errorf("noise radius must be >= 0, got %v", p.NoiseRadius)
		}
		return nil
	case ModeTruncate:
		if p.Precision < MinPrecision || p.Precision > MaxPrecision {
			return fmt.Errorf("truncate precision must be %d..%d, got %d", MinPrecision, MaxPrecision, p.Precision)
		}
		return nil
	default:
		return fmt.Errorf("unknown privacy mode %d", int(p.Mode))
	}
}

// normalized 는 비어 있거나 범위 밖 파라미터를 기본값으로 바꾼다.
// 설정 파일이 깨져 있어도 변환은 실패하지 않아야 하기 때문.
func (p Policy) normalized() Policy {
	switch p.Mode {
	case ModeRandomNoise:
		if p.NoiseRadius <= 0 {
			p.NoiseRadius = DefaultNoiseRadius
		}
	case ModeTruncate:
		if p.Precision < MinPrecision || p.Precision > MaxPrecision {
			p.Precision = DefaultPrecision
		}
	}
	return p
}

func (p Policy) String() string {
	p = p.normalized()
	switch p.Mode {
	case ModeRandomNoise:
		return fmt.Sprintf("noise(%.0fm)", p.NoiseRadius)
	case ModeTruncate:
		return fmt.Sprintf("truncate(%d)", p.Precision)
	default:
		return p.Mode.String()
	}
}

var truncationRadius = map[int]float64{
	1: 11000,
	2: 1100,
	3: 110,
	4: 11,
	5: 1.1,
	6: 0.11,
}

// NominalRadius 는 UI/텔레메트리 표시용 보호 반경(m).
// 변환 계산에는 쓰이지 않는다.
func NominalRadius(p Policy) float64 {
	p = p.normalized()
	switch p.Mode {
	case ModeRandomNoise:
		return p.NoiseRadius
	case ModeTruncate:
		return truncationRadius[p.Precision]
	default:
		return 0
	}
}

// Strength 는 대략적인 보호 강도(%)이다.
func Strength(p Policy) int {
	p = p.normalized()
	switch p.Mode {
	case ModeRandomNoise:
		return 90
	case ModeTruncate:
		return [...]int{0, 90, 80, 60, 40, 20, 10}[p.Precision]
	default:
		return 0
	}
}

func Description(p Policy) string {
	p = p.normalized()
	switch p.Mode {
	case ModeRandomNoise:
		return fmt.Sprintf("Adds random noise within ±%.0fm radius for geo-indistinguishability", p.NoiseRadius)
	case ModeTruncate:
		return fmt.Sprintf("Truncates coordinates to %d decimals (±%sm)", p.Precision, formatRadius(truncationRadius[p.Precision]))
	default:
		return "No privacy protection - original GPS precision"
	}
}

func formatRadius(r float64) string {
	if r >= 1 && r == float64(int64(r)) {
		return fmt.Sprintf("%d", int64(r))
	}
	return fmt.Sprintf("%g", r)
}
