// internal/model/coordinate.go
package model

import (
	"strconv"
	"time"
)

// Coordinate
// ------------------------------------------------------------
// 위치 소스에서 샘플링된 단일 위치 값.
// 파이프라인 전체(Scheduler → Privacy → Dispatcher → Queue/Spool/Archive)에서
// 그대로 전달되는 기본 단위이며, 값 타입으로만 다룬다.
//
// Privacy 변환은 항상 새 Coordinate 를 반환하고 원본을 수정하지 않는다.
type Coordinate struct {
	Latitude  float64   `json:"lat"`           // [-90, 90]
	Longitude float64   `json:"lon"`           // [-180, 180]
	Accuracy  *float64  `json:"acc,omitempty"` // 수평 정확도 (미터), 모르면 nil
	Timestamp time.Time `json:"ts"`            // 샘플링 시각
}

// WithPosition 은 위도/경도만 바꾼 복사본을 돌려준다.
func (c Coordinate) WithPosition(lat, lon float64) Coordinate {
	out := c
	out.Latitude = lat
	out.Longitude = lon
	return out
}

// Valid reports whether latitude and longitude are inside WGS-84 bounds.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// PathSegment 는 전송 URL 마지막 세그먼트 "<lat>,<lon>" 을 만든다.
// 가장 짧은 10진 표현을 사용하므로 37.422 는 "37.422" 그대로 나간다.
func (c Coordinate) PathSegment() string {
	return FormatDegrees(c.Latitude) + "," + FormatDegrees(c.Longitude)
}

func FormatDegrees(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Float64 is a helper for optional fields such as Accuracy.
func Float64(v float64) *float64 {
	return &v
}
