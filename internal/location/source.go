package location

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gps2rest/internal/model"
)

// Source 는 현재 위치를 돌려준다. false 면 이번 cycle 은 건너뛴다.
type Source interface {
	Current(ctx context.Context) (model.Coordinate, bool)
}

// Func adapts a plain function to Source.
type Func func(ctx context.Context) (model.Coordinate, bool)

func (f Func) Current(ctx context.Context) (model.Coordinate, bool) {
	return f(ctx)
}

// Static 은 고정 좌표를 매번 현재 시각으로 돌려준다 (고정 설치 장비용).
type Static struct {
	Latitude  float64
	Longitude float64
	Now       func() time.Time
}

func (s Static) Current(context.Context) (model.Coordinate, bool) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	c := model.Coordinate{Latitude: s.Latitude, Longitude: s.Longitude, Timestamp: now().UTC()}
	return c, c.Valid()
}

// ParseStatic parses "lat,lon".
func ParseStatic(s string) (Static, error) {
	latS, lonS, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return Static{}, fmt.Errorf("static location %q: want lat,lon", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	if err != nil {
		return Static{}, fmt.Errorf("static location latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
	if err != nil {
		return Static{}, fmt.Errorf("static location longitude: %w", err)
	}

	st := Static{Latitude: lat, Longitude: lon}
	if !(model.Coordinate{Latitude: lat, Longitude: lon}).Valid() {
		return Static{}, fmt.Errorf("static location %q out of range", s)
	}
	return st, nil
}
