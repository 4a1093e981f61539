package location

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"gps2rest/internal/model"
)

func TestParseStatic(t *testing.T) {
	st, err := ParseStatic(" 37.422, -122.084 ")
	if err != nil {
		t.Fatal(err)
	}
	if st.Latitude != 37.422 || st.Longitude != -122.084 {
		t.Fatalf("ParseStatic = %+v", st)
	}

	for _, bad := range []string{"", "37.4", "x,1", "1,y", "91,0", "0,181"} {
		if _, err := ParseStatic(bad); err == nil {
			t.Errorf("ParseStatic(%q) expected error", bad)
		}
	}
}

func TestStatic_Current(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c, ok := Static{Latitude: 1, Longitude: 2, Now: func() time.Time { return at }}.Current(context.Background())
	if !ok || c.Latitude != 1 || c.Longitude != 2 || !c.Timestamp.Equal(at) {
		t.Fatalf("Current = %+v, %v", c, ok)
	}
}

func TestParseTPV(t *testing.T) {
	now := func() time.Time { return time.Unix(0, 0) }

	c, ok := parseTPV([]byte(`{"class":"TPV","mode":3,"time":"2024-05-01T12:00:00.000Z","lat":37.4219983,"lon":-122.084,"eph":4.5}`), now)
	if !ok {
		t.Fatal("expected fix")
	}
	if c.Latitude != 37.4219983 || c.Longitude != -122.084 || c.Accuracy == nil || *c.Accuracy != 4.5 {
		t.Fatalf("coordinate = %+v", c)
	}
	if c.Timestamp.Year() != 2024 {
		t.Fatalf("timestamp = %v", c.Timestamp)
	}

	c, ok = parseTPV([]byte(`{"class":"TPV","mode":2,"lat":1,"lon":2,"epx":3,"epy":7}`), now)
	if !ok || *c.Accuracy != 7 {
		t.Fatalf("epx/epy accuracy = %+v", c)
	}

	for _, line := range []string{
		`{"class":"TPV","mode":1}`,
		`{"class":"SKY","mode":3,"lat":1,"lon":2}`,
		`{"class":"TPV","mode":3,"lat":1}`,
		`{"class":"TPV","mode":3,"lat":95,"lon":2}`,
		`not json`,
	} {
		if _, ok := parseTPV([]byte(line), now); ok {
			t.Errorf("parseTPV(%s) should be rejected", line)
		}
	}
}

// fakeGPSD 는 WATCH 명령을 받은 뒤 lines 를 보내고 연결을 유지한다.
func fakeGPSD(t *testing.T, lines ...string) (addr string, watched chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	watched = make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		cmd, _ := bufio.NewReader(conn).ReadString('\n')
		watched <- cmd

		for _, l := range lines {
			conn.Write([]byte(l + "\n"))
		}
		time.Sleep(5 * time.Second)
	}()
	return ln.Addr().String(), watched
}

func TestGPSD_RunCachesLastFix(t *testing.T) {
	addr, watched := fakeGPSD(t,
		`{"class":"VERSION","release":"3.25"}`,
		`{"class":"TPV","mode":3,"lat":10.5,"lon":20.25}`,
		`{"class":"TPV","mode":3,"lat":10.6,"lon":20.35}`,
	)

	g := NewGPSD(addr, time.Minute)
	if _, ok := g.Current(context.Background()); ok {
		t.Fatal("fix before connecting")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	select {
	case cmd := <-watched:
		if !strings.HasPrefix(cmd, `?WATCH={"enable":true,"json":true}`) {
			t.Fatalf("watch command = %q", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("gpsd never received WATCH")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		c, ok := g.Current(context.Background())
		if ok && c.Latitude == 10.6 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("last fix = %+v, %v", c, ok)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestGPSD_StaleFixIsDropped(t *testing.T) {
	now := time.Unix(1000, 0)
	g := NewGPSD("unused", 30*time.Second)
	g.now = func() time.Time { return now }

	g.mu.Lock()
	g.last, g.seen, g.have = Static{Latitude: 1, Longitude: 1}.mustCurrent(), now, true
	g.mu.Unlock()

	if _, ok := g.Current(context.Background()); !ok {
		t.Fatal("fresh fix rejected")
	}
	now = now.Add(31 * time.Second)
	if _, ok := g.Current(context.Background()); ok {
		t.Fatal("stale fix returned")
	}
}

func (s Static) mustCurrent() model.Coordinate {
	c, _ := s.Current(context.Background())
	return c
}
