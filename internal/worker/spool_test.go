package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gps2rest/internal/metrics"
)

func TestSpool_SaveRestore(t *testing.T) {
	dir := t.TempDir()
	m := metrics.New()
	s, err := NewSpool(SpoolOptions{Dir: dir, InstanceID: "pi"}, m)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Save(coords(3)); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(coords(2)); err != nil {
		t.Fatal(err)
	}
	if m.SpoolFilesCurrent != 2 || m.SpoolSavedTotal != 5 || m.SpoolSizeBytes <= 0 {
		t.Fatalf("metrics after save:\n%s", m.String())
	}

	got, err := s.Restore()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("restored %d, want 5", len(got))
	}
	if m.SpoolFilesCurrent != 0 || m.SpoolSizeBytes != 0 {
		t.Fatalf("metrics after restore:\n%s", m.String())
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("spool dir not empty: %v", entries)
	}
}

func TestSpool_SaveEmptyIsNoop(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewSpool(SpoolOptions{Dir: dir}, nil)
	if err := s.Save(nil); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("unexpected files: %v", entries)
	}
}

func TestSpool_RestoreOldestFirst(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewSpool(SpoolOptions{Dir: dir, InstanceID: "pi"}, nil)
	e := NewEncoder()

	// 이름만 다른 두 파일: 오래된 쪽(작은 unix)이 먼저 나와야 한다
	now := Unix()
	for i, lat := range []float64{2, 1} {
		c := coords(1)
		c[0].Latitude = lat
		data, _ := e.EncodeBatchJSONLGZ(c)
		name := fmt.Sprintf("%d_pi_%06d.jsonl.gz", now-int64(i*10), i)
		os.WriteFile(filepath.Join(dir, name), data, 0o600)
	}

	got, _ := s.Restore()
	if len(got) != 2 || got[0].Latitude != 1 || got[1].Latitude != 2 {
		t.Fatalf("order = %+v", got)
	}
}

func TestSpool_ExpiredFilesAreDropped(t *testing.T) {
	dir := t.TempDir()
	m := metrics.New()
	s, _ := NewSpool(SpoolOptions{Dir: dir, InstanceID: "pi", MaxAge: time.Hour}, m)

	data, _ := NewEncoder().EncodeBatchJSONLGZ(coords(4))
	old := fmt.Sprintf("%d_pi_000001.jsonl.gz", Unix()-int64(2*time.Hour/time.Second))
	os.WriteFile(filepath.Join(dir, old), data, 0o600)
	s.Save(coords(1))

	got, _ := s.Restore()
	if len(got) != 1 {
		t.Fatalf("restored %d, want 1 (fresh file only)", len(got))
	}
	if m.SpoolFilesExpiredTotal != 1 {
		t.Fatalf("expired = %d", m.SpoolFilesExpiredTotal)
	}
	if _, err := os.Stat(filepath.Join(dir, old)); !os.IsNotExist(err) {
		t.Fatal("expired file still on disk")
	}
}

func TestSpool_CapacityEvictsOldest(t *testing.T) {
	dir := t.TempDir()
	m := metrics.New()

	data, _ := NewEncoder().EncodeBatchJSONLGZ(coords(10))
	limit := int64(len(data))*2 + int64(len(data))/2

	s, _ := NewSpool(SpoolOptions{Dir: dir, InstanceID: "pi", MaxBytes: limit}, m)
	for i := 0; i < 3; i++ {
		if err := s.Save(coords(10)); err != nil {
			t.Fatal(err)
		}
	}

	if m.SpoolFilesCurrent != 2 {
		t.Fatalf("files = %d, want 2", m.SpoolFilesCurrent)
	}
	if m.SpoolFilesExpiredTotal != 1 {
		t.Fatalf("evicted = %d, want 1", m.SpoolFilesExpiredTotal)
	}
	if m.SpoolSizeBytes > limit {
		t.Fatalf("size %d exceeds limit %d", m.SpoolSizeBytes, limit)
	}
}

func TestSpool_OversizedBatchIsDropped(t *testing.T) {
	m := metrics.New()
	s, _ := NewSpool(SpoolOptions{Dir: t.TempDir(), MaxBytes: 10}, m)

	if err := s.Save(coords(10)); err != nil {
		t.Fatal(err)
	}
	if m.SpoolDroppedTotal != 10 || m.SpoolFilesCurrent != 0 {
		t.Fatalf("metrics:\n%s", m.String())
	}
}

func TestNewSpool_ScansExistingAndRemovesOrphanMeta(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "1_pi_000001.jsonl.gz"), []byte("12345"), 0o600)
	os.WriteFile(filepath.Join(dir, "1_pi_000001.jsonl.gz"+metaSuffix), []byte("{}"), 0o600)
	os.WriteFile(filepath.Join(dir, "2_pi_000002.jsonl.gz"+metaSuffix), []byte("{}"), 0o600)

	m := metrics.New()
	if _, err := NewSpool(SpoolOptions{Dir: dir}, m); err != nil {
		t.Fatal(err)
	}

	if m.SpoolFilesCurrent != 1 || m.SpoolSizeBytes != 5 {
		t.Fatalf("metrics:\n%s", m.String())
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "2_") {
			t.Fatalf("orphan meta not removed: %s", e.Name())
		}
	}
}

func TestSpool_UnreadableFileIsKept(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewSpool(SpoolOptions{Dir: dir}, nil)

	bad := filepath.Join(dir, fmt.Sprintf("%d_pi_000009.jsonl.gz", Unix()))
	os.WriteFile(bad, []byte("not gzip"), 0o600)

	got, err := s.Restore()
	if err != nil || len(got) != 0 {
		t.Fatalf("Restore = %v, %v", got, err)
	}
	if _, err := os.Stat(bad); err != nil {
		t.Fatal("unreadable file should stay for inspection")
	}
}
