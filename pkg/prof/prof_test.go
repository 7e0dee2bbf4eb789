package prof

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSessionWritesProfiles(t *testing.T) {
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")
	mem := filepath.Join(dir, "heap.prof")

	s, err := Start(cpu, mem)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := Start(filepath.Join(dir, "cpu2.prof"), ""); !errors.Is(err, ErrActive) {
		t.Errorf("second Start() error = %v, want ErrActive", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}

	for _, path := range []string{cpu, mem} {
		fi, err := os.Stat(path)
		if err != nil {
			t.Errorf("Stat(%s) error = %v", filepath.Base(path), err)
			continue
		}
		if fi.Size() == 0 {
			t.Errorf("%s is empty", filepath.Base(path))
		}
	}
}

func TestSessionSkipsEmptyPaths(t *testing.T) {
	s, err := Start("", "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestStartInvalidPath(t *testing.T) {
	if _, err := Start(filepath.Join(t.TempDir(), "missing", "cpu.prof"), ""); err == nil {
		t.Error("Start() with missing directory succeeded")
	}
	s, err := Start("", "")
	if err != nil {
		t.Fatalf("Start() after failure error = %v", err)
	}
	_ = s.Stop()
}

func TestNilSessionStop(t *testing.T) {
	var s *Session
	if err := s.Stop(); err != nil {
		t.Errorf("nil Stop() error = %v", err)
	}
}
