package udc

import (
	"errors"
	"testing"

	"github.com/ardnew/softudc/pkg"
)

func TestArenaAllocFree(t *testing.T) {
	a := newArena(2)

	id1, err := a.alloc()
	if err != nil {
		t.Fatalf("alloc() error = %v", err)
	}
	id2, err := a.alloc()
	if err != nil {
		t.Fatalf("alloc() error = %v", err)
	}
	if id1 == 0 || id2 == 0 || id1 == id2 {
		t.Fatalf("alloc() ids = %#x, %#x, want distinct nonzero", id1, id2)
	}
	if _, err := a.alloc(); !errors.Is(err, pkg.ErrNoResources) {
		t.Errorf("alloc() on full arena error = %v, want ErrNoResources", err)
	}
	if got := a.inUse(); got != 2 {
		t.Errorf("inUse() = %d, want 2", got)
	}

	if err := a.release(id1); err != nil {
		t.Fatalf("release() error = %v", err)
	}
	if a.get(id1) != nil {
		t.Error("get() returned a freed request")
	}
	if err := a.release(id1); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("double release() error = %v, want ErrInvalidRequest", err)
	}

	id3, err := a.alloc()
	if err != nil {
		t.Fatalf("alloc() after release error = %v", err)
	}
	if id3.index() != id1.index() {
		t.Errorf("reused index = %d, want %d", id3.index(), id1.index())
	}
	if id3 == id1 {
		t.Error("reused slot kept the stale handle")
	}
	if a.get(id1) != nil {
		t.Error("stale handle resolves after slot reuse")
	}
	if a.get(id3) == nil {
		t.Error("fresh handle does not resolve")
	}
}

func TestArenaRejectsBadHandles(t *testing.T) {
	a := newArena(1)
	for _, id := range []RequestID{0, makeRequestID(5, 0), makeRequestID(0, 9)} {
		if a.get(id) != nil {
			t.Errorf("get(%#x) resolved", uint32(id))
		}
	}
}

func TestArenaQueuedRequestIsBusy(t *testing.T) {
	a := newArena(1)
	id, _ := a.alloc()
	a.get(id).queued = true
	if err := a.release(id); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("release() queued error = %v, want ErrBusy", err)
	}
}

func TestAllocRequestResetsFields(t *testing.T) {
	f := newFixture(t, Config{
		Line:        DefaultConfig().Line,
		Rescans:     DefaultRescans,
		Endpoints:   DefaultConfig().Endpoints,
		MaxRequests: 1,
		Speed:       DefaultConfig().Speed,
	})

	id, r, err := f.c.AllocRequest()
	if err != nil {
		t.Fatalf("AllocRequest() error = %v", err)
	}
	r.Buf = []byte{1}
	r.Zero = true
	r.Actual = 1
	if _, _, err := f.c.AllocRequest(); !errors.Is(err, pkg.ErrNoResources) {
		t.Errorf("AllocRequest() on full arena error = %v, want ErrNoResources", err)
	}
	if err := f.c.FreeRequest(id); err != nil {
		t.Fatalf("FreeRequest() error = %v", err)
	}
	if f.c.Request(id) != nil {
		t.Error("Request() resolves a freed handle")
	}

	_, r, err = f.c.AllocRequest()
	if err != nil {
		t.Fatalf("AllocRequest() error = %v", err)
	}
	if r.Buf != nil || r.Zero || r.Actual != 0 || r.Queued() {
		t.Errorf("reused request not reset: %+v", *r)
	}
	if got := f.c.RequestsInUse(); got != 1 {
		t.Errorf("RequestsInUse() = %d, want 1", got)
	}
}

func TestRequestErr(t *testing.T) {
	r := Request{Status: pkg.StatusOverflow}
	if err := r.Err(); !errors.Is(err, pkg.ErrOverflow) {
		t.Errorf("Err() = %v, want ErrOverflow", err)
	}
	r.Status = pkg.StatusSuccess
	if err := r.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}
