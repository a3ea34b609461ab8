package hekate

import (
	"errors"
	"testing"
	"time"
)

func TestFutureGetBlocksUntilComplete(t *testing.T) {
	f := NewFuture[int]()

	select {
	case <-f.Done():
		t.Fatal("future reported done before completion")
	default:
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.complete(42, nil)
	}()

	v, err := f.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 42 {
		t.Fatalf("Get value = %d, want 42", v)
	}
}

func TestFutureCompleteOnlyOnce(t *testing.T) {
	f := NewFuture[int]()
	f.complete(1, nil)
	f.complete(2, errors.New("ignored"))

	v, err := f.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 1 {
		t.Fatalf("Get value = %d, want 1 (first completion wins)", v)
	}
}

func TestResolvedFuture(t *testing.T) {
	wantErr := errors.New("boom")
	f := Resolved(7, wantErr)

	select {
	case <-f.Done():
	default:
		t.Fatal("Resolved future should already be done")
	}

	v, err := f.Get()
	if v != 7 || !errors.Is(err, wantErr) {
		t.Fatalf("Get = (%d, %v), want (7, %v)", v, err, wantErr)
	}
}
