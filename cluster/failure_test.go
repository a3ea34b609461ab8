package hekate

import (
	"errors"
	"testing"
)

func TestFailureIsMatchesByKind(t *testing.T) {
	err := NewFailure(Network, errors.New("dial refused"))

	if !errors.Is(err, NewFailure(Network, nil)) {
		t.Fatal("expected errors.Is to match on Kind")
	}
	if errors.Is(err, NewFailure(Configuration, nil)) {
		t.Fatal("expected errors.Is to reject a different Kind")
	}
}

func TestFailureUnwrap(t *testing.T) {
	cause := errors.New("dial refused")
	err := NewFailure(Network, cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected Unwrap to expose the wrapped cause")
	}
}

func TestNewJoinRejectedDetail(t *testing.T) {
	err := NewJoinRejected("cluster name mismatch", "node-3")

	if err.Kind != JoinRejected {
		t.Fatalf("Kind = %v, want JoinRejected", err.Kind)
	}
	if err.Detail == nil || err.Detail.Reason != "cluster name mismatch" || err.Detail.RejectedBy != "node-3" {
		t.Fatalf("unexpected detail: %+v", err.Detail)
	}
}
