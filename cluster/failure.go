package hekate

import "fmt"

// Kind categorizes a Failure per spec.md §7's error taxonomy: errors
// are categorized, not typed by source.
type Kind int

const (
	Configuration Kind = iota
	Codec
	Network
	SplitBrain
	JoinRejected
	LockStale
	Coordination
	ReceiverPanic
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "CONFIGURATION"
	case Codec:
		return "CODEC"
	case Network:
		return "NETWORK"
	case SplitBrain:
		return "SPLIT_BRAIN"
	case JoinRejected:
		return "JOIN_REJECTED"
	case LockStale:
		return "LOCK_STALE"
	case Coordination:
		return "COORDINATION"
	case ReceiverPanic:
		return "RECEIVER_PANIC"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// JoinRejectedDetail carries the extra context spec.md §7 names for a
// JoinRejected failure.
type JoinRejectedDetail struct {
	Reason     string
	RejectedBy string
}

// Failure is the single error type every public operation returns,
// replacing spec.md §7's "uniform ClusterFailure hierarchy" with one
// Go type carrying a Kind and a wrapped cause, following the
// teacher's fmt.Errorf("...: %w", err) wrapping discipline
// generalized into a typed hierarchy usable with errors.Is/As.
type Failure struct {
	Kind   Kind
	Detail *JoinRejectedDetail
	cause  error
}

// NewFailure wraps cause under kind.
func NewFailure(kind Kind, cause error) *Failure {
	return &Failure{Kind: kind, cause: cause}
}

// NewJoinRejected builds the JoinRejected failure spec.md §7 names:
// ClusterJoinRejected{reason, rejectedBy}.
func NewJoinRejected(reason, rejectedBy string) *Failure {
	return &Failure{
		Kind:   JoinRejected,
		Detail: &JoinRejectedDetail{Reason: reason, RejectedBy: rejectedBy},
		cause:  fmt.Errorf("hekate: join rejected by %s: %s", rejectedBy, reason),
	}
}

func (f *Failure) Error() string {
	if f.cause == nil {
		return fmt.Sprintf("hekate: %s", f.Kind)
	}
	return fmt.Sprintf("hekate: %s: %v", f.Kind, f.cause)
}

func (f *Failure) Unwrap() error { return f.cause }

// Is supports errors.Is(err, hekate.NewFailure(kind, nil)) as the
// idiomatic way to test a failure's Kind without a type switch.
func (f *Failure) Is(target error) bool {
	other, ok := target.(*Failure)
	if !ok {
		return false
	}
	return other.Kind == f.Kind
}
