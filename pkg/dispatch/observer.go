package dispatch

import "time"

// Observer is notified once per handled Message.
type Observer interface {
	Dispatched(op OperationKind, status int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) Dispatched(OperationKind, int, time.Duration) {}
