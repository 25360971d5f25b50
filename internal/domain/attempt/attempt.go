package attempt

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("attempt: not found")
	ErrAlreadyTerminal   = errors.New("attempt: already in a terminal state")
	ErrInvalidTransition = errors.New("attempt: invalid state transition")
)

type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailed  State = "failed"
	// StateTimedOut means polling exhausted its attempts without a
	// decisive code. The underlying payment may still have gone
	// through, so it must never be presented as a failure.
	StateTimedOut State = "timed_out"
)

func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed || s == StateTimedOut
}

// Attempt tracks one initiated push payment until its poller reaches a
// terminal state. Superseded attempts stay Pending but are marked so
// the initiator can see they were replaced by a newer attempt.
type Attempt struct {
	CheckoutRequestID string
	OrderID           string
	PhoneNumber       string
	Amount            int64
	AttemptCount      int
	State             State
	ResultCode        string
	ResultDesc        string
	Superseded        bool
	StartedAt         time.Time
	CompletedAt       time.Time
}

func New(checkoutRequestID, orderID, phoneNumber string, amount int64) *Attempt {
	return &Attempt{
		CheckoutRequestID: checkoutRequestID,
		OrderID:           orderID,
		PhoneNumber:       phoneNumber,
		Amount:            amount,
		State:             StatePending,
		StartedAt:         time.Now().UTC(),
	}
}

// Complete moves the attempt into a terminal state, keeping the raw
// gateway code and description for downstream presentation.
func (a *Attempt) Complete(state State, resultCode, resultDesc string) error {
	if a.State.Terminal() {
		return ErrAlreadyTerminal
	}
	if !state.Terminal() {
		return ErrInvalidTransition
	}
	a.State = state
	a.ResultCode = resultCode
	a.ResultDesc = resultDesc
	a.CompletedAt = time.Now().UTC()
	return nil
}

func (a *Attempt) Clone() *Attempt {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}
