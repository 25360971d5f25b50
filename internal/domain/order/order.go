package order

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("order: not found")
	ErrConflict      = errors.New("order: already exists")
	ErrInvalidAmount = errors.New("order: total amount must be greater than zero")
)

// PaymentStatus is derived from the set of transactions connected to an
// order. Only the payment aggregator writes it.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
	PaymentPending PaymentStatus = "pending"
	PaymentFailed  PaymentStatus = "failed"
)

type Order struct {
	ID               string
	CustomerName     string
	CustomerPhone    string
	TotalAmount      int64
	PaymentStatus    PaymentStatus
	RemainingBalance int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func New(id, customerName, customerPhone string, totalAmount int64) (*Order, error) {
	if totalAmount <= 0 {
		return nil, ErrInvalidAmount
	}

	now := time.Now().UTC()
	return &Order{
		ID:               id,
		CustomerName:     customerName,
		CustomerPhone:    customerPhone,
		TotalAmount:      totalAmount,
		PaymentStatus:    PaymentUnpaid,
		RemainingBalance: totalAmount,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// FullyPaid reports whether the order needs no further payment.
func (o *Order) FullyPaid() bool {
	return o.PaymentStatus == PaymentPaid
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}
