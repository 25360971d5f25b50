package order

import "context"

// PaymentFields is the aggregator's only write surface into an order.
type PaymentFields struct {
	PaymentStatus    PaymentStatus
	RemainingBalance int64
}

type Repository interface {
	Insert(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context) ([]*Order, error)
	UpdatePaymentFields(ctx context.Context, id string, fields PaymentFields) error
}
