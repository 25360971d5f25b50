// Package order derives each order's payment status and remaining
// balance from its connected transactions. This service is the single
// writer of those fields; every other code path that needs a payment
// status change routes through a recompute.
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"

	domain "github.com/wafula-dev/dukapesa/app/internal/domain/order"
	domtx "github.com/wafula-dev/dukapesa/app/internal/domain/transaction"
	"github.com/wafula-dev/dukapesa/app/internal/pkg/metrics"
	"go.uber.org/zap"
)

type Service struct {
	orders       domain.Repository
	transactions domtx.Repository
	met          *metrics.Set
	log          *zap.Logger

	// locks serializes recomputes per order id so two concurrent
	// connects cannot leave the balance based on a stale set.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(orders domain.Repository, transactions domtx.Repository, met *metrics.Set, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.L()
	}
	return &Service{
		orders:       orders,
		transactions: transactions,
		met:          met,
		log:          logger.With(zap.String("component", "payment_aggregator")),
		locks:        make(map[string]*sync.Mutex),
	}
}

// RecomputeForOrder sums AmountPaid over every transaction connected to
// the order and writes the derived status and remaining balance. It is
// pure with respect to the transaction set: re-invoking without an
// intervening change yields identical fields.
func (s *Service) RecomputeForOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if orderID == "" {
		return nil, errors.New("order: id is required")
	}

	lock := s.lockFor(orderID)
	lock.Lock()
	defer lock.Unlock()

	ord, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	txs, err := s.transactions.ListByConnectedOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("order: list connected transactions: %w", err)
	}

	var sum int64
	for _, tx := range txs {
		sum += tx.AmountPaid
	}

	fields := derivePaymentFields(ord.TotalAmount, sum)
	if err := s.orders.UpdatePaymentFields(ctx, orderID, fields); err != nil {
		return nil, fmt.Errorf("order: update payment fields: %w", err)
	}

	if s.met != nil {
		s.met.Recomputes.Inc()
	}

	s.log.Info("order_recomputed",
		zap.String("order_id", orderID),
		zap.Int("connected_transactions", len(txs)),
		zap.Int64("amount_paid", sum),
		zap.String("payment_status", string(fields.PaymentStatus)),
		zap.Int64("remaining_balance", fields.RemainingBalance),
	)

	ord.PaymentStatus = fields.PaymentStatus
	ord.RemainingBalance = fields.RemainingBalance
	return ord, nil
}

// RecomputeAll re-derives payment fields for every order that has at
// least one connected transaction. With repairAll it covers every
// order, used after data-quality incidents.
func (s *Service) RecomputeAll(ctx context.Context, repairAll bool) (int, error) {
	orders, err := s.orders.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("order: list orders: %w", err)
	}

	recomputed := 0
	for _, ord := range orders {
		if !repairAll {
			txs, err := s.transactions.ListByConnectedOrder(ctx, ord.ID)
			if err != nil {
				return recomputed, err
			}
			if len(txs) == 0 {
				continue
			}
		}
		if _, err := s.RecomputeForOrder(ctx, ord.ID); err != nil {
			return recomputed, fmt.Errorf("order: recompute %s: %w", ord.ID, err)
		}
		recomputed++
	}
	return recomputed, nil
}

func (s *Service) lockFor(orderID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[orderID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[orderID] = lock
	}
	return lock
}

func derivePaymentFields(total, paid int64) domain.PaymentFields {
	remaining := total - paid
	if remaining < 0 {
		remaining = 0
	}

	status := domain.PaymentUnpaid
	switch {
	case paid <= 0:
		status = domain.PaymentUnpaid
	case paid < total:
		status = domain.PaymentPartial
	default:
		status = domain.PaymentPaid
	}

	return domain.PaymentFields{PaymentStatus: status, RemainingBalance: remaining}
}
