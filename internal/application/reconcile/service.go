// Package reconcile links gateway-reported transactions to the orders
// they settle, and gives operators the tools to repair what the
// automatic path could not confidently match.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	apporder "github.com/wafula-dev/dukapesa/app/internal/application/order"
	domorder "github.com/wafula-dev/dukapesa/app/internal/domain/order"
	domtx "github.com/wafula-dev/dukapesa/app/internal/domain/transaction"
	"github.com/wafula-dev/dukapesa/app/internal/pkg/logging"
	"github.com/wafula-dev/dukapesa/app/internal/pkg/metrics"
	"github.com/wafula-dev/dukapesa/app/internal/pkg/phone"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const tracerName = "reconcile"

type IDGenerator interface {
	NewID() string
}

type Service struct {
	transactions domtx.Repository
	orders       domorder.Repository
	aggregator   *apporder.Service
	idGen        IDGenerator
	normalizer   *phone.Normalizer
	met          *metrics.Set
	log          *zap.Logger
}

func NewService(
	transactions domtx.Repository,
	orders domorder.Repository,
	aggregator *apporder.Service,
	idGen IDGenerator,
	normalizer *phone.Normalizer,
	met *metrics.Set,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.L()
	}
	return &Service{
		transactions: transactions,
		orders:       orders,
		aggregator:   aggregator,
		idGen:        idGen,
		normalizer:   normalizer,
		met:          met,
		log:          logger.With(zap.String("component", "reconcile_service")),
	}
}

type RecordInput struct {
	TransactionID      string
	MpesaReceiptNumber string
	TransactionDate    time.Time
	PhoneNumber        string
	AmountPaid         int64
	Type               domtx.Type
	CustomerName       string
}

// Record ingests a transaction from the gateway callback or a manual
// operator entry. It is idempotent on TransactionID: redelivery of a
// stored id changes nothing. Phone values carrying the corruption
// signature are stored flagged, never normalized or discarded.
func (s *Service) Record(ctx context.Context, input RecordInput) (*domtx.Transaction, bool, error) {
	if input.TransactionID == "" {
		return nil, false, domtx.ErrMissingReference
	}
	if input.AmountPaid <= 0 {
		return nil, false, domtx.ErrInvalidAmount
	}

	phoneValue := input.PhoneNumber
	flag := domtx.PhoneOK
	if phone.IsCorrupted(phoneValue) {
		flag = domtx.PhoneDataError
	} else if normalized, err := s.normalizer.Normalize(phoneValue); err == nil {
		phoneValue = normalized
	}

	txType := input.Type
	if txType == "" {
		txType = domtx.TypeC2B
	}

	tx := &domtx.Transaction{
		ID:                 s.idGen.NewID(),
		TransactionID:      input.TransactionID,
		MpesaReceiptNumber: input.MpesaReceiptNumber,
		TransactionDate:    input.TransactionDate,
		PhoneNumber:        phoneValue,
		PhoneFlag:          flag,
		AmountPaid:         input.AmountPaid,
		Type:               txType,
		CustomerName:       input.CustomerName,
	}

	created, err := s.transactions.Upsert(ctx, tx)
	if err != nil {
		return nil, false, err
	}

	stored, err := s.transactions.GetByTransactionID(ctx, input.TransactionID)
	if err != nil {
		return nil, false, err
	}
	if !created && stored.AmountPaid != input.AmountPaid {
		s.log.Warn("transaction_redelivery_mismatch",
			zap.String("transaction_id", input.TransactionID),
			zap.Int64("stored_amount", stored.AmountPaid),
			zap.Int64("delivered_amount", input.AmountPaid),
		)
	}

	if s.met != nil {
		outcome := "duplicate"
		if created {
			outcome = "created"
		}
		s.met.CallbacksIngested.WithLabelValues(outcome).Inc()
	}

	s.log.Info("transaction_recorded",
		zap.String("transaction_id", input.TransactionID),
		zap.Bool("created", created),
		zap.String("phone_flag", string(stored.PhoneFlag)),
	)
	return stored, created, nil
}

type ConnectResult struct {
	Transaction *domtx.Transaction
	Order       *domorder.Order
	Warnings    []string
}

// Connect attaches a transaction to an order with operator attribution
// and recomputes every affected order. The link and the recomputed
// fields move together: if the recompute fails, the previous link is
// restored before the error is returned.
func (s *Service) Connect(ctx context.Context, transactionID, orderID, operator, notes string) (_ *ConnectResult, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Reconcile.Connect")
	span.SetAttributes(
		attribute.String("transaction.id", transactionID),
		attribute.String("order.id", orderID),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "connect failed")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if transactionID == "" || orderID == "" {
		return nil, errors.New("reconcile: transaction id and order id are required")
	}

	prev, err := s.transactions.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	ord, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var warnings []string
	if prev.IsConnectedToOrder && prev.ConnectedOrderID != orderID {
		warnings = append(warnings, fmt.Sprintf(
			"transaction was connected to order %s by %s; reconnecting", prev.ConnectedOrderID, prev.ConnectedBy))
	}
	warnings = append(warnings, s.phoneMismatchWarning(prev, ord)...)

	updated, err := s.transactions.Connect(ctx, transactionID, orderID, operator, notes)
	if err != nil {
		return nil, err
	}

	recomputed, err := s.recomputeAffected(ctx, orderID, prev)
	if err != nil {
		// Roll back the link so the store never disagrees with the
		// order's payment fields.
		if restoreErr := s.transactions.Restore(ctx, prev); restoreErr != nil {
			s.log.Error("connect_rollback_failed",
				zap.String("transaction_id", transactionID),
				zap.Error(restoreErr),
			)
		}
		return nil, fmt.Errorf("reconcile: recompute after connect: %w", err)
	}

	logging.WithSpan(ctx, s.log).Info("transaction_connected",
		zap.String("transaction_id", transactionID),
		zap.String("order_id", orderID),
		zap.String("operator", operator),
		zap.Int("warnings", len(warnings)),
	)

	return &ConnectResult{Transaction: updated, Order: recomputed, Warnings: warnings}, nil
}

// Disconnect clears the connection metadata and recomputes the order
// the transaction was attached to. A missing order (broken link) does
// not block the disconnect; there is nothing left to recompute.
func (s *Service) Disconnect(ctx context.Context, transactionID string) (*domtx.Transaction, error) {
	prev, err := s.transactions.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	updated, err := s.transactions.Disconnect(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if prev.IsConnectedToOrder {
		if _, err := s.aggregator.RecomputeForOrder(ctx, prev.ConnectedOrderID); err != nil {
			if errors.Is(err, domorder.ErrNotFound) {
				s.log.Warn("disconnect_from_broken_link",
					zap.String("transaction_id", transactionID),
					zap.String("order_id", prev.ConnectedOrderID),
				)
			} else {
				if restoreErr := s.transactions.Restore(ctx, prev); restoreErr != nil {
					s.log.Error("disconnect_rollback_failed",
						zap.String("transaction_id", transactionID),
						zap.Error(restoreErr),
					)
				}
				return nil, fmt.Errorf("reconcile: recompute after disconnect: %w", err)
			}
		}
	}

	s.log.Info("transaction_disconnected",
		zap.String("transaction_id", transactionID),
		zap.String("previous_order_id", prev.ConnectedOrderID),
	)
	return updated, nil
}

func (s *Service) recomputeAffected(ctx context.Context, newOrderID string, prev *domtx.Transaction) (*domorder.Order, error) {
	recomputed, err := s.aggregator.RecomputeForOrder(ctx, newOrderID)
	if err != nil {
		return nil, err
	}

	if prev.IsConnectedToOrder && prev.ConnectedOrderID != newOrderID {
		if _, err := s.aggregator.RecomputeForOrder(ctx, prev.ConnectedOrderID); err != nil {
			if !errors.Is(err, domorder.ErrNotFound) {
				return nil, err
			}
			// The previous link was already broken; nothing to repair.
		}
	}
	return recomputed, nil
}

func (s *Service) phoneMismatchWarning(tx *domtx.Transaction, ord *domorder.Order) []string {
	if tx.PhoneFlag == domtx.PhoneDataError {
		return []string{"transaction phone number carries the data corruption signature"}
	}
	orderPhone, err := s.normalizer.Normalize(ord.CustomerPhone)
	if err != nil {
		return []string{"order customer phone cannot be normalized for comparison"}
	}
	if tx.PhoneNumber != orderPhone {
		return []string{fmt.Sprintf(
			"transaction phone %s does not match order customer phone %s", tx.PhoneNumber, orderPhone)}
	}
	return nil
}
