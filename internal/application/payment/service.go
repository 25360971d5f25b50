// Package payment initiates push payments and drives each attempt's
// status polling to a terminal outcome.
package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wafula-dev/dukapesa/app/internal/application/reconcile"
	domattempt "github.com/wafula-dev/dukapesa/app/internal/domain/attempt"
	"github.com/wafula-dev/dukapesa/app/internal/domain/gateway"
	domorder "github.com/wafula-dev/dukapesa/app/internal/domain/order"
	domtx "github.com/wafula-dev/dukapesa/app/internal/domain/transaction"
	"github.com/wafula-dev/dukapesa/app/internal/pkg/logging"
	"github.com/wafula-dev/dukapesa/app/internal/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	tracerName     = "payment"
	pollerOperator = "system:stk-poller"
	queryTimeout   = 15 * time.Second
)

// PollConfig is the polling cadence for one payment attempt.
type PollConfig struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MaxChecks    int
}

func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialDelay: 5 * time.Second,
		Interval:     10 * time.Second,
		MaxChecks:    30,
	}
}

type Service struct {
	gw         gateway.Gateway
	orders     domorder.Repository
	reconciler *reconcile.Service
	cfg        PollConfig
	met        *metrics.Set
	log        *zap.Logger

	mu       sync.Mutex
	attempts map[string]*domattempt.Attempt // by checkout request id
	timers   map[string]*time.Timer         // outstanding poll timers
	live     map[string]string              // order id -> live checkout request id
	stopped  bool
}

func NewService(
	gw gateway.Gateway,
	orders domorder.Repository,
	reconciler *reconcile.Service,
	cfg PollConfig,
	met *metrics.Set,
	logger *zap.Logger,
) *Service {
	if cfg.MaxChecks <= 0 {
		cfg = DefaultPollConfig()
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Service{
		gw:         gw,
		orders:     orders,
		reconciler: reconciler,
		cfg:        cfg,
		met:        met,
		log:        logger.With(zap.String("component", "payment_service")),
		attempts:   make(map[string]*domattempt.Attempt),
		timers:     make(map[string]*time.Timer),
		live:       make(map[string]string),
	}
}

// Initiate submits a push payment for the order and schedules its
// status poller. A still-pending attempt for the same order is
// superseded: its timer is cancelled before the new poller is armed,
// so no order ever has two live pollers.
func (s *Service) Initiate(ctx context.Context, orderID, phoneNumber string, amount int64) (_ *domattempt.Attempt, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Payment.Initiate")
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.Int64("payment.amount", amount),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "initiate failed")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if orderID == "" {
		s.countInitiate("invalid")
		return nil, errors.New("payment: order id is required")
	}
	if amount <= 0 {
		s.countInitiate("invalid")
		return nil, gateway.ErrInvalidAmount
	}

	if _, err := s.orders.Get(ctx, orderID); err != nil {
		s.countInitiate("order_not_found")
		return nil, err
	}

	resp, err := s.gw.InitiatePush(ctx, orderID, phoneNumber, amount)
	if err != nil {
		var gerr *gateway.Error
		switch {
		case errors.As(err, &gerr):
			s.countInitiate("gateway_rejected")
		case errors.Is(err, gateway.ErrInvalidPhone), errors.Is(err, gateway.ErrInvalidAmount):
			s.countInitiate("invalid")
		default:
			s.countInitiate("transport_error")
		}
		return nil, err
	}

	att := domattempt.New(resp.CheckoutRequestID, orderID, phoneNumber, amount)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, errors.New("payment: service is shutting down")
	}
	s.supersedeLocked(orderID)
	s.attempts[att.CheckoutRequestID] = att
	s.live[orderID] = att.CheckoutRequestID
	s.armLocked(att.CheckoutRequestID, s.cfg.InitialDelay)
	s.mu.Unlock()

	s.countInitiate("accepted")
	logging.WithSpan(ctx, s.log).Info("payment_initiated",
		zap.String("order_id", orderID),
		zap.String("checkout_request_id", att.CheckoutRequestID),
		zap.Int64("amount", amount),
	)
	return att.Clone(), nil
}

// AttemptStatus returns a snapshot of the attempt for the caller that
// initiated it. Superseded attempts stay observable.
func (s *Service) AttemptStatus(checkoutRequestID string) (*domattempt.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	att, ok := s.attempts[checkoutRequestID]
	if !ok {
		return nil, domattempt.ErrNotFound
	}
	return att.Clone(), nil
}

// Stop cancels every outstanding poll timer. Attempts stay in their
// last observed state.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// supersedeLocked cancels the live poller for the order, if any.
func (s *Service) supersedeLocked(orderID string) {
	prevID, ok := s.live[orderID]
	if !ok {
		return
	}
	if timer, ok := s.timers[prevID]; ok {
		timer.Stop()
		delete(s.timers, prevID)
	}
	if prev, ok := s.attempts[prevID]; ok && !prev.State.Terminal() {
		prev.Superseded = true
		s.log.Info("attempt_superseded",
			zap.String("order_id", orderID),
			zap.String("checkout_request_id", prevID),
		)
	}
	delete(s.live, orderID)
}

func (s *Service) armLocked(checkoutRequestID string, delay time.Duration) {
	s.timers[checkoutRequestID] = time.AfterFunc(delay, func() {
		s.check(checkoutRequestID)
	})
}

// check runs one scheduled status poll. The poller suspends between
// checks via the timer, never by blocking a worker.
func (s *Service) check(checkoutRequestID string) {
	s.mu.Lock()
	att, ok := s.attempts[checkoutRequestID]
	if !ok || s.stopped || att.Superseded || att.State.Terminal() {
		delete(s.timers, checkoutRequestID)
		s.mu.Unlock()
		return
	}
	att.AttemptCount++
	count := att.AttemptCount
	orderID := att.OrderID
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	result, err := s.gw.QueryStatus(ctx, checkoutRequestID)
	cancel()

	logger := s.log.With(
		zap.String("checkout_request_id", checkoutRequestID),
		zap.String("order_id", orderID),
		zap.Int("check", count),
	)

	switch {
	case err != nil:
		// Transport problems are transient: retry on the normal
		// cadence, never classify as Failed.
		s.countPoll("transport_error")
		logger.Warn("poll_check_transport_error", zap.Error(err))
		s.continueOrTimeout(checkoutRequestID, count, logger)

	case result.ResultCode == gateway.ResultCodeSuccess:
		s.countPoll("success")
		s.complete(checkoutRequestID, domattempt.StateSuccess, result, logger)
		s.settle(checkoutRequestID, logger)

	case result.ResultCode == gateway.ResultCodeProcessing:
		s.countPoll("processing")
		s.continueOrTimeout(checkoutRequestID, count, logger)

	default:
		s.countPoll("failed")
		logger.Info("poll_check_decisive_failure",
			zap.String("result_code", result.ResultCode),
			zap.String("result_desc", result.ResultDesc),
		)
		s.complete(checkoutRequestID, domattempt.StateFailed, result, logger)
	}
}

func (s *Service) continueOrTimeout(checkoutRequestID string, count int, logger *zap.Logger) {
	if count < s.cfg.MaxChecks {
		s.mu.Lock()
		if !s.stopped {
			s.armLocked(checkoutRequestID, s.cfg.Interval)
		}
		s.mu.Unlock()
		return
	}

	// The cap is exhausted without a decisive code. The payment may
	// still have gone through, so this is TimedOut, not Failed, and it
	// stays that way until an operator acts on it.
	logger.Warn("attempt_timed_out")
	s.complete(checkoutRequestID, domattempt.StateTimedOut, nil, logger)
}

func (s *Service) complete(checkoutRequestID string, state domattempt.State, result *gateway.StatusResult, logger *zap.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	att, ok := s.attempts[checkoutRequestID]
	if !ok {
		return
	}

	code, desc := "", ""
	if result != nil {
		code, desc = result.ResultCode, result.ResultDesc
	}
	if err := att.Complete(state, code, desc); err != nil {
		logger.Warn("attempt_complete_skipped", zap.Error(err))
		return
	}

	delete(s.timers, checkoutRequestID)
	if s.live[att.OrderID] == checkoutRequestID {
		delete(s.live, att.OrderID)
	}

	if s.met != nil {
		s.met.AttemptOutcomes.WithLabelValues(string(state)).Inc()
	}
	logger.Info("attempt_completed", zap.String("state", string(state)))
}

// settle records the successful payment as a transaction (unless the
// gateway callback already did) and connects it to the order, which
// recomputes the order's payment fields.
func (s *Service) settle(checkoutRequestID string, logger *zap.Logger) {
	s.mu.Lock()
	att, ok := s.attempts[checkoutRequestID]
	if !ok {
		s.mu.Unlock()
		return
	}
	snapshot := att.Clone()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	_, _, err := s.reconciler.Record(ctx, reconcile.RecordInput{
		TransactionID:   checkoutRequestID,
		TransactionDate: time.Now().UTC(),
		PhoneNumber:     snapshot.PhoneNumber,
		AmountPaid:      snapshot.Amount,
		Type:            domtx.TypeSTKPush,
	})
	if err != nil {
		logger.Error("settle_record_failed", zap.Error(err))
		return
	}

	if _, err := s.reconciler.Connect(ctx, checkoutRequestID, snapshot.OrderID, pollerOperator, ""); err != nil {
		logger.Error("settle_connect_failed", zap.Error(err))
		return
	}

	logger.Info("payment_settled", zap.String("order_id", snapshot.OrderID))
}

func (s *Service) countInitiate(outcome string) {
	if s.met != nil {
		s.met.PaymentsInitiated.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) countPoll(result string) {
	if s.met != nil {
		s.met.PollChecks.WithLabelValues(result).Inc()
	}
}
