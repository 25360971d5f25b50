package reconcile

import (
	"context"
	"errors"
	"fmt"

	domorder "github.com/wafula-dev/dukapesa/app/internal/domain/order"
	domtx "github.com/wafula-dev/dukapesa/app/internal/domain/transaction"
)

// Entry is one transaction in an operator listing, with its order
// reference resolved at this boundary. Ref is nil for unconnected
// transactions, a ResolvedRef for live links and an UnresolvedRef for
// broken ones.
type Entry struct {
	Transaction *domtx.Transaction
	Ref         domtx.OrderRef
}

// ListUnconnected returns transactions with no order link. Broken
// links are not included here: a transaction whose order vanished
// still has meaningful connection history.
func (s *Service) ListUnconnected(ctx context.Context) ([]Entry, error) {
	all, err := s.transactions.List(ctx)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, tx := range all {
		if !tx.IsConnectedToOrder {
			out = append(out, Entry{Transaction: tx})
		}
	}
	return out, nil
}

// ListConnected returns transactions whose order link resolves.
func (s *Service) ListConnected(ctx context.Context) ([]Entry, error) {
	connected, _, err := s.partitionConnected(ctx)
	return connected, err
}

// ListBrokenLinks returns transactions that claim a connection to an
// order that no longer exists. They are a distinct failure mode, never
// merged into "unconnected", and are surfaced for a human decision
// rather than auto-healed.
func (s *Service) ListBrokenLinks(ctx context.Context) ([]Entry, error) {
	_, broken, err := s.partitionConnected(ctx)
	return broken, err
}

func (s *Service) partitionConnected(ctx context.Context) (connected, broken []Entry, err error) {
	all, err := s.transactions.List(ctx)
	if err != nil {
		return nil, nil, err
	}

	for _, tx := range all {
		if !tx.IsConnectedToOrder {
			continue
		}
		ord, err := s.orders.Get(ctx, tx.ConnectedOrderID)
		switch {
		case err == nil:
			connected = append(connected, Entry{Transaction: tx, Ref: domtx.ResolvedRef{Order: ord}})
		case errors.Is(err, domorder.ErrNotFound):
			broken = append(broken, Entry{Transaction: tx, Ref: domtx.UnresolvedRef{OrderID: tx.ConnectedOrderID}})
		default:
			return nil, nil, fmt.Errorf("reconcile: resolve order %s: %w", tx.ConnectedOrderID, err)
		}
	}
	return connected, broken, nil
}

// MatchCandidates suggests transactions for an order by normalized
// phone equality. Advisory only: candidates are surfaced for operator
// confirmation, never connected automatically. Orders already fully
// paid get no candidates, and corrupted phone values are excluded from
// comparison entirely.
func (s *Service) MatchCandidates(ctx context.Context, orderID string) ([]*domtx.Transaction, error) {
	ord, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if ord.FullyPaid() {
		return nil, nil
	}

	orderPhone, err := s.normalizer.Normalize(ord.CustomerPhone)
	if err != nil {
		return nil, fmt.Errorf("reconcile: order %s customer phone: %w", orderID, err)
	}

	all, err := s.transactions.List(ctx)
	if err != nil {
		return nil, err
	}

	var out []*domtx.Transaction
	for _, tx := range all {
		if tx.IsConnectedToOrder || tx.PhoneFlag == domtx.PhoneDataError {
			continue
		}
		if tx.PhoneNumber == orderPhone {
			out = append(out, tx)
		}
	}
	return out, nil
}
