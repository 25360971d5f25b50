package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/wafula-dev/dukapesa/app/internal/domain/transaction"
)

// TransactionRepository is an append-only ledger keyed by the gateway
// transaction id, with mutable connection metadata. One lock covers
// all keys, so webhook ingestion and operator actions for the same
// transaction are serialized.
type TransactionRepository struct {
	mu           sync.RWMutex
	transactions map[string]*domain.Transaction
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		transactions: make(map[string]*domain.Transaction),
	}
}

func (r *TransactionRepository) Upsert(ctx context.Context, tx *domain.Transaction) (bool, error) {
	_ = ctx
	if tx == nil || tx.TransactionID == "" {
		return false, domain.ErrMissingReference
	}
	if tx.AmountPaid <= 0 {
		return false, domain.ErrInvalidAmount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.transactions[tx.TransactionID]; exists {
		// Duplicate delivery: first write wins, connection metadata
		// stays untouched.
		return false, nil
	}

	stored := tx.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.transactions[tx.TransactionID] = stored
	return true, nil
}

func (r *TransactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, ok := r.transactions[transactionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return tx.Clone(), nil
}

func (r *TransactionRepository) List(ctx context.Context) ([]*domain.Transaction, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.snapshotLocked(func(*domain.Transaction) bool { return true }), nil
}

func (r *TransactionRepository) ListByConnectedOrder(ctx context.Context, orderID string) ([]*domain.Transaction, error) {
	_ = ctx
	if orderID == "" {
		return nil, fmt.Errorf("transaction repository: order id is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.snapshotLocked(func(tx *domain.Transaction) bool {
		return tx.IsConnectedToOrder && tx.ConnectedOrderID == orderID
	}), nil
}

func (r *TransactionRepository) ListByPhone(ctx context.Context, phoneNumber string) ([]*domain.Transaction, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.snapshotLocked(func(tx *domain.Transaction) bool {
		return tx.PhoneNumber == phoneNumber
	}), nil
}

func (r *TransactionRepository) Connect(ctx context.Context, transactionID, orderID, operator, notes string) (*domain.Transaction, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.transactions[transactionID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	tx.Connect(orderID, operator, notes)
	return tx.Clone(), nil
}

func (r *TransactionRepository) Disconnect(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.transactions[transactionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !tx.IsConnectedToOrder {
		return nil, domain.ErrNotConnected
	}

	tx.Disconnect()
	return tx.Clone(), nil
}

func (r *TransactionRepository) Restore(ctx context.Context, snapshot *domain.Transaction) error {
	_ = ctx
	if snapshot == nil || snapshot.TransactionID == "" {
		return domain.ErrMissingReference
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.transactions[snapshot.TransactionID]; !ok {
		return domain.ErrNotFound
	}

	r.transactions[snapshot.TransactionID] = snapshot.Clone()
	return nil
}

func (r *TransactionRepository) snapshotLocked(keep func(*domain.Transaction) bool) []*domain.Transaction {
	out := make([]*domain.Transaction, 0, len(r.transactions))
	for _, tx := range r.transactions {
		if keep(tx) {
			out = append(out, tx.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TransactionID < out[j].TransactionID
	})
	return out
}
