package memory

import (
	"context"
	"testing"
	"time"

	domain "github.com/wafula-dev/dukapesa/app/internal/domain/transaction"
)

func sampleTransaction(transactionID string, amount int64) *domain.Transaction {
	return &domain.Transaction{
		ID:                 "rec-" + transactionID,
		TransactionID:      transactionID,
		MpesaReceiptNumber: "QKX" + transactionID,
		TransactionDate:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		PhoneNumber:        "254712345678",
		PhoneFlag:          domain.PhoneOK,
		AmountPaid:         amount,
		Type:               domain.TypeC2B,
	}
}

func TestTransactionRepository_UpsertIdempotent(t *testing.T) {
	repo := NewTransactionRepository()
	ctx := context.Background()

	created, err := repo.Upsert(ctx, sampleTransaction("TX1", 500))
	if err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}
	if !created {
		t.Fatal("first Upsert should create")
	}

	// Connect, then redeliver the identical payload.
	if _, err := repo.Connect(ctx, "TX1", "order-1", "alice", "matched by phone"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	created, err = repo.Upsert(ctx, sampleTransaction("TX1", 500))
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if created {
		t.Fatal("second Upsert must not create a duplicate")
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d records, want 1", len(all))
	}
	got := all[0]
	if !got.IsConnectedToOrder || got.ConnectedOrderID != "order-1" || got.ConnectedBy != "alice" {
		t.Errorf("redelivery altered connection metadata: %+v", got)
	}
	if got.AmountPaid != 500 {
		t.Errorf("AmountPaid = %d, want 500", got.AmountPaid)
	}
}

func TestTransactionRepository_UpsertValidation(t *testing.T) {
	repo := NewTransactionRepository()
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, sampleTransaction("", 500)); err != domain.ErrMissingReference {
		t.Errorf("missing id: got %v, want ErrMissingReference", err)
	}
	if _, err := repo.Upsert(ctx, sampleTransaction("TX1", 0)); err != domain.ErrInvalidAmount {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}
}

func TestTransactionRepository_ConnectDisconnect(t *testing.T) {
	repo := NewTransactionRepository()
	ctx := context.Background()

	if _, err := repo.Connect(ctx, "missing", "order-1", "alice", ""); err != domain.ErrNotFound {
		t.Errorf("Connect on missing transaction: got %v, want ErrNotFound", err)
	}

	if _, err := repo.Upsert(ctx, sampleTransaction("TX1", 500)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	tx, err := repo.Connect(ctx, "TX1", "order-1", "alice", "note")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !tx.IsConnectedToOrder || tx.ConnectedOrderID != "order-1" {
		t.Fatalf("Connect metadata wrong: %+v", tx)
	}
	if tx.ConnectedAt.IsZero() {
		t.Error("ConnectedAt not set")
	}

	// Reconnection to a different order records the new actor.
	tx, err = repo.Connect(ctx, "TX1", "order-2", "bob", "")
	if err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if tx.ConnectedOrderID != "order-2" || tx.ConnectedBy != "bob" {
		t.Errorf("reconnect metadata wrong: %+v", tx)
	}

	tx, err = repo.Disconnect(ctx, "TX1")
	if err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if tx.IsConnectedToOrder || tx.ConnectedOrderID != "" || tx.ConnectedBy != "" {
		t.Errorf("Disconnect left metadata: %+v", tx)
	}

	if _, err := repo.Disconnect(ctx, "TX1"); err != domain.ErrNotConnected {
		t.Errorf("double Disconnect: got %v, want ErrNotConnected", err)
	}
}

func TestTransactionRepository_Restore(t *testing.T) {
	repo := NewTransactionRepository()
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, sampleTransaction("TX1", 500)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	before, err := repo.GetByTransactionID(ctx, "TX1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if _, err := repo.Connect(ctx, "TX1", "order-1", "alice", ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := repo.Restore(ctx, before); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	after, err := repo.GetByTransactionID(ctx, "TX1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if after.IsConnectedToOrder {
		t.Errorf("Restore did not undo the connection: %+v", after)
	}
}

func TestTransactionRepository_ListByConnectedOrder(t *testing.T) {
	repo := NewTransactionRepository()
	ctx := context.Background()

	for _, id := range []string{"TX1", "TX2", "TX3"} {
		if _, err := repo.Upsert(ctx, sampleTransaction(id, 100)); err != nil {
			t.Fatalf("Upsert %s failed: %v", id, err)
		}
	}
	if _, err := repo.Connect(ctx, "TX1", "order-1", "alice", ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := repo.Connect(ctx, "TX3", "order-1", "alice", ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	got, err := repo.ListByConnectedOrder(ctx, "order-1")
	if err != nil {
		t.Fatalf("ListByConnectedOrder failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d transactions, want 2", len(got))
	}
	if got[0].TransactionID != "TX1" || got[1].TransactionID != "TX3" {
		t.Errorf("unexpected transactions: %s, %s", got[0].TransactionID, got[1].TransactionID)
	}
}
