package transaction

import "context"

type Repository interface {
	// Upsert stores the transaction keyed by its gateway TransactionID.
	// Redelivery of an already-stored id is a no-op that never touches
	// connection metadata. Returns true when a new record was created.
	Upsert(ctx context.Context, tx *Transaction) (created bool, err error)

	GetByTransactionID(ctx context.Context, transactionID string) (*Transaction, error)
	List(ctx context.Context) ([]*Transaction, error)
	ListByConnectedOrder(ctx context.Context, orderID string) ([]*Transaction, error)
	ListByPhone(ctx context.Context, phoneNumber string) ([]*Transaction, error)

	// Connect and Disconnect mutate connection metadata under the
	// store's lock so a webhook delivery and an operator action for the
	// same transaction id cannot interleave.
	Connect(ctx context.Context, transactionID, orderID, operator, notes string) (*Transaction, error)
	Disconnect(ctx context.Context, transactionID string) (*Transaction, error)

	// Restore puts back a previous connection snapshot. Used to roll
	// back a connect whose recompute failed.
	Restore(ctx context.Context, tx *Transaction) error
}
