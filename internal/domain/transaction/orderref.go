package transaction

import domorder "github.com/wafula-dev/dukapesa/app/internal/domain/order"

// OrderRef is the resolution result of a transaction's stored order
// reference. Consumers switch on the concrete type instead of probing
// a half-resolved value.
type OrderRef interface {
	orderRef()
}

// UnresolvedRef carries an order id that did not resolve to a live
// order (a broken link). The id is kept because the connection
// history is still meaningful for audit.
type UnresolvedRef struct {
	OrderID string
}

func (UnresolvedRef) orderRef() {}

// ResolvedRef carries the live order the transaction is connected to.
type ResolvedRef struct {
	Order *domorder.Order
}

func (ResolvedRef) orderRef() {}
