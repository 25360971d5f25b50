package transaction

import (
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("transaction: not found")
	ErrInvalidAmount    = errors.New("transaction: amount paid must be greater than zero")
	ErrMissingReference = errors.New("transaction: gateway transaction id is required")
	ErrNotConnected     = errors.New("transaction: not connected to an order")
)

type Type string

const (
	TypeC2B     Type = "C2B"
	TypeSTKPush Type = "STK_PUSH"
)

// PhoneFlag annotates the quality of the stored phone number. Corrupted
// values are displayed with the flag rather than hidden or repaired.
type PhoneFlag string

const (
	PhoneOK        PhoneFlag = "ok"
	PhoneDataError PhoneFlag = "data_error"
)

// Transaction is one gateway-reported (or manually entered) payment.
// TransactionID is the gateway-unique key; AmountPaid never changes
// after creation. Connection metadata is the only mutable part.
type Transaction struct {
	ID                 string
	TransactionID      string
	MpesaReceiptNumber string
	TransactionDate    time.Time
	PhoneNumber        string
	PhoneFlag          PhoneFlag
	AmountPaid         int64
	Type               Type
	CustomerName       string

	IsConnectedToOrder bool
	ConnectedOrderID   string
	ConnectedAt        time.Time
	ConnectedBy        string
	Notes              string

	CreatedAt time.Time
}

func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// Connect sets the connection metadata. Reconnection to a different
// order is allowed; who and when are always recorded.
func (t *Transaction) Connect(orderID, operator, notes string) {
	t.IsConnectedToOrder = true
	t.ConnectedOrderID = orderID
	t.ConnectedAt = time.Now().UTC()
	t.ConnectedBy = operator
	if notes != "" {
		t.Notes = notes
	}
}

func (t *Transaction) Disconnect() {
	t.IsConnectedToOrder = false
	t.ConnectedOrderID = ""
	t.ConnectedAt = time.Time{}
	t.ConnectedBy = ""
}
