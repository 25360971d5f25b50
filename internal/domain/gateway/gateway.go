package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Contract sentinels. The client transports result codes verbatim;
// interpretation against these values belongs to the status poller.
const (
	// ResultCodeSuccess is the code the gateway reserves for a
	// completed payment.
	ResultCodeSuccess = "0"
	// ResultCodeProcessing is the still-processing sentinel: the
	// request is not yet decided and must be polled again.
	ResultCodeProcessing = "500.001.1001"
)

var ErrInvalidPhone = errors.New("gateway: phone number cannot be normalized")
var ErrInvalidAmount = errors.New("gateway: amount must be greater than zero")

// Error is a synchronous rejection from the gateway. The provider's
// code and description are preserved end-to-end for the operator/UI.
type Error struct {
	Code        string
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: request rejected (%s): %s", e.Code, e.Description)
}

// PushResponse correlates one push-payment attempt.
type PushResponse struct {
	CheckoutRequestID string
	CustomerMessage   string
}

// StatusResult is the raw outcome of one status query.
type StatusResult struct {
	ResultCode string
	ResultDesc string
}

// Initiator issues push-payment requests.
type Initiator interface {
	InitiatePush(ctx context.Context, orderID, phoneNumber string, amount int64) (*PushResponse, error)
}

// StatusQuerier polls the raw status of an attempt. It is stateless and
// safe to call repeatedly; it must not interpret the result code.
type StatusQuerier interface {
	QueryStatus(ctx context.Context, checkoutRequestID string) (*StatusResult, error)
}

// Gateway is the full consumed contract.
type Gateway interface {
	Initiator
	StatusQuerier
}
