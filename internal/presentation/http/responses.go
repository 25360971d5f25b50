package httptransport

import (
	"strconv"
	"time"

	"github.com/wafula-dev/dukapesa/app/internal/application/reconcile"
	domattempt "github.com/wafula-dev/dukapesa/app/internal/domain/attempt"
	domorder "github.com/wafula-dev/dukapesa/app/internal/domain/order"
	domtx "github.com/wafula-dev/dukapesa/app/internal/domain/transaction"
)

type attemptResponse struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	OrderID           string `json:"order_id"`
	State             string `json:"state"`
	Message           string `json:"message"`
	ResultCode        string `json:"result_code,omitempty"`
	ResultDesc        string `json:"result_desc,omitempty"`
	AttemptCount      int    `json:"attempt_count"`
	Superseded        bool   `json:"superseded,omitempty"`
}

func toAttemptResponse(a *domattempt.Attempt) attemptResponse {
	return attemptResponse{
		CheckoutRequestID: a.CheckoutRequestID,
		OrderID:           a.OrderID,
		State:             string(a.State),
		Message:           userMessage(a),
		ResultCode:        a.ResultCode,
		ResultDesc:        a.ResultDesc,
		AttemptCount:      a.AttemptCount,
		Superseded:        a.Superseded,
	}
}

type transactionResponse struct {
	TransactionID      string `json:"transaction_id"`
	MpesaReceiptNumber string `json:"mpesa_receipt_number,omitempty"`
	TransactionDate    string `json:"transaction_date,omitempty"`
	PhoneNumber        string `json:"phone_number"`
	PhoneFlag          string `json:"phone_flag"`
	AmountPaid         int64  `json:"amount_paid"`
	Type               string `json:"type"`
	CustomerName       string `json:"customer_name,omitempty"`
	Connected          bool   `json:"connected"`
	ConnectedOrderID   string `json:"connected_order_id,omitempty"`
	ConnectedAt        string `json:"connected_at,omitempty"`
	ConnectedBy        string `json:"connected_by,omitempty"`
	Notes              string `json:"notes,omitempty"`
}

func toTransactionResponse(tx *domtx.Transaction) transactionResponse {
	resp := transactionResponse{
		TransactionID:      tx.TransactionID,
		MpesaReceiptNumber: tx.MpesaReceiptNumber,
		PhoneNumber:        tx.PhoneNumber,
		PhoneFlag:          string(tx.PhoneFlag),
		AmountPaid:         tx.AmountPaid,
		Type:               string(tx.Type),
		CustomerName:       tx.CustomerName,
		Connected:          tx.IsConnectedToOrder,
		ConnectedOrderID:   tx.ConnectedOrderID,
		ConnectedBy:        tx.ConnectedBy,
		Notes:              tx.Notes,
	}
	if !tx.TransactionDate.IsZero() {
		resp.TransactionDate = tx.TransactionDate.Format(time.RFC3339)
	}
	if !tx.ConnectedAt.IsZero() {
		resp.ConnectedAt = tx.ConnectedAt.Format(time.RFC3339)
	}
	return resp
}

type orderResponse struct {
	OrderID          string `json:"order_id"`
	CustomerName     string `json:"customer_name,omitempty"`
	CustomerPhone    string `json:"customer_phone,omitempty"`
	TotalAmount      int64  `json:"total_amount"`
	PaymentStatus    string `json:"payment_status"`
	RemainingBalance int64  `json:"remaining_balance"`
}

func toOrderResponse(o *domorder.Order) orderResponse {
	return orderResponse{
		OrderID:          o.ID,
		CustomerName:     o.CustomerName,
		CustomerPhone:    o.CustomerPhone,
		TotalAmount:      o.TotalAmount,
		PaymentStatus:    string(o.PaymentStatus),
		RemainingBalance: o.RemainingBalance,
	}
}

type entryResponse struct {
	Transaction transactionResponse `json:"transaction"`
	LinkState   string              `json:"link_state"`
	Order       *orderResponse      `json:"order,omitempty"`
	// MissingOrderID is set for broken links: the stored reference that
	// no longer resolves.
	MissingOrderID string `json:"missing_order_id,omitempty"`
}

func toEntryResponses(entries []reconcile.Entry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		resp := entryResponse{Transaction: toTransactionResponse(e.Transaction)}
		switch ref := e.Ref.(type) {
		case domtx.ResolvedRef:
			resp.LinkState = "connected"
			ord := toOrderResponse(ref.Order)
			resp.Order = &ord
		case domtx.UnresolvedRef:
			resp.LinkState = "broken_link"
			resp.MissingOrderID = ref.OrderID
		default:
			resp.LinkState = "unconnected"
		}
		out = append(out, resp)
	}
	return out
}

// formatNumericPhone renders a JSON-number msisdn (the gateway sends
// 2547... as a number) without an exponent.
func formatNumericPhone(v float64) string {
	return strconv.FormatInt(int64(v), 10)
}
