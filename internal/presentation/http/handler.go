package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	apporder "github.com/wafula-dev/dukapesa/app/internal/application/order"
	apppayment "github.com/wafula-dev/dukapesa/app/internal/application/payment"
	"github.com/wafula-dev/dukapesa/app/internal/application/reconcile"
	domattempt "github.com/wafula-dev/dukapesa/app/internal/domain/attempt"
	"github.com/wafula-dev/dukapesa/app/internal/domain/gateway"
	domorder "github.com/wafula-dev/dukapesa/app/internal/domain/order"
	domtx "github.com/wafula-dev/dukapesa/app/internal/domain/transaction"
	"github.com/wafula-dev/dukapesa/app/internal/pkg/phone"
	"go.uber.org/zap"
)

type IDGenerator interface {
	NewID() string
}

type Handler struct {
	payments   *apppayment.Service
	reconciler *reconcile.Service
	aggregator *apporder.Service
	orders     domorder.Repository
	idGen      IDGenerator

	operatorToken string
	log           *zap.Logger
}

func NewHandler(
	payments *apppayment.Service,
	reconciler *reconcile.Service,
	aggregator *apporder.Service,
	orders domorder.Repository,
	idGen IDGenerator,
	operatorToken string,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.L()
	}
	return &Handler{
		payments:      payments,
		reconciler:    reconciler,
		aggregator:    aggregator,
		orders:        orders,
		idGen:         idGen,
		operatorToken: operatorToken,
		log:           logger.With(zap.String("component", "http")),
	}
}

func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(RequestLogger(h.log), Recovery(h.log))

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet, http.MethodHead)

	api := r.PathPrefix("/api").Subrouter()

	// Payer-facing payment flow.
	api.HandleFunc("/payments", h.handleInitiatePayment).Methods(http.MethodPost)
	api.HandleFunc("/payments/callback", h.handleGatewayCallback).Methods(http.MethodPost)
	api.HandleFunc("/payments/{checkoutRequestID}", h.handleAttemptStatus).Methods(http.MethodGet)

	// Operator listings.
	api.HandleFunc("/transactions/unconnected", h.handleListUnconnected).Methods(http.MethodGet)
	api.HandleFunc("/transactions/connected", h.handleListConnected).Methods(http.MethodGet)
	api.HandleFunc("/transactions/broken-links", h.handleListBrokenLinks).Methods(http.MethodGet)
	api.HandleFunc("/orders/{orderID}/candidates", h.handleMatchCandidates).Methods(http.MethodGet)

	// Operator mutations, gated.
	op := api.NewRoute().Subrouter()
	op.Use(OperatorAuth(h.operatorToken))
	op.HandleFunc("/transactions", h.handleRecordTransaction).Methods(http.MethodPost)
	op.HandleFunc("/transactions/{transactionID}/connect", h.handleConnect).Methods(http.MethodPost)
	op.HandleFunc("/transactions/{transactionID}/disconnect", h.handleDisconnect).Methods(http.MethodPost)
	op.HandleFunc("/orders/{orderID}/recompute", h.handleRecomputeOrder).Methods(http.MethodPost)
	op.HandleFunc("/orders/recompute", h.handleRecomputeAll).Methods(http.MethodPost)

	// Order registration on behalf of the order subsystem.
	api.HandleFunc("/orders", h.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{orderID}", h.handleGetOrder).Methods(http.MethodGet)

	return r
}

type initiatePaymentRequest struct {
	OrderID     string `json:"order_id"`
	PhoneNumber string `json:"phone_number"`
	Amount      int64  `json:"amount"`
}

func (h *Handler) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	att, err := h.payments.Initiate(r.Context(), req.OrderID, req.PhoneNumber, req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, toAttemptResponse(att))
}

func (h *Handler) handleAttemptStatus(w http.ResponseWriter, r *http.Request) {
	att, err := h.payments.AttemptStatus(mux.Vars(r)["checkoutRequestID"])
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAttemptResponse(att))
}

// gatewayCallback mirrors the Daraja STK callback envelope.
type gatewayCallback struct {
	Body struct {
		StkCallback struct {
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func (h *Handler) handleGatewayCallback(w http.ResponseWriter, r *http.Request) {
	var cb gatewayCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sc := cb.Body.StkCallback
	if sc.ResultCode != 0 {
		// Unsuccessful pushes carry no money movement; acknowledge so
		// the gateway stops redelivering.
		h.log.Info("callback_non_success",
			zap.String("checkout_request_id", sc.CheckoutRequestID),
			zap.Int("result_code", sc.ResultCode),
			zap.String("result_desc", sc.ResultDesc),
		)
		writeJSON(w, http.StatusOK, map[string]string{"result": "acknowledged"})
		return
	}

	input := reconcile.RecordInput{
		TransactionID:   sc.CheckoutRequestID,
		TransactionDate: time.Now().UTC(),
		Type:            domtx.TypeSTKPush,
	}
	for _, item := range sc.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if v, ok := item.Value.(float64); ok {
				input.AmountPaid = int64(v)
			}
		case "MpesaReceiptNumber":
			if v, ok := item.Value.(string); ok {
				input.MpesaReceiptNumber = v
			}
		case "PhoneNumber":
			switch v := item.Value.(type) {
			case float64:
				input.PhoneNumber = formatNumericPhone(v)
			case string:
				input.PhoneNumber = v
			}
		}
	}

	tx, created, err := h.reconciler.Record(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"result":         "recorded",
		"transaction_id": tx.TransactionID,
		"created":        created,
	})
}

type recordTransactionRequest struct {
	TransactionID      string `json:"transaction_id"`
	MpesaReceiptNumber string `json:"mpesa_receipt_number"`
	TransactionDate    string `json:"transaction_date"`
	PhoneNumber        string `json:"phone_number"`
	AmountPaid         int64  `json:"amount_paid"`
	Type               string `json:"type"`
	CustomerName       string `json:"customer_name"`
}

func (h *Handler) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req recordTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	txDate := time.Now().UTC()
	if req.TransactionDate != "" {
		parsed, err := time.Parse(time.RFC3339, req.TransactionDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("transaction_date must be RFC3339"))
			return
		}
		txDate = parsed
	}

	tx, created, err := h.reconciler.Record(r.Context(), reconcile.RecordInput{
		TransactionID:      req.TransactionID,
		MpesaReceiptNumber: req.MpesaReceiptNumber,
		TransactionDate:    txDate,
		PhoneNumber:        req.PhoneNumber,
		AmountPaid:         req.AmountPaid,
		Type:               domtx.Type(req.Type),
		CustomerName:       req.CustomerName,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toTransactionResponse(tx))
}

type connectRequest struct {
	OrderID string `json:"order_id"`
	Notes   string `json:"notes"`
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.reconciler.Connect(r.Context(),
		mux.Vars(r)["transactionID"], req.OrderID, OperatorFromContext(r.Context()), req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transaction": toTransactionResponse(result.Transaction),
		"order":       toOrderResponse(result.Order),
		"warnings":    result.Warnings,
	})
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	tx, err := h.reconciler.Disconnect(r.Context(), mux.Vars(r)["transactionID"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(tx))
}

func (h *Handler) handleListUnconnected(w http.ResponseWriter, r *http.Request) {
	entries, err := h.reconciler.ListUnconnected(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponses(entries))
}

func (h *Handler) handleListConnected(w http.ResponseWriter, r *http.Request) {
	entries, err := h.reconciler.ListConnected(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponses(entries))
}

func (h *Handler) handleListBrokenLinks(w http.ResponseWriter, r *http.Request) {
	entries, err := h.reconciler.ListBrokenLinks(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponses(entries))
}

func (h *Handler) handleMatchCandidates(w http.ResponseWriter, r *http.Request) {
	txs, err := h.reconciler.MatchCandidates(r.Context(), mux.Vars(r)["orderID"])
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRecomputeOrder(w http.ResponseWriter, r *http.Request) {
	ord, err := h.aggregator.RecomputeForOrder(r.Context(), mux.Vars(r)["orderID"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(ord))
}

func (h *Handler) handleRecomputeAll(w http.ResponseWriter, r *http.Request) {
	repairAll := r.URL.Query().Get("all") == "true"
	n, err := h.aggregator.RecomputeAll(r.Context(), repairAll)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"recomputed": n})
}

type createOrderRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	TotalAmount   int64  `json:"total_amount"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ord, err := domorder.New(h.idGen.NewID(), req.CustomerName, req.CustomerPhone, req.TotalAmount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.orders.Insert(r.Context(), ord); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(ord))
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	ord, err := h.orders.Get(r.Context(), mux.Vars(r)["orderID"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(ord))
}

// userMessage words the payer-facing attempt state. A timed-out
// attempt must not read as "payment failed": the charge may have gone
// through.
func userMessage(a *domattempt.Attempt) string {
	switch a.State {
	case domattempt.StateSuccess:
		return "Payment received. Thank you."
	case domattempt.StateFailed:
		return "Payment was not completed: " + a.ResultDesc
	case domattempt.StateTimedOut:
		return "We could not confirm your payment status yet. If you received an M-Pesa confirmation, the payment will be reconciled; please contact support."
	default:
		if a.Superseded {
			return "This payment request was replaced by a newer one."
		}
		return "Payment request sent. Waiting for confirmation on your phone."
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	var gerr *gateway.Error
	switch {
	case errors.Is(err, domorder.ErrNotFound),
		errors.Is(err, domtx.ErrNotFound),
		errors.Is(err, domattempt.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, gateway.ErrInvalidPhone),
		errors.Is(err, gateway.ErrInvalidAmount),
		errors.Is(err, phone.ErrUnrecognized),
		errors.Is(err, domorder.ErrInvalidAmount),
		errors.Is(err, domtx.ErrInvalidAmount),
		errors.Is(err, domtx.ErrMissingReference),
		errors.Is(err, domtx.ErrNotConnected):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domorder.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.As(err, &gerr):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
