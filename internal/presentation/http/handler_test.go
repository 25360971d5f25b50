package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apporder "github.com/wafula-dev/dukapesa/app/internal/application/order"
	apppayment "github.com/wafula-dev/dukapesa/app/internal/application/payment"
	"github.com/wafula-dev/dukapesa/app/internal/application/reconcile"
	"github.com/wafula-dev/dukapesa/app/internal/domain/gateway"
	"github.com/wafula-dev/dukapesa/app/internal/infrastructure/memory"
	"github.com/wafula-dev/dukapesa/app/internal/pkg/phone"
	"go.uber.org/zap"
)

const testOperatorToken = "test-operator-token"

type stubGateway struct{}

func (stubGateway) InitiatePush(ctx context.Context, orderID, phoneNumber string, amount int64) (*gateway.PushResponse, error) {
	return &gateway.PushResponse{
		CheckoutRequestID: "ws_CO_TEST_" + orderID,
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func (stubGateway) QueryStatus(ctx context.Context, checkoutRequestID string) (*gateway.StatusResult, error) {
	return &gateway.StatusResult{ResultCode: gateway.ResultCodeProcessing}, nil
}

type seqIDGen struct{ n int }

func (g *seqIDGen) NewID() string {
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	orders := memory.NewOrderRepository()
	txs := memory.NewTransactionRepository()
	aggregator := apporder.NewService(orders, txs, nil, zap.NewNop())
	normalizer := phone.NewNormalizer(phone.DefaultConfig())
	idGen := &seqIDGen{}
	reconciler := reconcile.NewService(txs, orders, aggregator, idGen, normalizer, nil, zap.NewNop())

	// Poll timers are parked far in the future so no background check
	// interferes with request assertions.
	payments := apppayment.NewService(stubGateway{}, orders, reconciler, apppayment.PollConfig{
		InitialDelay: time.Hour,
		Interval:     time.Hour,
		MaxChecks:    5,
	}, nil, zap.NewNop())
	t.Cleanup(payments.Stop)

	h := NewHandler(payments, reconciler, aggregator, orders, idGen, testOperatorToken, zap.NewNop())
	return h.Router()
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func asOperator(name string) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + testOperatorToken,
		"X-Operator":    name,
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func createOrder(t *testing.T, router http.Handler, phoneNumber string, total int64) string {
	t.Helper()
	rec := doRequest(t, router, http.MethodPost, "/api/orders", map[string]any{
		"customer_name":  "Wanjiku",
		"customer_phone": phoneNumber,
		"total_amount":   total,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		OrderID string `json:"order_id"`
	}
	decodeBody(t, rec, &resp)
	return resp.OrderID
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(t, router, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestCreateAndGetOrder(t *testing.T) {
	router := newTestRouter(t)
	id := createOrder(t, router, "0712345678", 1200)

	rec := doRequest(t, router, http.MethodGet, "/api/orders/"+id, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get order: status %d", rec.Code)
	}
	var resp orderResponse
	decodeBody(t, rec, &resp)
	if resp.PaymentStatus != "unpaid" || resp.RemainingBalance != 1200 {
		t.Errorf("new order = %s/%d, want unpaid/1200", resp.PaymentStatus, resp.RemainingBalance)
	}

	if rec := doRequest(t, router, http.MethodGet, "/api/orders/missing", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown order: status %d, want 404", rec.Code)
	}
}

func TestOperatorAuth(t *testing.T) {
	router := newTestRouter(t)
	body := map[string]any{"transaction_id": "TX1", "phone_number": "0712345678", "amount_paid": 500}

	if rec := doRequest(t, router, http.MethodPost, "/api/transactions", body, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status %d, want 401", rec.Code)
	}
	wrong := map[string]string{"Authorization": "Bearer wrong"}
	if rec := doRequest(t, router, http.MethodPost, "/api/transactions", body, wrong); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status %d, want 401", rec.Code)
	}
	if rec := doRequest(t, router, http.MethodPost, "/api/transactions", body, asOperator("alice")); rec.Code != http.StatusCreated {
		t.Errorf("valid token: status %d, want 201", rec.Code)
	}
}

func TestRecordAndConnectFlow(t *testing.T) {
	router := newTestRouter(t)
	orderID := createOrder(t, router, "0712345678", 1200)

	record := map[string]any{
		"transaction_id": "SBK12345",
		"phone_number":   "0712345678",
		"amount_paid":    500,
		"type":           "C2B",
	}
	rec := doRequest(t, router, http.MethodPost, "/api/transactions", record, asOperator("alice"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("record: status %d body %s", rec.Code, rec.Body.String())
	}

	// Redelivery of the same id is acknowledged, not duplicated.
	if rec := doRequest(t, router, http.MethodPost, "/api/transactions", record, asOperator("alice")); rec.Code != http.StatusOK {
		t.Errorf("duplicate record: status %d, want 200", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/transactions/SBK12345/connect",
		map[string]any{"order_id": orderID, "notes": "verified"}, asOperator("alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("connect: status %d body %s", rec.Code, rec.Body.String())
	}
	var connected struct {
		Transaction transactionResponse `json:"transaction"`
		Order       orderResponse       `json:"order"`
		Warnings    []string            `json:"warnings"`
	}
	decodeBody(t, rec, &connected)
	if connected.Transaction.ConnectedBy != "alice" {
		t.Errorf("connected_by = %q, want the X-Operator name", connected.Transaction.ConnectedBy)
	}
	if connected.Order.PaymentStatus != "partial" || connected.Order.RemainingBalance != 700 {
		t.Errorf("order = %s/%d, want partial/700", connected.Order.PaymentStatus, connected.Order.RemainingBalance)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/transactions/SBK12345/disconnect", nil, asOperator("bob"))
	if rec.Code != http.StatusOK {
		t.Fatalf("disconnect: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, router, http.MethodGet, "/api/orders/"+orderID, nil, nil)
	var ord orderResponse
	decodeBody(t, rec, &ord)
	if ord.PaymentStatus != "unpaid" || ord.RemainingBalance != 1200 {
		t.Errorf("order after disconnect = %s/%d, want unpaid/1200", ord.PaymentStatus, ord.RemainingBalance)
	}
}

func TestGatewayCallback(t *testing.T) {
	router := newTestRouter(t)
	orderID := createOrder(t, router, "0712345678", 500)

	callback := map[string]any{
		"Body": map[string]any{
			"stkCallback": map[string]any{
				"CheckoutRequestID": "ws_CO_CB1",
				"ResultCode":        0,
				"ResultDesc":        "The service request is processed successfully.",
				"CallbackMetadata": map[string]any{
					"Item": []map[string]any{
						{"Name": "Amount", "Value": 500},
						{"Name": "MpesaReceiptNumber", "Value": "SBK99ZZ11"},
						{"Name": "PhoneNumber", "Value": 254712345678},
					},
				},
			},
		},
	}
	rec := doRequest(t, router, http.MethodPost, "/api/payments/callback", callback, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("callback: status %d body %s", rec.Code, rec.Body.String())
	}

	// The recorded transaction shows up as a candidate for the order.
	rec = doRequest(t, router, http.MethodGet, "/api/orders/"+orderID+"/candidates", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("candidates: status %d", rec.Code)
	}
	var candidates []transactionResponse
	decodeBody(t, rec, &candidates)
	if len(candidates) != 1 || candidates[0].TransactionID != "ws_CO_CB1" {
		t.Fatalf("candidates = %+v, want the callback transaction", candidates)
	}
	if candidates[0].MpesaReceiptNumber != "SBK99ZZ11" {
		t.Errorf("receipt = %q", candidates[0].MpesaReceiptNumber)
	}
	if candidates[0].PhoneNumber != "254712345678" {
		t.Errorf("phone = %q, numeric msisdn not canonicalized", candidates[0].PhoneNumber)
	}
}

func TestGatewayCallback_NonSuccessAcknowledged(t *testing.T) {
	router := newTestRouter(t)

	callback := map[string]any{
		"Body": map[string]any{
			"stkCallback": map[string]any{
				"CheckoutRequestID": "ws_CO_CB2",
				"ResultCode":        1032,
				"ResultDesc":        "Request cancelled by user",
			},
		},
	}
	rec := doRequest(t, router, http.MethodPost, "/api/payments/callback", callback, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("callback: status %d, want 200 so redelivery stops", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/transactions/unconnected", nil, nil)
	var entries []entryResponse
	decodeBody(t, rec, &entries)
	if len(entries) != 0 {
		t.Errorf("cancelled push recorded a transaction: %+v", entries)
	}
}

func TestInitiatePaymentAndStatus(t *testing.T) {
	router := newTestRouter(t)
	orderID := createOrder(t, router, "0712345678", 500)

	rec := doRequest(t, router, http.MethodPost, "/api/payments", map[string]any{
		"order_id":     orderID,
		"phone_number": "254712345678",
		"amount":       500,
	}, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("initiate: status %d body %s", rec.Code, rec.Body.String())
	}
	var att attemptResponse
	decodeBody(t, rec, &att)
	if att.State != "pending" {
		t.Errorf("state = %q, want pending", att.State)
	}
	if !strings.Contains(att.Message, "Waiting for confirmation") {
		t.Errorf("message = %q", att.Message)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/payments/"+att.CheckoutRequestID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: code %d", rec.Code)
	}

	if rec := doRequest(t, router, http.MethodGet, "/api/payments/ws_CO_MISSING", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown attempt: status %d, want 404", rec.Code)
	}
}

func TestRecomputeEndpoints(t *testing.T) {
	router := newTestRouter(t)
	orderID := createOrder(t, router, "0712345678", 500)

	if rec := doRequest(t, router, http.MethodPost, "/api/orders/"+orderID+"/recompute", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("ungated recompute: status %d, want 401", rec.Code)
	}

	rec := doRequest(t, router, http.MethodPost, "/api/orders/"+orderID+"/recompute", nil, asOperator("alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("recompute: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, http.MethodPost, "/api/orders/recompute?all=true", nil, asOperator("alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("recompute all: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Recomputed int `json:"recomputed"`
	}
	decodeBody(t, rec, &resp)
	if resp.Recomputed != 1 {
		t.Errorf("recomputed = %d, want 1", resp.Recomputed)
	}
}
