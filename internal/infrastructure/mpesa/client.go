// Package mpesa implements the push-payment gateway contract against
// the Safaricom Daraja API.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/wafula-dev/dukapesa/app/internal/domain/gateway"
	"github.com/wafula-dev/dukapesa/app/internal/pkg/metrics"
	"github.com/wafula-dev/dukapesa/app/internal/pkg/phone"
	"go.uber.org/zap"
)

const timestampLayout = "20060102150405"

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	normalizer *phone.Normalizer
	log        *zap.Logger
	met        *metrics.Set

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time

	// now is swappable for tests.
	now func() time.Time
}

func NewClient(cfg Config, normalizer *phone.Normalizer, logger *zap.Logger, met *metrics.Set) *Client {
	if logger == nil {
		logger = zap.L()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		normalizer: normalizer,
		log:        logger.With(zap.String("component", "mpesa_client")),
		met:        met,
		now:        time.Now,
	}
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResponseCode      string `json:"ResponseCode"`
	ResponseDesc      string `json:"ResponseDescription"`
	CustomerMessage   string `json:"CustomerMessage"`
	ErrorCode         string `json:"errorCode"`
	ErrorMessage      string `json:"errorMessage"`
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResultCode   string `json:"ResultCode"`
	ResultDesc   string `json:"ResultDesc"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// InitiatePush validates and canonicalizes the request, then submits an
// STK push. A synchronous rejection comes back as *gateway.Error.
func (c *Client) InitiatePush(ctx context.Context, orderID, phoneNumber string, amount int64) (*gateway.PushResponse, error) {
	if amount <= 0 {
		return nil, gateway.ErrInvalidAmount
	}
	msisdn, err := c.normalizer.Normalize(phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", gateway.ErrInvalidPhone, phoneNumber)
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	ts := c.now().Format(timestampLayout)
	reqBody := stkPushRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          c.password(ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            msisdn,
		PartyB:            c.cfg.Shortcode,
		PhoneNumber:       msisdn,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  orderID,
		TransactionDesc:   "Order " + orderID,
	}

	var resp stkPushResponse
	status, err := c.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", token, reqBody, &resp, "stkpush")
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK || resp.ResponseCode != "0" {
		gerr := &gateway.Error{Code: resp.ErrorCode, Description: resp.ErrorMessage}
		if gerr.Code == "" {
			gerr.Code = resp.ResponseCode
			gerr.Description = resp.ResponseDesc
		}
		c.log.Warn("stk_push_rejected",
			zap.String("order_id", orderID),
			zap.String("code", gerr.Code),
		)
		return nil, gerr
	}

	return &gateway.PushResponse{
		CheckoutRequestID: resp.CheckoutRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// QueryStatus fetches the raw result of one attempt. While the gateway
// is still deciding it answers with the processing sentinel in the
// error envelope; that is surfaced as a normal result, not an error,
// so the poller can act on the code.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*gateway.StatusResult, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	ts := c.now().Format(timestampLayout)
	reqBody := stkQueryRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          c.password(ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}

	var resp stkQueryResponse
	status, err := c.postJSON(ctx, "/mpesa/stkpushquery/v1/query", token, reqBody, &resp, "stkquery")
	if err != nil {
		return nil, err
	}

	if resp.ErrorCode != "" {
		return &gateway.StatusResult{ResultCode: resp.ErrorCode, ResultDesc: resp.ErrorMessage}, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("mpesa: status query returned http %d", status)
	}

	return &gateway.StatusResult{ResultCode: resp.ResultCode, ResultDesc: resp.ResultDesc}, nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, in, out any, operation string) (int, error) {
	bodyBytes, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("mpesa: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewBuffer(bodyBytes))
	if err != nil {
		return 0, fmt.Errorf("mpesa: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.met != nil {
		c.met.GatewayLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return 0, fmt.Errorf("mpesa: %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("mpesa: read response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, fmt.Errorf("mpesa: decode response (http %d): %w", resp.StatusCode, err)
	}
	return resp.StatusCode, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// token returns a cached OAuth token, refreshing it shortly before
// expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("mpesa: build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("mpesa: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &gateway.Error{Code: fmt.Sprintf("auth_%d", resp.StatusCode), Description: string(body)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("mpesa: decode token response: %w", err)
	}

	ttl := 3600 * time.Second
	if secs, err := time.ParseDuration(tr.ExpiresIn + "s"); err == nil && secs > 0 {
		ttl = secs
	}
	c.accessToken = tr.AccessToken
	c.tokenExpiry = c.now().Add(ttl - 30*time.Second)
	return c.accessToken, nil
}

func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.Shortcode + c.cfg.Passkey + timestamp))
}
