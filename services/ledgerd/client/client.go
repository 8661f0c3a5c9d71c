package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendledger/services/ledgerd/server"
)

const defaultTimeout = 15 * time.Second

// APIError is returned when ledgerd answers with a non-2xx status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledgerd: %d %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError carrying status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client is a thin wrapper around the ledgerd HTTP API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithToken authenticates mutating calls with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New constructs a client for the daemon at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base url must use http or https, got %q", baseURL)
	}
	c := &Client{
		base: parsed,
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CollateralParams describes a collateral type registration.
type CollateralParams struct {
	Ticker      string `json:"ticker"`
	MintAddress string `json:"mintAddress"`
	PoolAddress string `json:"poolAddress"`
	Image       string `json:"image"`
}

// LoanParams describes a loan request.
type LoanParams struct {
	Duration     uint64 `json:"duration"`
	InterestRate uint64 `json:"interestRate"`
	Amount       string `json:"amount"`
	TokenAddress string `json:"tokenAddress"`
}

// EventQuery filters journaled events.
type EventQuery struct {
	Action string
	Caller string
	CallID string
	After  uint64
	Limit  int
}

func (c *Client) Initialize(ctx context.Context) (*server.ReceiptView, error) {
	var out server.ReceiptView
	return &out, c.do(ctx, http.MethodPost, "/v1/ledger/initialize", nil, struct{}{}, &out)
}

func (c *Client) InitializeUser(ctx context.Context) (*server.ReceiptView, error) {
	var out server.ReceiptView
	return &out, c.do(ctx, http.MethodPost, "/v1/ledger/users", nil, struct{}{}, &out)
}

func (c *Client) AddAcceptedCollateral(ctx context.Context, params CollateralParams) (*server.ReceiptView, error) {
	var out server.ReceiptView
	return &out, c.do(ctx, http.MethodPost, "/v1/ledger/collateral/accepted", nil, params, &out)
}

func (c *Client) DepositCollateral(ctx context.Context, amount, tokenAddress string) (*server.ReceiptView, error) {
	var out server.ReceiptView
	body := map[string]string{"amount": amount, "tokenAddress": tokenAddress}
	return &out, c.do(ctx, http.MethodPost, "/v1/ledger/collateral/deposit", nil, body, &out)
}

func (c *Client) WithdrawCollateral(ctx context.Context, amount, tokenAddress string) (*server.ReceiptView, error) {
	var out server.ReceiptView
	body := map[string]string{"amount": amount, "tokenAddress": tokenAddress}
	return &out, c.do(ctx, http.MethodPost, "/v1/ledger/collateral/withdraw", nil, body, &out)
}

func (c *Client) CreateLoan(ctx context.Context, params LoanParams) (*server.ReceiptView, error) {
	var out server.ReceiptView
	return &out, c.do(ctx, http.MethodPost, "/v1/ledger/loans", nil, params, &out)
}

func (c *Client) AcceptLoan(ctx context.Context, loanIdx uint64, tokenAddress string) (*server.ReceiptView, error) {
	var out server.ReceiptView
	body := map[string]interface{}{"loanIdx": loanIdx, "tokenAddress": tokenAddress}
	return &out, c.do(ctx, http.MethodPost, "/v1/ledger/loans/accept", nil, body, &out)
}

// Approve grants the ledger custody account an allowance over the caller's
// balance of tokenAddress.
func (c *Client) Approve(ctx context.Context, tokenAddress, amount string) (*server.ReceiptView, error) {
	var out server.ReceiptView
	body := map[string]string{"tokenAddress": tokenAddress, "amount": amount}
	return &out, c.do(ctx, http.MethodPost, "/v1/tokens/approve", nil, body, &out)
}

func (c *Client) Admin(ctx context.Context) (*server.AdminView, error) {
	var out server.AdminView
	return &out, c.do(ctx, http.MethodGet, "/v1/ledger/admin", nil, nil, &out)
}

func (c *Client) UserProfile(ctx context.Context, address string) (*server.UserView, error) {
	var out server.UserView
	return &out, c.do(ctx, http.MethodGet, "/v1/ledger/users/"+url.PathEscape(address), nil, nil, &out)
}

func (c *Client) Loan(ctx context.Context, address string) (*server.LoanView, error) {
	var out server.LoanView
	return &out, c.do(ctx, http.MethodGet, "/v1/ledger/loans/"+url.PathEscape(address), nil, nil, &out)
}

func (c *Client) AcceptedCollaterals(ctx context.Context) ([]server.CollateralView, error) {
	var out struct {
		Collaterals []server.CollateralView `json:"collaterals"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/ledger/collateral/accepted", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Collaterals, nil
}

func (c *Client) Balance(ctx context.Context, tokenAddress, address string) (*server.BalanceView, error) {
	var out server.BalanceView
	path := "/v1/tokens/" + url.PathEscape(tokenAddress) + "/balances/" + url.PathEscape(address)
	return &out, c.do(ctx, http.MethodGet, path, nil, nil, &out)
}

// Events pages through the event journal.
func (c *Client) Events(ctx context.Context, q EventQuery) (*server.EventsView, error) {
	params := url.Values{}
	if q.Action != "" {
		params.Set("action", q.Action)
	}
	if q.Caller != "" {
		params.Set("caller", q.Caller)
	}
	if q.CallID != "" {
		params.Set("call_id", q.CallID)
	}
	if q.After > 0 {
		params.Set("after", strconv.FormatUint(q.After, 10))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	var out server.EventsView
	return &out, c.do(ctx, http.MethodGet, "/v1/events", params, nil, &out)
}

// Health pings the daemon.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := *c.base
	endpoint.Path = strings.TrimRight(c.base.Path, "/") + path
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(payload))}
		var envelope struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &envelope) == nil && envelope.Error != "" {
			apiErr.Message = envelope.Error
		}
		return apiErr
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
