package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vibeforge/vibeforge/internal/pkg/env"
)

const defaultRazorpayAPIBaseURL = "https://api.razorpay.com/v1"

// RazorpayClient is a thin client for the Razorpay REST API. Handlers use it
// to fetch full payment/order detail when webhook payloads are not enough
// and to create customers during checkout. All calls can fail transiently;
// retry is the caller's job.
type RazorpayClient struct {
	KeyID      string
	KeySecret  string
	APIBaseURL string

	HTTPClient *http.Client
}

// RazorpayCustomer is the customer object returned by the customers API.
type RazorpayCustomer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Contact string `json:"contact"`
}

// NewRazorpayClientFromEnv builds the client from environment config.
func NewRazorpayClientFromEnv() *RazorpayClient {
	return &RazorpayClient{
		KeyID:      strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_ID", "")),
		KeySecret:  strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_SECRET", "")),
		APIBaseURL: strings.TrimSpace(env.GetEnv("RAZORPAY_API_BASE_URL", defaultRazorpayAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// FetchPayment loads full payment detail by payment id.
func (c *RazorpayClient) FetchPayment(ctx context.Context, paymentID string) (*PaymentEntity, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, errors.New("payment id is required")
	}
	var out PaymentEntity
	if err := c.get(ctx, "/payments/"+paymentID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchOrder loads full order detail by order id.
func (c *RazorpayClient) FetchOrder(ctx context.Context, orderID string) (*OrderEntity, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, errors.New("order id is required")
	}
	var out OrderEntity
	if err := c.get(ctx, "/orders/"+orderID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchCustomer loads a customer by customer id.
func (c *RazorpayClient) FetchCustomer(ctx context.Context, customerID string) (*RazorpayCustomer, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errors.New("customer id is required")
	}
	var out RazorpayCustomer
	if err := c.get(ctx, "/customers/"+customerID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCustomer registers a customer on the provider side. Razorpay rejects
// duplicates with "Customer already exists"; callers fall back to resolving
// by email and backfilling the mapping in that case.
func (c *RazorpayClient) CreateCustomer(ctx context.Context, name, email, contact string) (*RazorpayCustomer, error) {
	if strings.TrimSpace(email) == "" {
		return nil, errors.New("customer email is required")
	}
	body, err := json.Marshal(map[string]string{
		"name":    strings.TrimSpace(name),
		"email":   strings.TrimSpace(email),
		"contact": strings.TrimSpace(contact),
	})
	if err != nil {
		return nil, err
	}

	var out RazorpayCustomer
	if err := c.do(ctx, http.MethodPost, "/customers", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RazorpayClient) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *RazorpayClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	if strings.TrimSpace(c.KeyID) == "" || strings.TrimSpace(c.KeySecret) == "" {
		return errors.New("RAZORPAY_KEY_ID/RAZORPAY_KEY_SECRET are not configured")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.APIBaseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.KeyID, c.KeySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderFetch, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s status=%d body=%s", ErrProviderFetch, method, path, resp.StatusCode, string(raw))
	}
	return json.Unmarshal(raw, out)
}
