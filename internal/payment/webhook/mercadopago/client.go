// internal/payment/webhook/mercadopago/client.go
package mercadopago

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.mercadopago.com"

// Client is the HTTP implementation of PaymentLookup. One instance is built
// at startup with an immutable access token; nothing here mutates shared
// state per request.
type Client struct {
	accessToken string
	baseURL     string
	httpClient  *http.Client
}

func NewClient(accessToken string) *Client {
	return &Client{
		accessToken: accessToken,
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NewClientWithBaseURL points the client at a test server.
func NewClientWithBaseURL(accessToken, baseURL string) *Client {
	c := NewClient(accessToken)
	c.baseURL = baseURL
	return c
}

// GetPayment fetches the full payment object for the id carried in a webhook
// envelope. Errors here are transient from the caller's point of view: the
// processor redelivers and we try the lookup again.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	url := fmt.Sprintf("%s/v1/payments/%s", c.baseURL, paymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("payment lookup read failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment lookup returned %d: %s", resp.StatusCode, string(body))
	}

	var pay Payment
	if err := json.Unmarshal(body, &pay); err != nil {
		return nil, fmt.Errorf("payment lookup decode failed: %w", err)
	}
	pay.ID = paymentID
	return &pay, nil
}
