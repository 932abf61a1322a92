package wompi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Transaction is the subset of a Wompi transaction the settlement engine and
// the recovery sweep care about.
type Transaction struct {
	ID            string          `json:"id"`
	Reference     string          `json:"reference"`
	Status        string          `json:"status"`
	AmountInCents int64           `json:"amount_in_cents"`
	Currency      string          `json:"currency"`
	PaymentMethod json.RawMessage `json:"payment_method,omitempty"`
	FinalizedAt   *time.Time      `json:"finalized_at,omitempty"`
}

type ClientConfig struct {
	APIURL         string
	PrivateKey     string
	RequestTimeout time.Duration
}

// Client queries the Wompi REST API directly. The recovery sweep uses it to
// check the authoritative status of payments whose webhook never arrived.
type Client struct {
	httpClient *http.Client
	apiURL     string
	privateKey string
	logger     *slog.Logger
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     cfg.APIURL,
		privateKey: cfg.PrivateKey,
		logger:     logger,
	}
}

// GetTransaction fetches a transaction by its gateway id.
func (c *Client) GetTransaction(ctx context.Context, transactionID string) (*Transaction, error) {
	endpoint := fmt.Sprintf("%s/transactions/%s", c.apiURL, url.PathEscape(transactionID))

	var single struct {
		Data Transaction `json:"data"`
	}
	if err := c.get(ctx, endpoint, &single); err != nil {
		return nil, err
	}
	return &single.Data, nil
}

// GetTransactionByReference fetches the most recent transaction for a payment
// reference. Returns nil without error when the gateway knows nothing about
// the reference yet.
func (c *Client) GetTransactionByReference(ctx context.Context, reference string) (*Transaction, error) {
	endpoint := fmt.Sprintf("%s/transactions?reference=%s", c.apiURL, url.QueryEscape(reference))

	var list struct {
		Data []Transaction `json:"data"`
	}
	if err := c.get(ctx, endpoint, &list); err != nil {
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, nil
	}
	return &list.Data[0], nil
}

func (c *Client) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.privateKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.privateKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("wompi request failed", "url", endpoint, "error", err)
		return fmt.Errorf("wompi request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read wompi response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("wompi API returned error",
			"url", endpoint,
			"status", resp.StatusCode,
			"response", string(body))
		return fmt.Errorf("wompi API error: status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode wompi response: %w", err)
	}
	return nil
}
