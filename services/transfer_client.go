package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// TransferClient talks to the external transfer service that actually
// moves funds on the ledger. The core only records transfer references
// and issues disbursement instructions; the settlement_ref on each
// instruction is the dedupe key, so re-sending an instruction is safe.
type TransferClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewTransferClient() *TransferClient {
	baseURL := os.Getenv("TRANSFER_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("TRANSFER_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("TRANSFER_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("TRANSFER_SERVICE_TOKEN environment variable is required")
	}

	return &TransferClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// VerifyTransfer asks the transfer service whether the inbound deposit
// behind ref has landed on the ledger.
func (c *TransferClient) VerifyTransfer(ctx context.Context, ref string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/api/v1/transfers/%s", c.BaseURL, ref), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to call transfer service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("transfer service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Verified bool `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return false, fmt.Errorf("failed to decode transfer service response: %w", err)
	}
	return response.Verified, nil
}

// Disburse instructs the transfer service to pay recipient. A 409 means
// the settlement_ref was already processed — treated as success.
func (c *TransferClient) Disburse(ctx context.Context, recipient string, amount int64, settlementRef string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"recipient":      recipient,
		"amount":         amount,
		"settlement_ref": settlementRef,
	})
	if err != nil {
		return fmt.Errorf("failed to encode disbursement: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/api/v1/disbursements", c.BaseURL), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call transfer service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		// Already processed under this settlement_ref.
		return nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("transfer service returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
