package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SolanaClient looks up SPL token balances over Solana JSON-RPC.
// A wallet may hold the mint in several token accounts; the balance is
// the sum of their uiAmount values. A wallet with no token account for
// the mint has balance 0.
type SolanaClient struct {
	httpClient *http.Client
	endpoint   string
	mint       string
}

// NewSolanaClient creates a SolanaClient for the given RPC endpoint and
// token mint. Every call is bounded by timeout.
func NewSolanaClient(endpoint, mint string, timeout time.Duration) *SolanaClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SolanaClient{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		mint:       mint,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type tokenAccountsResponse struct {
	Result *struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								UIAmount *float64 `json:"uiAmount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

// TokenBalance returns the wallet's total balance for the configured
// mint. Implements Oracle.
func (c *SolanaClient) TokenBalance(ctx context.Context, wallet string) (float64, error) {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTokenAccountsByOwner",
		Params: []any{
			wallet,
			map[string]string{"mint": c.mint},
			map[string]string{"encoding": "jsonParsed"},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return 0, fmt.Errorf("failed to create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("rpc call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rpc call returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read rpc response: %w", err)
	}

	var parsed tokenAccountsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if parsed.Error != nil {
		return 0, fmt.Errorf("rpc error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if parsed.Result == nil {
		return 0, fmt.Errorf("rpc response missing result")
	}

	var total float64
	for _, acc := range parsed.Result.Value {
		if amount := acc.Account.Data.Parsed.Info.TokenAmount.UIAmount; amount != nil {
			total += *amount
		}
	}
	return total, nil
}
