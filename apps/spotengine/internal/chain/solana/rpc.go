package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"spotengine/apps/spotengine/internal/errclass"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Second
)

// RPC is the subset of the Solana JSON-RPC API the adapter uses.
type RPC interface {
	GetLatestBlockhash(ctx context.Context) (PublicKey, error)
	GetBalance(ctx context.Context, owner string) (uint64, error)
	GetTokenBalance(ctx context.Context, owner, mint string) (*big.Int, error)
	GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error)
	SimulateTransaction(ctx context.Context, tx []byte) (*SimulationResult, error)
	SendTransaction(ctx context.Context, tx []byte) (string, error)
	GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error)
	GetTransaction(ctx context.Context, signature string) (*ConfirmedTransaction, error)
}

type AccountInfo struct {
	Lamports uint64
	Owner    string
	Data     []byte
}

type SimulationResult struct {
	Err           json.RawMessage `json:"err"`
	Logs          []string        `json:"logs"`
	UnitsConsumed uint64          `json:"unitsConsumed"`
}

// Failed reports whether the simulation returned an error.
func (s *SimulationResult) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

func (s *SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// Confirmed reports whether the transaction reached confirmed or finalized commitment.
func (s *SignatureStatus) Confirmed() bool {
	return s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized"
}

type TokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals int    `json:"decimals"`
	} `json:"uiTokenAmount"`
}

type TransactionMeta struct {
	Err               json.RawMessage `json:"err"`
	Fee               uint64          `json:"fee"`
	PreBalances       []uint64        `json:"preBalances"`
	PostBalances      []uint64        `json:"postBalances"`
	PreTokenBalances  []TokenBalance  `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance  `json:"postTokenBalances"`
	LoadedAddresses   struct {
		Writable []string `json:"writable"`
		Readonly []string `json:"readonly"`
	} `json:"loadedAddresses"`
}

// ConfirmedTransaction is the json encoding of getTransaction.
type ConfirmedTransaction struct {
	Slot        uint64           `json:"slot"`
	Meta        *TransactionMeta `json:"meta"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

// AccountKeys returns static keys followed by writable then readonly loaded addresses,
// the order balance arrays are indexed by.
func (t *ConfirmedTransaction) AccountKeys() []string {
	keys := append([]string(nil), t.Transaction.Message.AccountKeys...)
	if t.Meta != nil {
		keys = append(keys, t.Meta.LoadedAddresses.Writable...)
		keys = append(keys, t.Meta.LoadedAddresses.Readonly...)
	}
	return keys
}

// RPCError is a JSON-RPC error object. It is not retried by the client.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPClient implements RPC over HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint   string
	client     *http.Client
	maxRetries uint
	retryDelay time.Duration
	maxDelay   time.Duration
	requestID  atomic.Uint64
}

type ClientOption func(*HTTPClient)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

func WithMaxRetries(n uint) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

func WithRetryDelay(initial, max time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = initial
		c.maxDelay = max
	}
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a Solana RPC client for endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ RPC = (*HTTPClient)(nil)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type contextValue[T any] struct {
	Value T `json:"value"`
}

// call performs one JSON-RPC call. Transport failures, 429 and 5xx are retried with
// exponential backoff; RPC errors are returned as is.
func (c *HTTPClient) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.requestID.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay
	b.MaxInterval = c.maxDelay

	raw, err := backoff.Retry(ctx, func() (json.RawMessage, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			statusErr := &errclass.StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, statusErr
			}
			return nil, backoff.Permanent(statusErr)
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to unmarshal response: %w", err))
		}
		if rpcResp.Error != nil {
			return nil, backoff.Permanent(rpcResp.Error)
		}
		return rpcResp.Result, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxRetries+1))
	if err != nil {
		return err
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

var confirmed = map[string]any{"commitment": "confirmed"}

func (c *HTTPClient) GetLatestBlockhash(ctx context.Context) (PublicKey, error) {
	var res contextValue[struct {
		Blockhash string `json:"blockhash"`
	}]
	if err := c.call(ctx, "getLatestBlockhash", []any{confirmed}, &res); err != nil {
		return PublicKey{}, err
	}
	return ParsePublicKey(res.Value.Blockhash)
}

func (c *HTTPClient) GetBalance(ctx context.Context, owner string) (uint64, error) {
	var res contextValue[uint64]
	if err := c.call(ctx, "getBalance", []any{owner, confirmed}, &res); err != nil {
		return 0, err
	}
	return res.Value, nil
}

// GetTokenBalance sums every token account of owner for mint.
func (c *HTTPClient) GetTokenBalance(ctx context.Context, owner, mint string) (*big.Int, error) {
	var res contextValue[[]struct {
		Account struct {
			Data struct {
				Parsed struct {
					Info struct {
						TokenAmount struct {
							Amount string `json:"amount"`
						} `json:"tokenAmount"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"account"`
	}]
	params := []any{owner, map[string]any{"mint": mint}, map[string]any{"encoding": "jsonParsed", "commitment": "confirmed"}}
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &res); err != nil {
		return nil, err
	}

	total := new(big.Int)
	for _, acc := range res.Value {
		amount, ok := new(big.Int).SetString(acc.Account.Data.Parsed.Info.TokenAmount.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("invalid token amount %q", acc.Account.Data.Parsed.Info.TokenAmount.Amount)
		}
		total.Add(total, amount)
	}
	return total, nil
}

// GetAccountInfo returns nil when the account does not exist.
func (c *HTTPClient) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	var res contextValue[*struct {
		Lamports uint64   `json:"lamports"`
		Owner    string   `json:"owner"`
		Data     []string `json:"data"`
	}]
	params := []any{address, map[string]any{"encoding": "base64", "commitment": "confirmed"}}
	if err := c.call(ctx, "getAccountInfo", params, &res); err != nil {
		return nil, err
	}
	if res.Value == nil {
		return nil, nil
	}

	info := &AccountInfo{Lamports: res.Value.Lamports, Owner: res.Value.Owner}
	if len(res.Value.Data) > 0 {
		data, err := base64.StdEncoding.DecodeString(res.Value.Data[0])
		if err != nil {
			return nil, fmt.Errorf("failed to decode account data: %w", err)
		}
		info.Data = data
	}
	return info, nil
}

// SimulateTransaction dry-runs a signed transaction with signature verification.
func (c *HTTPClient) SimulateTransaction(ctx context.Context, tx []byte) (*SimulationResult, error) {
	var res contextValue[SimulationResult]
	params := []any{
		base64.StdEncoding.EncodeToString(tx),
		map[string]any{"encoding": "base64", "sigVerify": true, "commitment": "processed"},
	}
	if err := c.call(ctx, "simulateTransaction", params, &res); err != nil {
		return nil, err
	}
	return &res.Value, nil
}

// SendTransaction broadcasts a transaction that was already simulated.
func (c *HTTPClient) SendTransaction(ctx context.Context, tx []byte) (string, error) {
	var sig string
	params := []any{
		base64.StdEncoding.EncodeToString(tx),
		map[string]any{"encoding": "base64", "skipPreflight": true, "maxRetries": 0},
	}
	if err := c.call(ctx, "sendTransaction", params, &sig); err != nil {
		return "", err
	}
	return sig, nil
}

// GetSignatureStatus returns nil while the signature is unknown to the cluster.
func (c *HTTPClient) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	var res contextValue[[]*SignatureStatus]
	params := []any{[]string{signature}, map[string]any{"searchTransactionHistory": true}}
	if err := c.call(ctx, "getSignatureStatuses", params, &res); err != nil {
		return nil, err
	}
	if len(res.Value) == 0 {
		return nil, nil
	}
	return res.Value[0], nil
}

// GetTransaction returns nil when the transaction is not yet available.
func (c *HTTPClient) GetTransaction(ctx context.Context, signature string) (*ConfirmedTransaction, error) {
	var tx *ConfirmedTransaction
	params := []any{signature, map[string]any{"encoding": "json", "maxSupportedTransactionVersion": 0, "commitment": "confirmed"}}
	if err := c.call(ctx, "getTransaction", params, &tx); err != nil {
		return nil, err
	}
	return tx, nil
}
