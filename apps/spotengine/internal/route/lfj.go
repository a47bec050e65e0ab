package route

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
	"spotengine/apps/spotengine/internal/chains"
	"spotengine/apps/spotengine/internal/errclass"
)

const DefaultBaseURL = "https://router.lfj.gg/v2/aggregator/routes"

// LFJClient quotes routes through the LFJ aggregator router API.
type LFJClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	chains     *chains.Registry
}

func NewLFJClient(baseURL string, httpClient *http.Client, limiter *rate.Limiter, registry *chains.Registry) *LFJClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &LFJClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
		chains:     registry,
	}
}

type evmRouteResponse struct {
	AmountOut string `json:"amountOut"`
	To        string `json:"to"`
	From      string `json:"from"`
	Data      string `json:"data"`
	Value     string `json:"value"`
}

type solanaAccountResponse struct {
	Address    string `json:"address"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type solanaInstructionResponse struct {
	ProgramID string                  `json:"programId"`
	Accounts  []solanaAccountResponse `json:"accounts"`
	Data      string                  `json:"data"`
}

type solanaRouteResponse struct {
	AmountOut          string                      `json:"amountOut"`
	AddressLookupTable []string                    `json:"addressLookupTable"`
	Instructions       []solanaInstructionResponse `json:"instructions"`
}

func (c *LFJClient) Quote(ctx context.Context, aggregator string, req Request) (*Route, error) {
	chain, ok := c.chains.Get(req.ChainID)
	if !ok {
		return nil, fmt.Errorf("unsupported chain %d", req.ChainID)
	}
	if chain.Family == chains.FamilySolana {
		return c.quoteSolana(ctx, aggregator, req)
	}
	return c.quoteEVM(ctx, chain.Name, aggregator, req)
}

func (c *LFJClient) quoteEVM(ctx context.Context, chainName, aggregator string, req Request) (*Route, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/swap?%s", c.baseURL, chainName, aggregator,
		query(req, req.TokenIn, req.TokenOut).Encode())

	var resp evmRouteResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	amountOut, err := parseAmount(resp.AmountOut)
	if err != nil {
		return nil, fmt.Errorf("invalid response from aggregator %s: %w", aggregator, err)
	}
	data, err := hexutil.Decode(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid calldata from aggregator %s: %w", aggregator, err)
	}
	value := new(big.Int)
	if resp.Value != "" {
		if value, err = parseAmount(resp.Value); err != nil {
			return nil, fmt.Errorf("invalid value from aggregator %s: %w", aggregator, err)
		}
	}

	return &Route{
		AmountOut: amountOut,
		EVM:       &EVMTx{To: resp.To, From: resp.From, Data: data, Value: value},
	}, nil
}

func (c *LFJClient) quoteSolana(ctx context.Context, aggregator string, req Request) (*Route, error) {
	tokenIn := solanaMint(req.TokenIn, aggregator)
	tokenOut := solanaMint(req.TokenOut, aggregator)
	endpoint := fmt.Sprintf("%s/solana/%s/swap-instruction?%s", c.baseURL, aggregator,
		query(req, tokenIn, tokenOut).Encode())

	var resp solanaRouteResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	amountOut, err := parseAmount(resp.AmountOut)
	if err != nil {
		return nil, fmt.Errorf("invalid response from aggregator %s: %w", aggregator, err)
	}

	instructions := make([]Instruction, 0, len(resp.Instructions))
	for _, ix := range resp.Instructions {
		data, err := base64.StdEncoding.DecodeString(ix.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid instruction data from aggregator %s: %w", aggregator, err)
		}
		accounts := make([]AccountMeta, len(ix.Accounts))
		for i, acc := range ix.Accounts {
			accounts[i] = AccountMeta{Address: acc.Address, IsSigner: acc.IsSigner, IsWritable: acc.IsWritable}
		}
		instructions = append(instructions, Instruction{ProgramID: ix.ProgramID, Accounts: accounts, Data: data})
	}

	return &Route{
		AmountOut:    amountOut,
		LookupTables: resp.AddressLookupTable,
		Instructions: instructions,
	}, nil
}

func (c *LFJClient) get(ctx context.Context, endpoint string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to query route: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read route response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &errclass.StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode route response: %w", err)
	}
	return nil
}

func query(req Request, tokenIn, tokenOut string) url.Values {
	q := url.Values{}
	q.Set("amountIn", req.AmountIn.String())
	q.Set("feeBps", "0")
	q.Set("slippageBps", fmt.Sprint(req.SlippageBps))
	q.Set("tokenIn", tokenIn)
	q.Set("tokenOut", tokenOut)
	q.Set("userAddress", req.UserAddress)
	return q
}

// solanaMint maps the native sentinel to the mint each aggregator expects.
func solanaMint(address, aggregator string) string {
	if !chains.IsNative(address) {
		return address
	}
	if aggregator == "jupiter" {
		return chains.SolMint
	}
	return chains.SystemProgramID
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
