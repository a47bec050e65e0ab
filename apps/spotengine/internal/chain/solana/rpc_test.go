package solana

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"method":"getBalance"`)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"context":{"slot":1},"value":42}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithRetryDelay(time.Millisecond, 5*time.Millisecond))
	balance, err := c.GetBalance(context.Background(), "owner")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), balance)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPClientDoesNotRetryRPCError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32002,"message":"Blockhash not found"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithRetryDelay(time.Millisecond, 5*time.Millisecond))
	_, err := c.SendTransaction(context.Background(), []byte{1, 2, 3})
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32002, rpcErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClientDecodesAccountAndTokenBalance(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch {
		case strings.Contains(string(body), "getAccountInfo") && strings.Contains(string(body), "missing"):
			_, _ = w.Write([]byte(`{"result":{"context":{"slot":1},"value":null}}`))
		case strings.Contains(string(body), "getAccountInfo"):
			_, _ = w.Write([]byte(`{"result":{"context":{"slot":1},"value":{"lamports":10,"owner":"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA","data":["` + data + `","base64"]}}}`))
		case strings.Contains(string(body), "getTokenAccountsByOwner"):
			_, _ = w.Write([]byte(`{"result":{"context":{"slot":1},"value":[
				{"pubkey":"a","account":{"data":{"parsed":{"info":{"tokenAmount":{"amount":"150"}}}}}},
				{"pubkey":"b","account":{"data":{"parsed":{"info":{"tokenAmount":{"amount":"50"}}}}}}]}}`))
		}
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL)

	info, err := c.GetAccountInfo(context.Background(), "mint")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, info.Data)
	assert.Equal(t, "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", info.Owner)

	missing, err := c.GetAccountInfo(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	balance, err := c.GetTokenBalance(context.Background(), "owner", "mint")
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance.Int64())
}
