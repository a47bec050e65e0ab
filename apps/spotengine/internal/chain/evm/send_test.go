package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCall() call {
	return call{
		to:       common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		data:     []byte{0x01},
		gas:      21_000,
		gasPrice: big.NewInt(1),
	}
}

func TestSendNeverResignsAfterUnconfirmedBroadcast(t *testing.T) {
	timeout := errors.New("write tcp 10.0.0.1:443: i/o timeout")
	tests := []struct {
		name     string
		setup    func(c *fakeClient)
		attempts int
	}{
		{
			name:     "accepted then resend already known",
			setup:    func(c *fakeClient) { c.mempool, c.dedupe, c.lostAcks = true, true, 1 },
			attempts: 2,
		},
		{
			name:     "accepted then resend nonce too low",
			setup:    func(c *fakeClient) { c.mempool, c.lostAcks = true, 1 },
			attempts: 2,
		},
		{
			name:     "dropped then resent",
			setup:    func(c *fakeClient) { c.sendErrs = []error{timeout, nil} },
			attempts: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			client.receipt = &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 21_000, EffectiveGasPrice: big.NewInt(1)}
			tt.setup(client)
			a := newTestAdapter(t, client, oneRoute())

			hash, receipt, err := a.send(context.Background(), client, 43114, newTestSigner(t).key, testCall())

			require.NoError(t, err)
			require.NotNil(t, receipt)
			require.Len(t, client.sent, 1, "exactly one distinct transaction is broadcast")
			assert.Equal(t, client.sent[0].Hash(), hash)
			assert.Equal(t, uint64(0), client.sent[0].Nonce())
			assert.Equal(t, tt.attempts, client.sendAttempts)
			assert.Equal(t, 1, client.nonceReads)
		})
	}
}

func TestSendUnconfirmedBroadcastWithoutReceipt(t *testing.T) {
	client := newFakeClient()
	client.sendErrs = []error{errors.New("write tcp 10.0.0.1:443: i/o timeout")}
	a := newTestAdapter(t, client, oneRoute())

	hash, receipt, err := a.send(context.Background(), client, 43114, newTestSigner(t).key, testCall())

	assert.ErrorIs(t, err, ErrReceiptUnavailable)
	assert.Nil(t, receipt)
	assert.NotEqual(t, common.Hash{}, hash)
	assert.Equal(t, 2, client.sendAttempts)
	assert.Equal(t, 1, client.nonceReads)
	assert.Zero(t, a.nonces.Len(), "tracker re-reads the pending nonce next time")
}
