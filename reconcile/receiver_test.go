package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/movo/lib/event"
	"github.com/tarancss/movo/lib/store"
	"github.com/tarancss/movo/lib/store/memory"
)

func withdraw(choice, origin string) event.Withdraw {
	return event.Withdraw{
		WithdrawID:           "W1",
		ReceiverID:           "R1",
		Amount:               amount("5"),
		BaseUnits:            "5000000000000000000",
		Choice:               choice,
		OriginCurrency:       origin,
		TargetCurrency:       "IDR",
		BankID:               "14",
		DepositWalletAddress: "0xDeposit",
		BankName:             "BCA",
		BankAccountName:      "R One",
		BankAccountNumber:    "123456",
		WalletAddress:        "0xReceiver",
		NetworkChainID:       "4202",
	}
}

func TestRecordWithdrawCrypto(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	mb := &recorder{}
	r := NewReceiver(m, mb)

	require.NoError(t, r.Handle(ctx, eventContext(2), withdraw("crypto", "ETH")))

	h, err := m.GetWithdrawHistory(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, store.ChoiceCrypto, h.Choice)
	assert.Equal(t, "4202", h.NetworkChainID)
	assert.Equal(t, "0xReceiver", h.WalletAddress)
	assert.Equal(t, "5", h.Amount.String())
	assert.Equal(t, "5000000000000000000", h.AmountBaseUnits)
	assert.Empty(t, h.BankID)
	assert.Empty(t, h.BankName)
	assert.Empty(t, h.BankAccountNumber)
	assert.Empty(t, h.DepositWalletAddress)
	assert.Equal(t, txHash, h.TxHash)
	assert.False(t, h.CreatedAt.IsZero())

	require.Len(t, mb.ns, 1)
	assert.Equal(t, "withdraw.approved.W1", mb.ns[0].RoutingKey())
}

func TestRecordWithdrawFiat(t *testing.T) {
	ctx := context.Background()

	for _, origin := range []string{"USDC", "USDT", "usdt"} {
		m := memory.New()
		require.NoError(t, NewReceiver(m, nil).Handle(ctx, eventContext(2), withdraw("fiat", origin)), origin)

		h, err := m.GetWithdrawHistory(ctx, "W1")
		require.NoError(t, err)
		assert.Equal(t, "0xDeposit", h.DepositWalletAddress)
		assert.Equal(t, "BCA", h.BankName)
		assert.Equal(t, "123456", h.BankAccountNumber)
		assert.Empty(t, h.WalletAddress)
		assert.Empty(t, h.NetworkChainID)
	}
}

func TestRecordWithdrawInvalid(t *testing.T) {
	ctx := context.Background()

	for _, w := range []event.Withdraw{withdraw("fiat", "ETH"), withdraw("fiat", "IDRX"), withdraw("cash", "USDC")} {
		m := memory.New()

		err := NewReceiver(m, nil).Handle(ctx, eventContext(2), w)
		assert.ErrorIs(t, err, ErrInvalidWithdraw)

		_, err = m.GetWithdrawHistory(ctx, "W1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	}
}

func TestRecordWithdrawDuplicate(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	mb := &recorder{}
	r := NewReceiver(m, mb)

	require.NoError(t, r.Handle(ctx, eventContext(2), withdraw("crypto", "ETH")))
	require.NoError(t, r.Handle(ctx, eventContext(2), withdraw("crypto", "ETH")))
	assert.Len(t, mb.ns, 1)

	m.FailNext("InsertWithdrawHistory", errors.New("timeout"))

	w := withdraw("crypto", "ETH")
	w.WithdrawID = "W2"
	assert.Error(t, r.Handle(ctx, eventContext(3), w))
}
