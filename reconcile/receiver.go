package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tarancss/movo/lib/event"
	"github.com/tarancss/movo/lib/metrics"
	"github.com/tarancss/movo/lib/msg"
	mtype "github.com/tarancss/movo/lib/msg/types"
	"github.com/tarancss/movo/lib/store"
	"github.com/tarancss/movo/lib/util"
)

// Receiver reconciles WithdrawApproved events. Withdrawals are settled on chain, so only their history is kept.
type Receiver struct {
	db  store.Histories
	mb  msg.MsgBroker
	now func() time.Time
}

// NewReceiver returns a receiver reconciler.
func NewReceiver(db store.Histories, mb msg.MsgBroker) *Receiver {
	return &Receiver{db: db, mb: mb, now: time.Now}
}

// Handle implements Handler.
func (r *Receiver) Handle(ctx context.Context, ec EventContext, e event.Event) error {
	if ev, ok := e.(event.Withdraw); ok {
		return r.RecordWithdraw(ctx, ec, ev)
	}

	return fmt.Errorf("%w: %s for receiver", event.ErrUnknownEvent, e.EventName())
}

// WithdrawHistory builds the history of a withdraw. A crypto withdraw keeps the destination wallet and network,
// a fiat withdraw keeps the deposit wallet and bank account and is only valid from a stablecoin.
func WithdrawHistory(ev event.Withdraw) (store.WithdrawHistory, error) {
	h := store.WithdrawHistory{
		WithdrawID:      ev.WithdrawID,
		ReceiverID:      ev.ReceiverID,
		Amount:          ev.Amount,
		AmountBaseUnits: ev.BaseUnits,
		Choice:          normalize(ev.Choice),
		OriginCurrency:  ev.OriginCurrency,
		TargetCurrency:  ev.TargetCurrency,
	}

	switch {
	case h.Choice == store.ChoiceCrypto:
		h.NetworkChainID = ev.NetworkChainID
		h.WalletAddress = ev.WalletAddress
	case h.Choice == store.ChoiceFiat && util.InFold(Stablecoins, ev.OriginCurrency):
		h.DepositWalletAddress = ev.DepositWalletAddress
		h.BankID = ev.BankID
		h.BankName = ev.BankName
		h.BankAccountName = ev.BankAccountName
		h.BankAccountNumber = ev.BankAccountNumber
	default:
		return h, fmt.Errorf("%w: choice %q from %q", ErrInvalidWithdraw, ev.Choice, ev.OriginCurrency)
	}

	return h, nil
}

// RecordWithdraw stores the withdraw history once. A withdraw already recorded is a no-op.
func (r *Receiver) RecordWithdraw(ctx context.Context, ec EventContext, ev event.Withdraw) error {
	fields := append(ec.Fields(event.WithdrawApproved), zap.String("withdraw_id", ev.WithdrawID))

	h, err := WithdrawHistory(ev)
	if err != nil {
		return err
	}

	h.TxHash, h.BlockNumber, h.CreatedAt = ec.TxHash, ec.BlockNumber, r.now().UTC()

	err = r.db.InsertWithdrawHistory(ctx, h)
	if errors.Is(err, store.ErrDuplicate) {
		metrics.Duplicates.WithLabelValues("withdraw_history").Inc()
		zap.L().Info("Withdraw history already recorded", fields...)

		return nil
	}

	if err != nil {
		return fmt.Errorf("cannot insert withdraw history %s: %w", ev.WithdrawID, err)
	}

	zap.L().Info("Withdraw recorded", append(fields, zap.String("choice", h.Choice))...)
	publish(r.mb, mtype.New(mtype.WithdrawApproved, ev.WithdrawID, ec.TxHash, h), fields)

	return nil
}
