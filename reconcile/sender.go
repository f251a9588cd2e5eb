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
)

// Sender reconciles EscrowCreated and PayrollApproved events.
type Sender struct {
	db      Store
	chain   Chain
	mb      msg.MsgBroker
	timeout time.Duration
}

// NewSender returns a sender reconciler. Chain reads of one event are bounded by timeout.
func NewSender(db Store, chain Chain, mb msg.MsgBroker, timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Sender{db: db, chain: chain, mb: mb, timeout: timeout}
}

// Handle implements Handler.
func (s *Sender) Handle(ctx context.Context, ec EventContext, e event.Event) error {
	switch ev := e.(type) {
	case event.Escrow:
		return s.LinkEscrow(ctx, ec, ev)
	case event.Payroll:
		return s.RecordPayroll(ctx, ec, ev)
	}

	return fmt.Errorf("%w: %s for sender", event.ErrUnknownEvent, e.EventName())
}

// LinkEscrow sets the escrow id on the group of the sender identified by wallet. The group is the one named by
// the event or, when the event names none, the sender's most recently created group.
func (s *Sender) LinkEscrow(ctx context.Context, ec EventContext, ev event.Escrow) error {
	fields := append(ec.Fields(event.EscrowCreated), zap.String("escrow_id", ev.EscrowID))

	user, err := s.db.FindUserByWallet(ctx, ev.Sender)
	if errors.Is(err, store.ErrNotFound) {
		lookupMiss("wallet")
	}

	if err != nil {
		return fmt.Errorf("cannot find user with wallet %s: %w", ev.Sender, err)
	}

	var group store.GroupOfUser
	if ev.GroupID != "" {
		group, err = s.db.FindGroup(ctx, user.ID, ev.GroupID)
	} else {
		group, err = s.db.LatestGroupBySender(ctx, user.ID)
	}

	if errors.Is(err, store.ErrNotFound) {
		lookupMiss("group")
	}

	if err != nil {
		return fmt.Errorf("cannot find group of sender %s: %w", user.ID, err)
	}

	fields = append(fields, zap.String("group_id", group.GroupID))

	if err = s.db.LinkEscrow(ctx, group.ID, ev.EscrowID); err != nil {
		return fmt.Errorf("cannot link escrow %s to group %s: %w", ev.EscrowID, group.GroupID, err)
	}

	zap.L().Info("Escrow linked to group", fields...)
	publish(s.mb, mtype.New(mtype.EscrowLinked, ev.EscrowID, ec.TxHash, map[string]string{
		"escrowId": ev.EscrowID,
		"groupId":  group.GroupID,
		"senderId": user.ID,
	}), fields)

	return nil
}

// RecordPayroll stores the transaction history of the payroll and credits every receiver. A payroll already
// recorded is not inserted again but its credits are re-applied, completing any left behind by a previous run.
// A receiver without user or group entry is skipped; a failed credit fails the event once all were attempted.
// The payroll is published once the run that completes its credits succeeds.
func (s *Sender) RecordPayroll(ctx context.Context, ec EventContext, ev event.Payroll) error {
	fields := append(ec.Fields(event.PayrollApproved), zap.String("tx_id", ev.TxID))

	h, err := s.history(ctx, ec, ev)
	if err != nil {
		return err
	}

	inserted := true

	err = s.db.InsertTransactionHistory(ctx, h)
	if errors.Is(err, store.ErrDuplicate) {
		inserted = false

		metrics.Duplicates.WithLabelValues("transaction_history").Inc()
		zap.L().Info("Transaction history already recorded", fields...)
	} else if err != nil {
		return fmt.Errorf("cannot insert transaction history %s: %w", ev.TxID, err)
	}

	credits := make([]store.Credit, len(ev.Receivers))
	for i, r := range ev.Receivers {
		credits[i] = store.Credit{
			Key:      CreditKey(ev.TxID, i),
			Email:    r.Email,
			GroupID:  ev.GroupID,
			SenderID: ev.SenderID,
			Amount:   r.Amount,
		}
	}

	applied, failed := applyCredits(ctx, s.db, credits, fields)
	if failed > 0 {
		return fmt.Errorf("%d of %d credits of %s failed", failed, len(credits), ev.TxID)
	}

	// a recorded payroll with credits still to apply failed before publishing
	if inserted || applied > 0 {
		zap.L().Info("Payroll recorded", append(fields, zap.Int("receivers", len(credits)))...)
		publish(s.mb, mtype.New(mtype.PayrollApproved, ev.TxID, ec.TxHash, h), fields)
	}

	return nil
}

// history builds the transaction history of the payroll from the chain data of its transaction.
func (s *Sender) history(ctx context.Context, ec EventContext, ev event.Payroll) (store.TransactionHistory, error) {
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	t0 := time.Now()

	tx, err := s.chain.GetTx(rctx, ec.TxHash)
	metrics.ObserveChainRead("getTx", t0)

	if err != nil {
		return store.TransactionHistory{}, fmt.Errorf("cannot get transaction %s: %w", ec.TxHash, err)
	}

	t0 = time.Now()

	rc, err := s.chain.GetReceipt(rctx, ec.TxHash)
	metrics.ObserveChainRead("getReceipt", t0)

	if err != nil {
		return store.TransactionHistory{}, fmt.Errorf("cannot get receipt %s: %w", ec.TxHash, err)
	}

	number := rc.BlockNumber
	if number == 0 {
		number = ec.BlockNumber
	}

	t0 = time.Now()

	blk, err := s.chain.GetBlock(rctx, number)
	metrics.ObserveChainRead("getBlock", t0)

	if err != nil {
		return store.TransactionHistory{}, fmt.Errorf("cannot get block %d: %w", number, err)
	}

	ts, err := blk.Time()
	if err != nil {
		return store.TransactionHistory{}, fmt.Errorf("block %d: %w", number, err)
	}

	receivers := make([]store.PaidReceiver, 0, len(ev.Receivers))
	for _, r := range ev.Receivers {
		receivers = append(receivers, store.PaidReceiver{Email: r.Email, Fullname: r.Fullname, Amount: r.Amount})
	}

	return store.TransactionHistory{
		TxID:           ev.TxID,
		TxHash:         ec.TxHash,
		BlockNumber:    number,
		BlockHash:      rc.BlockHash,
		From:           tx.From,
		To:             tx.To,
		GasUsed:        rc.GasUsed,
		GasPrice:       tx.Price,
		SenderID:       ev.SenderID,
		SenderName:     ev.SenderName,
		GroupID:        ev.GroupID,
		GroupName:      ev.GroupName,
		OriginCurrency: ev.OriginCurrency,
		Receivers:      receivers,
		TotalAmount:    ev.TotalAmount,
		TotalReceiver:  len(receivers),
		Timestamp:      ts,
	}, nil
}

// CreditKey identifies the credit of the i-th receiver of a payroll.
func CreditKey(txID string, i int) string {
	return fmt.Sprintf("%s#%d", txID, i)
}

// applyCredits applies every credit, logging misses. It returns how many credits changed a balance and how many
// could not be applied due to errors.
func applyCredits(ctx context.Context, db store.Accounts, credits []store.Credit,
	fields []zap.Field) (applied, failed int) {
	for _, c := range credits {
		cf := append(fields[:len(fields):len(fields)], zap.String("email", c.Email), zap.String("credit", c.Key))

		res, err := db.ApplyCredit(ctx, c)
		if err != nil {
			failed++

			zap.L().Error("Cannot credit receiver", append(cf, zap.Error(err))...)

			continue
		}

		if res.User == store.Applied {
			metrics.CreditsApplied.WithLabelValues("user").Inc()
		}

		if res.Group == store.Applied {
			metrics.CreditsApplied.WithLabelValues("group").Inc()
		}

		if res.User == store.Missing {
			lookupMiss("user")
			zap.L().Warn("No user account for receiver", cf...)
		}

		if res.Group == store.Missing {
			lookupMiss("group_receiver")
			zap.L().Warn("No group entry for receiver", cf...)
		}

		if res.User == store.Applied || res.Group == store.Applied {
			applied++

			zap.L().Debug("Receiver credited", append(cf, zap.String("amount", c.Amount.String()),
				zap.Stringer("user", res.User), zap.Stringer("group", res.Group))...)
		}
	}

	return applied, failed
}
