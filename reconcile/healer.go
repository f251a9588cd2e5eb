package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tarancss/movo/lib/store"
)

// HealReport summarises a healing run.
type HealReport struct {
	Histories      int `json:"histories"`
	Applied        int `json:"applied"`
	AlreadyApplied int `json:"alreadyApplied"`
	Missing        int `json:"missing"`
	Failed         int `json:"failed"`
}

// Healer re-derives receiver balances from the recorded transaction histories. Since credits are keyed, a run
// only applies the increments that a crash or failed write left behind.
type Healer struct {
	db Store
}

// NewHealer returns a Healer over db.
func NewHealer(db Store) *Healer {
	return &Healer{db: db}
}

// Heal walks every transaction history and applies its credits.
func (h *Healer) Heal(ctx context.Context) (HealReport, error) {
	var rep HealReport

	err := h.db.EachTransactionHistory(ctx, func(th store.TransactionHistory) error {
		rep.Histories++

		for i, r := range th.Receivers {
			res, err := h.db.ApplyCredit(ctx, store.Credit{
				Key:      CreditKey(th.TxID, i),
				Email:    r.Email,
				GroupID:  th.GroupID,
				SenderID: th.SenderID,
				Amount:   r.Amount,
			})
			if err != nil {
				rep.Failed++

				zap.L().Error("Cannot heal credit", zap.String("tx_id", th.TxID), zap.String("email", r.Email),
					zap.Error(err))

				continue
			}

			for _, o := range []store.Outcome{res.User, res.Group} {
				switch o {
				case store.Applied:
					rep.Applied++
				case store.AlreadyApplied:
					rep.AlreadyApplied++
				case store.Missing:
					rep.Missing++
				}
			}
		}

		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("cannot heal balances: %w", err)
	}

	zap.L().Info("Balances healed", zap.Int("histories", rep.Histories), zap.Int("applied", rep.Applied),
		zap.Int("alreadyApplied", rep.AlreadyApplied), zap.Int("missing", rep.Missing), zap.Int("failed", rep.Failed))

	return rep, nil
}
