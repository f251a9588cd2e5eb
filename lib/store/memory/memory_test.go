package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/movo/lib/store"
)

var _ store.DB = (*Memory)(nil)

func seed(m *Memory) (userID, groupID string) {
	userID = m.PutUser(store.UserAccount{Email: "a@x.io", WalletAddress: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"})
	groupID = m.PutGroup(store.GroupOfUser{
		GroupID:   "G1",
		SenderID:  "S1",
		Receivers: []store.GroupReceiver{{Email: "b@x.io"}, {Email: "a@x.io"}},
	})

	return
}

func TestFindUserByWallet(t *testing.T) {
	m := New()
	id, _ := seed(m)
	ctx := context.Background()

	u, err := m.FindUserByWallet(ctx, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)

	_, err = m.FindUserByWallet(ctx, "0x0000000000000000000000000000000000000001")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLatestGroupBySender(t *testing.T) {
	m := New()
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	m.PutGroup(store.GroupOfUser{GroupID: "old", SenderID: "S1", CreatedAt: t0})
	m.PutGroup(store.GroupOfUser{GroupID: "new", SenderID: "S1", CreatedAt: t0.Add(time.Hour)})
	m.PutGroup(store.GroupOfUser{GroupID: "other", SenderID: "S2", CreatedAt: t0.Add(2 * time.Hour)})

	g, err := m.LatestGroupBySender(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "new", g.GroupID)

	_, err = m.LatestGroupBySender(ctx, "S3")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLinkEscrow(t *testing.T) {
	m := New()
	_, gid := seed(m)
	ctx := context.Background()

	require.NoError(t, m.LinkEscrow(ctx, gid, "E1"))
	require.NoError(t, m.LinkEscrow(ctx, gid, "E1"))
	assert.ErrorIs(t, m.LinkEscrow(ctx, gid, "E2"), store.ErrConflict)
	assert.ErrorIs(t, m.LinkEscrow(ctx, "nope", "E1"), store.ErrNotFound)

	g, _ := m.Group(gid)
	assert.Equal(t, "E1", g.EscrowID)
}

func TestApplyCredit(t *testing.T) {
	m := New()
	uid, gid := seed(m)
	ctx := context.Background()
	c := store.Credit{Key: "T1#1", Email: "a@x.io", GroupID: "G1", SenderID: "S1", Amount: decimal.RequireFromString("10.5")}

	res, err := m.ApplyCredit(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, store.CreditResult{User: store.Applied, Group: store.Applied}, res)

	res, err = m.ApplyCredit(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, store.CreditResult{User: store.AlreadyApplied, Group: store.AlreadyApplied}, res)

	u, _ := m.User(uid)
	assert.Equal(t, "10.5", u.AvailableBalance.String())

	g, _ := m.Group(gid)
	assert.True(t, g.Receivers[0].AvailableBalance.IsZero())
	assert.Equal(t, "10.5", g.Receivers[1].AvailableBalance.String())

	res, err = m.ApplyCredit(ctx, store.Credit{Key: "T1#0", Email: "b@x.io", GroupID: "G1", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, store.CreditResult{User: store.Missing, Group: store.Applied}, res)
}

func TestHistories(t *testing.T) {
	m := New()
	ctx := context.Background()

	require.NoError(t, m.InsertTransactionHistory(ctx, store.TransactionHistory{TxID: "T1"}))
	require.NoError(t, m.InsertTransactionHistory(ctx, store.TransactionHistory{TxID: "T2"}))
	assert.ErrorIs(t, m.InsertTransactionHistory(ctx, store.TransactionHistory{TxID: "T1"}), store.ErrDuplicate)

	var ids []string
	require.NoError(t, m.EachTransactionHistory(ctx, func(h store.TransactionHistory) error {
		ids = append(ids, h.TxID)
		return nil
	}))
	assert.Equal(t, []string{"T1", "T2"}, ids)

	require.NoError(t, m.InsertWithdrawHistory(ctx, store.WithdrawHistory{WithdrawID: "W1"}))
	assert.ErrorIs(t, m.InsertWithdrawHistory(ctx, store.WithdrawHistory{WithdrawID: "W1"}), store.ErrDuplicate)

	_, err := m.GetWithdrawHistory(ctx, "W2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEvents(t *testing.T) {
	m := New()
	ctx := context.Background()

	ok, err := m.AddEvent(ctx, store.IntakeEvent{Key: "0xb:1", Listener: "sender", BlockNumber: 9, LogIndex: 1})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.AddEvent(ctx, store.IntakeEvent{Key: "0xb:1", Listener: "sender"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.AddEvent(ctx, store.IntakeEvent{Key: "0xa:0", Listener: "receiver", BlockNumber: 3})
	require.NoError(t, err)

	require.NoError(t, m.SetEventStatus(ctx, "0xb:1", store.StatusFailed, "boom"))
	assert.ErrorIs(t, m.SetEventStatus(ctx, "0xc:0", store.StatusDone, ""), store.ErrNotFound)

	e, err := m.GetEvent(ctx, "0xb:1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, e.Status)
	assert.Equal(t, 1, e.Attempts)
	assert.Equal(t, "boom", e.Error)

	es, _ := m.ListEvents(ctx, store.EventFilter{})
	require.Len(t, es, 2)
	assert.Equal(t, "0xa:0", es[0].Key)

	es, _ = m.ListEvents(ctx, store.EventFilter{Status: store.StatusPending})
	require.Len(t, es, 1)
	assert.Equal(t, "receiver", es[0].Listener)
}

func TestRemoveRestoreEvent(t *testing.T) {
	m := New()
	ctx := context.Background()

	_, err := m.AddEvent(ctx, store.IntakeEvent{Key: "0xb:1", Listener: "sender", BlockNumber: 9, BlockHash: "0x09"})
	require.NoError(t, err)

	// only removed events are restored
	ok, err := m.RestoreEvent(ctx, store.IntakeEvent{Key: "0xb:1", BlockNumber: 10, BlockHash: "0x10"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.RemoveEvent(ctx, "0xb:1", "reorg"))
	assert.ErrorIs(t, m.RemoveEvent(ctx, "0xc:0", "reorg"), store.ErrNotFound)

	e, _ := m.GetEvent(ctx, "0xb:1")
	assert.True(t, e.Removed)
	assert.Equal(t, store.StatusDropped, e.Status)

	ok, err = m.RestoreEvent(ctx, store.IntakeEvent{Key: "0xb:1", BlockNumber: 10, BlockHash: "0x10"})
	require.NoError(t, err)
	assert.True(t, ok)

	e, _ = m.GetEvent(ctx, "0xb:1")
	assert.False(t, e.Removed)
	assert.Equal(t, store.StatusPending, e.Status)
	assert.Equal(t, uint64(10), e.BlockNumber)
	assert.Equal(t, "0x10", e.BlockHash)
	assert.Empty(t, e.Error)
}

func TestCursors(t *testing.T) {
	m := New()
	ctx := context.Background()

	_, err := m.LoadCursor(ctx, "sender")
	assert.ErrorIs(t, err, store.ErrDataNotFound)

	require.NoError(t, m.SaveCursor(ctx, store.Cursor{Listener: "sender", Block: 208, Bh: []string{"a", "b"}, Bhi: 1}))

	c, err := m.LoadCursor(ctx, "sender")
	require.NoError(t, err)
	assert.Equal(t, uint64(208), c.Block)
	assert.Equal(t, 1, c.Bhi)

	cs, _ := m.ListCursors(ctx)
	assert.Len(t, cs, 1)
}

func TestFailNext(t *testing.T) {
	m := New()
	boom := errors.New("boom")
	m.FailNext("InsertWithdrawHistory", boom)

	assert.ErrorIs(t, m.InsertWithdrawHistory(context.Background(), store.WithdrawHistory{WithdrawID: "W1"}), boom)
	assert.NoError(t, m.InsertWithdrawHistory(context.Background(), store.WithdrawHistory{WithdrawID: "W1"}))
}
