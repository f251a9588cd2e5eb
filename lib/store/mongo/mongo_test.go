//go:build integration

package mongo

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/tarancss/movo/lib/store"
)

var _ store.DB = (*Mongo)(nil)

var uri = "mongodb://localhost:27017"

func newTestMongo(t *testing.T) *Mongo {
	t.Helper()

	if u := os.Getenv("MOVO_TEST_MONGO"); u != "" {
		uri = u
	}

	m, err := New(uri, "movo_test_"+uuid.NewString()[:8], false)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = m.db.Drop(context.Background())
		_ = m.CloseMongo()
	})

	return m
}

func TestApplyCredit(t *testing.T) {
	m := newTestMongo(t)
	ctx := context.Background()

	_, err := m.db.Collection(Users).InsertOne(ctx, bson.M{"email": "a@x.io", "availableBalance": 2.5})
	require.NoError(t, err)
	_, err = m.db.Collection(Groups).InsertOne(ctx, bson.M{
		"groupId": "G1", "senderId": "S1",
		"Receivers": bson.A{bson.M{"email": "b@x.io"}, bson.M{"email": "a@x.io", "availableBalance": 0}},
	})
	require.NoError(t, err)

	c := store.Credit{Key: "T1#1", Email: "a@x.io", GroupID: "G1", SenderID: "S1", Amount: decimal.RequireFromString("10")}

	res, err := m.ApplyCredit(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, store.CreditResult{User: store.Applied, Group: store.Applied}, res)

	res, err = m.ApplyCredit(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, store.CreditResult{User: store.AlreadyApplied, Group: store.AlreadyApplied}, res)

	u, err := m.FindUserByEmail(ctx, "a@x.io")
	require.NoError(t, err)
	assert.True(t, u.AvailableBalance.Equal(decimal.RequireFromString("12.5")), u.AvailableBalance.String())

	g, err := m.FindGroup(ctx, "S1", "G1")
	require.NoError(t, err)
	assert.Equal(t, "10", g.Receivers[1].AvailableBalance.String())
	assert.NotEmpty(t, g.ID)

	res, err = m.ApplyCredit(ctx, store.Credit{Key: "T1#2", Email: "z@x.io", GroupID: "G1", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, store.CreditResult{User: store.Missing, Group: store.Missing}, res)
}

func TestLinkEscrow(t *testing.T) {
	m := newTestMongo(t)
	ctx := context.Background()

	_, err := m.db.Collection(Groups).InsertOne(ctx, bson.M{"groupId": "G1", "senderId": "S1"})
	require.NoError(t, err)

	g, err := m.LatestGroupBySender(ctx, "S1")
	require.NoError(t, err)
	require.NotEmpty(t, g.ID)

	require.NoError(t, m.LinkEscrow(ctx, g.ID, "E1"))
	require.NoError(t, m.LinkEscrow(ctx, g.ID, "E1"))
	assert.ErrorIs(t, m.LinkEscrow(ctx, g.ID, "E2"), store.ErrConflict)
	assert.ErrorIs(t, m.LinkEscrow(ctx, "5f1d7f0b9d3e2a0001a1b2c3", "E1"), store.ErrNotFound)
}

func TestHistories(t *testing.T) {
	m := newTestMongo(t)
	ctx := context.Background()

	h := store.TransactionHistory{TxID: "T1", TotalAmount: decimal.RequireFromString("1.000000000000000001")}
	require.NoError(t, m.InsertTransactionHistory(ctx, h))
	assert.ErrorIs(t, m.InsertTransactionHistory(ctx, h), store.ErrDuplicate)

	got, err := m.GetTransactionHistory(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "1.000000000000000001", got.TotalAmount.String())

	n := 0
	require.NoError(t, m.EachTransactionHistory(ctx, func(store.TransactionHistory) error { n++; return nil }))
	assert.Equal(t, 1, n)

	require.NoError(t, m.InsertWithdrawHistory(ctx, store.WithdrawHistory{WithdrawID: "W1"}))
	assert.ErrorIs(t, m.InsertWithdrawHistory(ctx, store.WithdrawHistory{WithdrawID: "W1"}), store.ErrDuplicate)
}

func TestIntake(t *testing.T) {
	m := newTestMongo(t)
	ctx := context.Background()

	ok, err := m.AddEvent(ctx, store.IntakeEvent{Key: "0xa:1", Listener: "sender", BlockNumber: 5, LogIndex: 1})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.AddEvent(ctx, store.IntakeEvent{Key: "0xa:1", Listener: "sender"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.SetEventStatus(ctx, "0xa:1", store.StatusFailed, "boom"))

	es, err := m.ListEvents(ctx, store.EventFilter{Status: store.StatusFailed})
	require.NoError(t, err)
	require.Len(t, es, 1)
	assert.Equal(t, 1, es[0].Attempts)

	ok, err = m.RestoreEvent(ctx, store.IntakeEvent{Key: "0xa:1", BlockNumber: 6, BlockHash: "0x06"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.RemoveEvent(ctx, "0xa:1", "reorg"))

	ok, err = m.RestoreEvent(ctx, store.IntakeEvent{Key: "0xa:1", BlockNumber: 6, BlockHash: "0x06"})
	require.NoError(t, err)
	assert.True(t, ok)

	e, err := m.GetEvent(ctx, "0xa:1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, e.Status)
	assert.Equal(t, uint64(6), e.BlockNumber)
	assert.False(t, e.Removed)

	require.NoError(t, m.SaveCursor(ctx, store.Cursor{Listener: "sender", Block: 208, Bh: []string{"a", "b"}, Bhi: 1}))

	c, err := m.LoadCursor(ctx, "sender")
	require.NoError(t, err)
	assert.Equal(t, uint64(208), c.Block)

	_, err = m.LoadCursor(ctx, "receiver")
	assert.ErrorIs(t, err, store.ErrDataNotFound)
}
