package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/movo/lib/store"
	"github.com/tarancss/movo/lib/store/memory"
	"github.com/tarancss/movo/listener"
)

type fakeReplayer struct {
	status string
	err    error
	keys   []string
}

func (f *fakeReplayer) Replay(ctx context.Context, e store.IntakeEvent) (string, error) {
	f.keys = append(f.keys, e.Key)

	return f.status, f.err
}

type response struct {
	Body  json.RawMessage `json:"body"`
	Error string          `json:"error"`
}

func seed(t *testing.T) *memory.Memory {
	t.Helper()

	ctx := context.Background()
	m := memory.New()

	for _, e := range []store.IntakeEvent{
		{Key: "0xa1:0", Listener: listener.SENDER, Name: "PayrollApproved", BlockNumber: 10},
		{Key: "0xa2:0", Listener: listener.SENDER, Name: "EscrowCreated", BlockNumber: 11},
		{Key: "0xa3:1", Listener: listener.RECEIVER, Name: "WithdrawApproved", BlockNumber: 12},
	} {
		_, err := m.AddEvent(ctx, e)
		require.NoError(t, err)
	}

	require.NoError(t, m.SetEventStatus(ctx, "0xa2:0", store.StatusFailed, "chain node unavailable"))
	require.NoError(t, m.SaveCursor(ctx, store.Cursor{Listener: listener.SENDER, Block: 42}))
	require.NoError(t, m.InsertTransactionHistory(ctx, store.TransactionHistory{
		TxID: "T1", TxHash: "0xa1", TotalAmount: decimal.RequireFromString("30"), TotalReceiver: 2,
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}))
	require.NoError(t, m.InsertWithdrawHistory(ctx, store.WithdrawHistory{
		WithdrawID: "W1", Amount: decimal.RequireFromString("5"), Choice: store.ChoiceCrypto,
	}))

	return m
}

func do(t *testing.T, srv *httptest.Server, method, uri string) (int, response) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, srv.URL+uri, nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var res response
	if resp.StatusCode != http.StatusMethodNotAllowed {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	}

	return resp.StatusCode, res
}

func TestAPI(t *testing.T) {
	rp := &fakeReplayer{status: store.StatusDone}
	srv := httptest.NewServer(New(seed(t), rp).Router())
	defer srv.Close()

	cases := []struct {
		name, method, uri string
		status            int
		body              string
		err               string
	}{
		{"home", http.MethodGet, "/", 200, `"Hello, this is the movo chain listener!"`, ""},
		{"health", http.MethodGet, "/health", 200, `"ok"`, ""},
		{"health_post", http.MethodPost, "/health", 405, "", ""},
		{"bad_status", http.MethodGet, "/events?status=lost", 400, "", `invalid status - use pending, done, dropped or failed: "lost"`},
		{"bad_limit", http.MethodGet, "/events?limit=x", 400, "", `invalid limit: "x"`},
		{"no_history", http.MethodGet, "/history/tx/T9", 404, "", "document was not found in store"},
		{"no_withdraw", http.MethodGet, "/history/withdraw/W9", 404, "", "document was not found in store"},
		{"replay_unknown", http.MethodPost, "/events/0xff:0/replay", 404, "", "event 0xff:0: document was not found in store"},
		{"replay_get", http.MethodGet, "/events/0xa2:0/replay", 405, "", ""},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			status, res := do(t, srv, c.method, c.uri)
			assert.Equal(t, c.status, status)
			assert.Equal(t, c.err, res.Error)

			if c.body != "" {
				assert.JSONEq(t, c.body, string(res.Body))
			}
		})
	}
}

func TestEvents(t *testing.T) {
	srv := httptest.NewServer(New(seed(t), nil).Router())
	defer srv.Close()

	var es []store.IntakeEvent

	status, res := do(t, srv, http.MethodGet, "/events")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(res.Body, &es))
	assert.Len(t, es, 3)

	_, res = do(t, srv, http.MethodGet, "/events?status=failed")
	require.NoError(t, json.Unmarshal(res.Body, &es))
	require.Len(t, es, 1)
	assert.Equal(t, "0xa2:0", es[0].Key)
	assert.Equal(t, "chain node unavailable", es[0].Error)

	_, res = do(t, srv, http.MethodGet, "/events?listener=sender&limit=1")
	require.NoError(t, json.Unmarshal(res.Body, &es))
	require.Len(t, es, 1)
	assert.Equal(t, "0xa1:0", es[0].Key)

	var cs []store.Cursor

	_, res = do(t, srv, http.MethodGet, "/listeners")
	require.NoError(t, json.Unmarshal(res.Body, &cs))
	require.Len(t, cs, 1)
	assert.Equal(t, uint64(42), cs[0].Block)
}

func TestHistories(t *testing.T) {
	srv := httptest.NewServer(New(seed(t), nil).Router())
	defer srv.Close()

	var h store.TransactionHistory

	status, res := do(t, srv, http.MethodGet, "/history/tx/T1")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(res.Body, &h))
	assert.Equal(t, "0xa1", h.TxHash)
	assert.True(t, h.TotalAmount.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, 2, h.TotalReceiver)

	var w store.WithdrawHistory

	status, res = do(t, srv, http.MethodGet, "/history/withdraw/W1")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(res.Body, &w))
	assert.Equal(t, store.ChoiceCrypto, w.Choice)
	assert.True(t, w.Amount.Equal(decimal.NewFromInt(5)))
}

func TestReplay(t *testing.T) {
	rp := &fakeReplayer{status: store.StatusFailed, err: errors.New("chain node unavailable")}
	srv := httptest.NewServer(New(seed(t), rp).Router())
	defer srv.Close()

	var rr ReplayResult

	status, res := do(t, srv, http.MethodPost, "/events/0xa2:0/replay")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(res.Body, &rr))
	assert.Equal(t, ReplayResult{Key: "0xa2:0", Status: store.StatusFailed, Error: "chain node unavailable"}, rr)
	assert.Equal(t, []string{"0xa2:0"}, rp.keys)

	rp.status, rp.err = "", listener.ErrEventNotFound
	status, _ = do(t, srv, http.MethodPost, "/events/0xa2:0/replay")
	assert.Equal(t, http.StatusNotFound, status)

	// without a replayer
	srv2 := httptest.NewServer(New(seed(t), nil).Router())
	defer srv2.Close()

	status, res = do(t, srv2, http.MethodPost, "/events/0xa2:0/replay")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, ErrNoReplay.Error(), res.Error)
}

func TestShutdown(t *testing.T) {
	a := New(memory.New(), nil)
	done := make(chan string, 1)

	go func() { done <- a.Init("127.0.0.1", "0") }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, a.Shutdown(context.Background()))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Init did not return")
	}
}
