// Package memory implements the store interface in process memory. It is used by tests and by the "memory" dbtype
// for local runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tarancss/movo/lib/store"
	"github.com/tarancss/movo/lib/util"
)

// Memory is a store.DB held in maps guarded by one mutex.
type Memory struct {
	mu       sync.Mutex
	users    map[string]*store.UserAccount
	groups   map[string]*store.GroupOfUser
	txs      map[string]store.TransactionHistory
	txOrder  []string
	wds      map[string]store.WithdrawHistory
	events   map[string]store.IntakeEvent
	cursors  map[string]store.Cursor
	now      func() time.Time
	failNext map[string]error
}

// New returns an empty Memory store.
func New() *Memory {
	return &Memory{
		users:    make(map[string]*store.UserAccount),
		groups:   make(map[string]*store.GroupOfUser),
		txs:      make(map[string]store.TransactionHistory),
		wds:      make(map[string]store.WithdrawHistory),
		events:   make(map[string]store.IntakeEvent),
		cursors:  make(map[string]store.Cursor),
		now:      time.Now,
		failNext: make(map[string]error),
	}
}

// FailNext makes the next call of the named method return err. Used to inject store failures in tests.
func (m *Memory) FailNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failNext[method] = err
}

func (m *Memory) injected(method string) error {
	if err, ok := m.failNext[method]; ok {
		delete(m.failNext, method)
		return err
	}

	return nil
}

// PutUser inserts or replaces a user, assigning an id when it has none. It returns the id.
func (m *Memory) PutUser(u store.UserAccount) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now()
	}
	m.users[u.ID] = &u

	return u.ID
}

// PutGroup inserts or replaces a group, assigning an id when it has none. It returns the id.
func (m *Memory) PutGroup(g store.GroupOfUser) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = m.now()
	}
	g.Receivers = append([]store.GroupReceiver(nil), g.Receivers...)
	m.groups[g.ID] = &g

	return g.ID
}

// User returns a copy of the user with the given id.
func (m *Memory) User(id string) (store.UserAccount, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return store.UserAccount{}, false
	}

	return copyUser(u), true
}

// Group returns a copy of the group with the given id.
func (m *Memory) Group(id string) (store.GroupOfUser, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[id]
	if !ok {
		return store.GroupOfUser{}, false
	}

	return copyGroup(g), true
}

// FindUserByWallet returns the user whose wallet address matches, ignoring case.
func (m *Memory) FindUserByWallet(ctx context.Context, wallet string) (store.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("FindUserByWallet"); err != nil {
		return store.UserAccount{}, err
	}

	vs := util.AddressVariants(wallet)
	for _, id := range m.userIDs() {
		if u := m.users[id]; u.WalletAddress != "" && util.InFold(vs, u.WalletAddress) {
			return copyUser(u), nil
		}
	}

	return store.UserAccount{}, store.ErrNotFound
}

// FindUserByEmail returns the user with the given email.
func (m *Memory) FindUserByEmail(ctx context.Context, email string) (store.UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u := m.userByEmail(email); u != nil {
		return copyUser(u), nil
	}

	return store.UserAccount{}, store.ErrNotFound
}

// LatestGroupBySender returns the sender's group with the newest CreatedAt.
func (m *Memory) LatestGroupBySender(ctx context.Context, senderID string) (store.GroupOfUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("LatestGroupBySender"); err != nil {
		return store.GroupOfUser{}, err
	}

	var latest *store.GroupOfUser
	for _, g := range m.groups {
		if g.SenderID != senderID {
			continue
		}
		if latest == nil || g.CreatedAt.After(latest.CreatedAt) {
			latest = g
		}
	}

	if latest == nil {
		return store.GroupOfUser{}, store.ErrNotFound
	}

	return copyGroup(latest), nil
}

// FindGroup returns the group of the sender with the given group id. An empty senderID matches any sender.
func (m *Memory) FindGroup(ctx context.Context, senderID, groupID string) (store.GroupOfUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g := m.group(senderID, groupID); g != nil {
		return copyGroup(g), nil
	}

	return store.GroupOfUser{}, store.ErrNotFound
}

// LinkEscrow sets the escrow id of a group unless it is linked to another escrow.
func (m *Memory) LinkEscrow(ctx context.Context, id, escrowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("LinkEscrow"); err != nil {
		return err
	}

	g, ok := m.groups[id]
	if !ok {
		return store.ErrNotFound
	}

	if g.EscrowID != "" && g.EscrowID != escrowID {
		return store.ErrConflict
	}

	g.EscrowID = escrowID
	g.UpdatedAt = m.now()

	return nil
}

// ApplyCredit increments the user balance and the group receiver balance, each once per credit key.
func (m *Memory) ApplyCredit(ctx context.Context, c store.Credit) (store.CreditResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := store.CreditResult{User: store.Missing, Group: store.Missing}

	if err := m.injected("ApplyCredit"); err != nil {
		return res, err
	}

	if u := m.userByEmail(c.Email); u != nil {
		if util.In(u.AppliedCredits, c.Key) {
			res.User = store.AlreadyApplied
		} else {
			u.AvailableBalance = u.AvailableBalance.Add(c.Amount)
			u.AppliedCredits = append(u.AppliedCredits, c.Key)
			u.UpdatedAt = m.now()
			res.User = store.Applied
		}
	}

	if g := m.group(c.SenderID, c.GroupID); g != nil {
		for i := range g.Receivers {
			if g.Receivers[i].Email != c.Email {
				continue
			}

			if util.In(g.AppliedCredits, c.Key) {
				res.Group = store.AlreadyApplied
			} else {
				g.Receivers[i].AvailableBalance = g.Receivers[i].AvailableBalance.Add(c.Amount)
				g.AppliedCredits = append(g.AppliedCredits, c.Key)
				g.UpdatedAt = m.now()
				res.Group = store.Applied
			}

			break
		}
	}

	return res, nil
}

// InsertTransactionHistory stores h unless its TxID is known.
func (m *Memory) InsertTransactionHistory(ctx context.Context, h store.TransactionHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("InsertTransactionHistory"); err != nil {
		return err
	}

	if _, ok := m.txs[h.TxID]; ok {
		return store.ErrDuplicate
	}

	h.Receivers = append([]store.PaidReceiver(nil), h.Receivers...)
	m.txs[h.TxID] = h
	m.txOrder = append(m.txOrder, h.TxID)

	return nil
}

// GetTransactionHistory returns the history with the given TxID.
func (m *Memory) GetTransactionHistory(ctx context.Context, txID string) (store.TransactionHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.txs[txID]
	if !ok {
		return h, store.ErrNotFound
	}

	return h, nil
}

// EachTransactionHistory calls fn for every history in insertion order, stopping at the first error.
func (m *Memory) EachTransactionHistory(ctx context.Context, fn func(store.TransactionHistory) error) error {
	m.mu.Lock()
	hs := make([]store.TransactionHistory, 0, len(m.txOrder))
	for _, id := range m.txOrder {
		hs = append(hs, m.txs[id])
	}
	m.mu.Unlock()

	for _, h := range hs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(h); err != nil {
			return err
		}
	}

	return nil
}

// InsertWithdrawHistory stores h unless its WithdrawID is known.
func (m *Memory) InsertWithdrawHistory(ctx context.Context, h store.WithdrawHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("InsertWithdrawHistory"); err != nil {
		return err
	}

	if _, ok := m.wds[h.WithdrawID]; ok {
		return store.ErrDuplicate
	}

	m.wds[h.WithdrawID] = h

	return nil
}

// GetWithdrawHistory returns the history with the given WithdrawID.
func (m *Memory) GetWithdrawHistory(ctx context.Context, withdrawID string) (store.WithdrawHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.wds[withdrawID]
	if !ok {
		return h, store.ErrNotFound
	}

	return h, nil
}

// AddEvent stores e as pending unless its key is known.
func (m *Memory) AddEvent(ctx context.Context, e store.IntakeEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("AddEvent"); err != nil {
		return false, err
	}

	if _, ok := m.events[e.Key]; ok {
		return false, nil
	}

	now := m.now()
	e.Status, e.CreatedAt, e.UpdatedAt = store.StatusPending, now, now
	m.events[e.Key] = e

	return true, nil
}

// GetEvent returns the intake event with the given key.
func (m *Memory) GetEvent(ctx context.Context, key string) (store.IntakeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[key]
	if !ok {
		return e, store.ErrNotFound
	}

	return e, nil
}

// SetEventStatus records a processing attempt of the event.
func (m *Memory) SetEventStatus(ctx context.Context, key, status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[key]
	if !ok {
		return store.ErrNotFound
	}

	e.Status, e.Error, e.UpdatedAt = status, errMsg, m.now()
	e.Attempts++
	m.events[key] = e

	return nil
}

// RemoveEvent drops an event removed by a reorganisation.
func (m *Memory) RemoveEvent(ctx context.Context, key, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[key]
	if !ok {
		return store.ErrNotFound
	}

	e.Removed, e.Status, e.Error, e.UpdatedAt = true, store.StatusDropped, errMsg, m.now()
	m.events[key] = e

	return nil
}

// RestoreEvent sets a removed event back to pending with the block of the log that re-included it.
func (m *Memory) RestoreEvent(ctx context.Context, e store.IntakeEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.events[e.Key]
	if !ok || !cur.Removed || cur.Status != store.StatusDropped {
		return false, nil
	}

	cur.BlockNumber, cur.BlockHash, cur.Topics, cur.Data = e.BlockNumber, e.BlockHash, e.Topics, e.Data
	cur.Removed, cur.Status, cur.Error, cur.UpdatedAt = false, store.StatusPending, "", m.now()
	m.events[e.Key] = cur

	return true, nil
}

// ListEvents returns the matching events ordered by block number and log index.
func (m *Memory) ListEvents(ctx context.Context, f store.EventFilter) ([]store.IntakeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	es := []store.IntakeEvent{}
	for _, e := range m.events {
		if (f.Listener == "" || e.Listener == f.Listener) && (f.Status == "" || e.Status == f.Status) {
			es = append(es, e)
		}
	}

	sort.Slice(es, func(i, j int) bool {
		if es[i].BlockNumber != es[j].BlockNumber {
			return es[i].BlockNumber < es[j].BlockNumber
		}
		return es[i].LogIndex < es[j].LogIndex
	})

	if f.Limit > 0 && len(es) > f.Limit {
		es = es[:f.Limit]
	}

	return es, nil
}

// LoadCursor returns the cursor of the listener or store.ErrDataNotFound.
func (m *Memory) LoadCursor(ctx context.Context, listener string) (store.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cursors[listener]
	if !ok {
		return c, store.ErrDataNotFound
	}

	c.Bh = append([]string(nil), c.Bh...)

	return c, nil
}

// SaveCursor upserts the cursor of c.Listener.
func (m *Memory) SaveCursor(ctx context.Context, c store.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("SaveCursor"); err != nil {
		return err
	}

	c.Bh = append([]string(nil), c.Bh...)
	c.Updated = m.now()
	m.cursors[c.Listener] = c

	return nil
}

// ListCursors returns all cursors ordered by listener name.
func (m *Memory) ListCursors(ctx context.Context) ([]store.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := make([]store.Cursor, 0, len(m.cursors))
	for _, c := range m.cursors {
		cs = append(cs, c)
	}

	sort.Slice(cs, func(i, j int) bool { return cs[i].Listener < cs[j].Listener })

	return cs, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func (m *Memory) userIDs() []string {
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

func (m *Memory) userByEmail(email string) *store.UserAccount {
	email = strings.TrimSpace(email)
	for _, id := range m.userIDs() {
		if u := m.users[id]; u.Email == email {
			return u
		}
	}

	return nil
}

func (m *Memory) group(senderID, groupID string) *store.GroupOfUser {
	for _, g := range m.groups {
		if g.GroupID == groupID && (senderID == "" || g.SenderID == senderID) {
			return g
		}
	}

	return nil
}

func copyUser(u *store.UserAccount) store.UserAccount {
	c := *u
	c.AppliedCredits = append([]string(nil), u.AppliedCredits...)
	c.RegisteredBanks = append([]store.BankAccount(nil), u.RegisteredBanks...)

	return c
}

func copyGroup(g *store.GroupOfUser) store.GroupOfUser {
	c := *g
	c.Receivers = append([]store.GroupReceiver(nil), g.Receivers...)
	c.AppliedCredits = append([]string(nil), g.AppliedCredits...)

	return c
}
