// Package mongo implements the store interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/tarancss/movo/lib/store"
	"github.com/tarancss/movo/lib/util"
)

// Collection names.
const (
	Users        = "userdatas"
	Groups       = "groupofuserdatas"
	TxHistory    = "transactionhistories"
	WdHistory    = "withdrawhistories"
	IntakeEvents = "intakeevents"
	Cursors      = "cursors"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c   *mgo.Client
	db  *mgo.Database
	txn bool
}

// New returns a Mongo client connection to the specified MongoDB database uri. When txn is set, both increments
// of a credit run in one transaction, which requires a replica set.
func New(uri, dbname string, txn bool) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri).SetRegistry(registry()))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB: %w", err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	if err = c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	if err = c.Ping(ctx, readpref.Primary()); err != nil {
		_ = c.Disconnect(context.Background())
		return nil, fmt.Errorf("error reaching mongo DB: %w", err)
	}

	m := &Mongo{c: c, db: c.Database(dbname), txn: txn}
	m.ensureIndexes(ctx)

	return m, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

func (m *Mongo) ensureIndexes(ctx context.Context) {
	unique := options.Index().SetUnique(true)
	idx := map[string][]mgo.IndexModel{
		TxHistory: {{Keys: bson.D{{Key: "txId", Value: 1}}, Options: unique}},
		WdHistory: {{Keys: bson.D{{Key: "withdrawId", Value: 1}}, Options: unique}},
		Groups: {
			{Keys: bson.D{{Key: "senderId", Value: 1}, {Key: "groupId", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "senderId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		Users:        {{Keys: bson.D{{Key: "walletAddress", Value: 1}}}, {Keys: bson.D{{Key: "email", Value: 1}}}},
		IntakeEvents: {{Keys: bson.D{{Key: "listener", Value: 1}, {Key: "status", Value: 1}}}},
	}

	for col, models := range idx {
		if _, err := m.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			zap.L().Warn("cannot create indexes", zap.String("collection", col), zap.Error(err))
		}
	}
}

// byID builds an _id filter, matching ObjectIDs when id is their hex form.
func byID(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": oid}
	}

	return bson.M{"_id": id}
}

func findOne(ctx context.Context, col *mgo.Collection, filter interface{}, v interface{},
	opts ...*options.FindOneOptions) error {
	err := col.FindOne(ctx, filter, opts...).Decode(v)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return store.ErrNotFound
	}

	return err
}

// FindUserByWallet returns the user whose wallet address matches in any of its usual spellings.
func (m *Mongo) FindUserByWallet(ctx context.Context, wallet string) (u store.UserAccount, err error) {
	filter := bson.M{"walletAddress": bson.M{"$in": util.AddressVariants(wallet)}}
	err = findOne(ctx, m.db.Collection(Users), filter, &u)

	return
}

// FindUserByEmail returns the user with the given email.
func (m *Mongo) FindUserByEmail(ctx context.Context, email string) (u store.UserAccount, err error) {
	err = findOne(ctx, m.db.Collection(Users), bson.M{"email": email}, &u)

	return
}

// LatestGroupBySender returns the sender's most recently created group.
func (m *Mongo) LatestGroupBySender(ctx context.Context, senderID string) (g store.GroupOfUser, err error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	err = findOne(ctx, m.db.Collection(Groups), bson.M{"senderId": senderID}, &g, opts)

	return
}

// FindGroup returns a group by sender and group id. An empty senderID matches any sender.
func (m *Mongo) FindGroup(ctx context.Context, senderID, groupID string) (g store.GroupOfUser, err error) {
	err = findOne(ctx, m.db.Collection(Groups), groupFilter(senderID, groupID), &g)

	return
}

func groupFilter(senderID, groupID string) bson.M {
	f := bson.M{"groupId": groupID}
	if senderID != "" {
		f["senderId"] = senderID
	}

	return f
}

// LinkEscrow sets the escrow id of a group unless it is linked to another escrow.
func (m *Mongo) LinkEscrow(ctx context.Context, id, escrowID string) error {
	col := m.db.Collection(Groups)

	filter := byID(id)
	filter["$or"] = bson.A{
		bson.M{"escrowId": bson.M{"$exists": false}},
		bson.M{"escrowId": ""},
		bson.M{"escrowId": escrowID},
	}

	res, err := col.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"escrowId": escrowID, "updatedAt": time.Now()}})
	if err != nil {
		return fmt.Errorf("cannot link escrow: %w", err)
	}

	if res.MatchedCount == 1 {
		return nil
	}

	n, err := col.CountDocuments(ctx, byID(id))
	if err != nil {
		return fmt.Errorf("cannot link escrow: %w", err)
	}

	if n == 0 {
		return store.ErrNotFound
	}

	return store.ErrConflict
}

// ApplyCredit increments the user balance and the group receiver balance, each guarded by the credit key.
func (m *Mongo) ApplyCredit(ctx context.Context, c store.Credit) (res store.CreditResult, err error) {
	if !m.txn {
		return m.applyCredit(ctx, c)
	}

	err = m.c.UseSession(ctx, func(sc mgo.SessionContext) error {
		_, errTx := sc.WithTransaction(sc, func(sc mgo.SessionContext) (interface{}, error) {
			var errApply error
			res, errApply = m.applyCredit(sc, c)

			return nil, errApply
		})

		return errTx
	})

	return res, err
}

func (m *Mongo) applyCredit(ctx context.Context, c store.Credit) (res store.CreditResult, err error) {
	now := time.Now()

	user := bson.M{"email": c.Email}
	res.User, err = m.guardedInc(ctx, m.db.Collection(Users), user, c.Key, bson.M{
		"$inc":      bson.M{"availableBalance": c.Amount},
		"$addToSet": bson.M{"appliedCredits": c.Key},
		"$set":      bson.M{"updatedAt": now},
	})
	if err != nil {
		return res, fmt.Errorf("cannot credit user: %w", err)
	}

	group := groupFilter(c.SenderID, c.GroupID)
	group["Receivers.email"] = c.Email
	res.Group, err = m.guardedInc(ctx, m.db.Collection(Groups), group, c.Key, bson.M{
		"$inc":      bson.M{"Receivers.$.availableBalance": c.Amount},
		"$addToSet": bson.M{"appliedCredits": c.Key},
		"$set":      bson.M{"updatedAt": now},
	})
	if err != nil {
		return res, fmt.Errorf("cannot credit group: %w", err)
	}

	return res, nil
}

// guardedInc applies update to the document matching filter unless key is in its appliedCredits.
func (m *Mongo) guardedInc(ctx context.Context, col *mgo.Collection, filter bson.M, key string,
	update bson.M) (store.Outcome, error) {
	guarded := bson.M{"appliedCredits": bson.M{"$ne": key}}
	for k, v := range filter {
		guarded[k] = v
	}

	r, err := col.UpdateOne(ctx, guarded, update)
	if err != nil {
		return store.Missing, err
	}

	if r.MatchedCount == 1 {
		return store.Applied, nil
	}

	n, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return store.Missing, err
	}

	if n > 0 {
		return store.AlreadyApplied, nil
	}

	return store.Missing, nil
}

func insert(ctx context.Context, col *mgo.Collection, doc interface{}) error {
	_, err := col.InsertOne(ctx, doc)
	if mgo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}

	return err
}

// InsertTransactionHistory stores h, returning store.ErrDuplicate for a known TxID.
func (m *Mongo) InsertTransactionHistory(ctx context.Context, h store.TransactionHistory) error {
	return insert(ctx, m.db.Collection(TxHistory), h)
}

// GetTransactionHistory returns the history with the given TxID.
func (m *Mongo) GetTransactionHistory(ctx context.Context, txID string) (h store.TransactionHistory, err error) {
	err = findOne(ctx, m.db.Collection(TxHistory), bson.M{"txId": txID}, &h)

	return
}

// EachTransactionHistory calls fn for every history in insertion order, stopping at the first error.
func (m *Mongo) EachTransactionHistory(ctx context.Context, fn func(store.TransactionHistory) error) error {
	cur, err := m.db.Collection(TxHistory).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return fmt.Errorf("cannot list transaction histories: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var h store.TransactionHistory
		if err = cur.Decode(&h); err != nil {
			return fmt.Errorf("cannot decode transaction history: %w", err)
		}

		if err = fn(h); err != nil {
			return err
		}
	}

	return cur.Err()
}

// InsertWithdrawHistory stores h, returning store.ErrDuplicate for a known WithdrawID.
func (m *Mongo) InsertWithdrawHistory(ctx context.Context, h store.WithdrawHistory) error {
	return insert(ctx, m.db.Collection(WdHistory), h)
}

// GetWithdrawHistory returns the history with the given WithdrawID.
func (m *Mongo) GetWithdrawHistory(ctx context.Context, withdrawID string) (h store.WithdrawHistory, err error) {
	err = findOne(ctx, m.db.Collection(WdHistory), bson.M{"withdrawId": withdrawID}, &h)

	return
}

// AddEvent stores e as pending unless its key is known.
func (m *Mongo) AddEvent(ctx context.Context, e store.IntakeEvent) (bool, error) {
	now := time.Now()
	e.Status, e.CreatedAt, e.UpdatedAt = store.StatusPending, now, now

	err := insert(ctx, m.db.Collection(IntakeEvents), e)
	if errors.Is(err, store.ErrDuplicate) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("cannot add intake event: %w", err)
	}

	return true, nil
}

// GetEvent returns the intake event with the given key.
func (m *Mongo) GetEvent(ctx context.Context, key string) (e store.IntakeEvent, err error) {
	err = findOne(ctx, m.db.Collection(IntakeEvents), bson.M{"_id": key}, &e)

	return
}

// SetEventStatus records a processing attempt of the event.
func (m *Mongo) SetEventStatus(ctx context.Context, key, status, errMsg string) error {
	res, err := m.db.Collection(IntakeEvents).UpdateOne(ctx, bson.M{"_id": key}, bson.M{
		"$set": bson.M{"status": status, "error": errMsg, "updatedAt": time.Now()},
		"$inc": bson.M{"attempts": 1},
	})
	if err != nil {
		return fmt.Errorf("cannot update intake event: %w", err)
	}

	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}

	return nil
}

// RemoveEvent drops an event removed by a reorganisation.
func (m *Mongo) RemoveEvent(ctx context.Context, key, errMsg string) error {
	res, err := m.db.Collection(IntakeEvents).UpdateOne(ctx, bson.M{"_id": key}, bson.M{
		"$set": bson.M{"removed": true, "status": store.StatusDropped, "error": errMsg, "updatedAt": time.Now()},
	})
	if err != nil {
		return fmt.Errorf("cannot remove intake event: %w", err)
	}

	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}

	return nil
}

// RestoreEvent sets a removed event back to pending with the block of the log that re-included it.
func (m *Mongo) RestoreEvent(ctx context.Context, e store.IntakeEvent) (bool, error) {
	res, err := m.db.Collection(IntakeEvents).UpdateOne(ctx,
		bson.M{"_id": e.Key, "removed": true, "status": store.StatusDropped},
		bson.M{
			"$set": bson.M{
				"blockNumber": e.BlockNumber, "blockHash": e.BlockHash, "topics": e.Topics, "data": e.Data,
				"removed": false, "status": store.StatusPending, "updatedAt": time.Now(),
			},
			"$unset": bson.M{"error": ""},
		})
	if err != nil {
		return false, fmt.Errorf("cannot restore intake event: %w", err)
	}

	return res.ModifiedCount == 1, nil
}

// ListEvents returns the matching events ordered by block number and log index.
func (m *Mongo) ListEvents(ctx context.Context, f store.EventFilter) ([]store.IntakeEvent, error) {
	filter := bson.M{}
	if f.Listener != "" {
		filter["listener"] = f.Listener
	}

	if f.Status != "" {
		filter["status"] = f.Status
	}

	opts := options.Find().SetSort(bson.D{{Key: "blockNumber", Value: 1}, {Key: "logIndex", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cur, err := m.db.Collection(IntakeEvents).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list intake events: %w", err)
	}

	es := []store.IntakeEvent{}
	if err = cur.All(ctx, &es); err != nil {
		return nil, fmt.Errorf("cannot decode intake events: %w", err)
	}

	return es, nil
}

// LoadCursor loads the cursor of the listener.
func (m *Mongo) LoadCursor(ctx context.Context, listener string) (c store.Cursor, err error) {
	err = m.db.Collection(Cursors).FindOne(ctx, bson.M{"_id": listener}).Decode(&c)
	if errors.Is(err, mgo.ErrNoDocuments) {
		err = store.ErrDataNotFound
	}

	return
}

// SaveCursor saves the cursor of c.Listener.
func (m *Mongo) SaveCursor(ctx context.Context, c store.Cursor) (err error) {
	_, err = m.db.Collection(Cursors).UpdateOne(ctx,
		bson.M{"_id": c.Listener}, // filter
		bson.D{ // update
			{
				Key: "$set", Value: bson.D{
					{Key: "block", Value: c.Block},
					{Key: "bh", Value: c.Bh},
					{Key: "bhi", Value: c.Bhi},
					{Key: "updated", Value: time.Now()},
				},
			},
		},
		options.Update().SetUpsert(true))

	return
}

// ListCursors returns the cursors of all listeners.
func (m *Mongo) ListCursors(ctx context.Context) ([]store.Cursor, error) {
	cur, err := m.db.Collection(Cursors).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("cannot list cursors: %w", err)
	}

	cs := []store.Cursor{}
	if err = cur.All(ctx, &cs); err != nil {
		return nil, fmt.Errorf("cannot decode cursors: %w", err)
	}

	return cs, nil
}
