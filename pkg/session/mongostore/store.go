package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	pkgmongo "github.com/dmitrymomot/sessionkit/pkg/mongo"
	"github.com/dmitrymomot/sessionkit/pkg/session"
)

type document struct {
	ID        string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	IndexKey  string    `bson:"index_key,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	TouchedAt time.Time `bson:"touched_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

func (d document) record() session.Record {
	return session.Record{
		Data:      d.Data,
		IndexKey:  d.IndexKey,
		CreatedAt: d.CreatedAt,
		TouchedAt: d.TouchedAt,
		ExpiresAt: d.ExpiresAt,
	}
}

func newDocument(id string, rec session.Record) document {
	return document{
		ID:        id,
		Data:      rec.Data,
		IndexKey:  rec.IndexKey,
		CreatedAt: rec.CreatedAt,
		TouchedAt: rec.TouchedAt,
		ExpiresAt: rec.ExpiresAt,
	}
}

// Store keeps sessions in a MongoDB collection.
type Store struct {
	coll *mongo.Collection
	now  func() time.Time
}

var (
	_ session.IndexedStore = (*Store)(nil)
	_ session.Creator      = (*Store)(nil)
	_ session.Updater      = (*Store)(nil)
)

func New(coll *mongo.Collection, opts ...Option) *Store {
	s := &Store{coll: coll, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromDatabase uses the DefaultCollection of db and ensures its indexes.
func NewFromDatabase(ctx context.Context, db *mongo.Database, opts ...Option) (*Store, error) {
	s := New(db.Collection(DefaultCollection), opts...)
	if err := s.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the TTL index on expires_at and the index on
// index_key. It is safe to call on every start.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
		{
			Keys:    bson.D{{Key: "index_key", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	})
	if err != nil {
		return transient(err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*session.Record, error) {
	var doc document
	err := s.coll.FindOne(ctx, bson.M{"_id": id, "expires_at": bson.M{"$gt": s.now()}}).Decode(&doc)
	if err != nil {
		if pkgmongo.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, transient(err)
	}
	rec := doc.record()
	return &rec, nil
}

func (s *Store) Save(ctx context.Context, id string, rec session.Record, ttl time.Duration) error {
	return s.SaveIndexed(ctx, id, rec, ttl, "")
}

func (s *Store) SaveIndexed(ctx context.Context, id string, rec session.Record, ttl time.Duration, indexKey string) error {
	if ttl <= 0 {
		_, err := s.Delete(ctx, id)
		return err
	}

	doc := newDocument(id, session.Stamp(rec, indexKey, ttl, s.now()))
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return transient(err)
	}
	return nil
}

// Create inserts the document. An expired document with the same id is
// removed first; a live one makes the insert fail with
// session.ErrIdentifierCollision.
func (s *Store) Create(ctx context.Context, id string, rec session.Record, ttl time.Duration, indexKey string) error {
	if ttl <= 0 {
		return nil
	}

	now := s.now()
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": id, "expires_at": bson.M{"$lte": now}}); err != nil {
		return transient(err)
	}

	_, err := s.coll.InsertOne(ctx, newDocument(id, session.Stamp(rec, indexKey, ttl, now)))
	switch {
	case err == nil:
		return nil
	case pkgmongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %s", session.ErrIdentifierCollision, id)
	default:
		return transient(err)
	}
}

// Update replaces the document only while it is live and reports
// session.ErrNotFound otherwise.
func (s *Store) Update(ctx context.Context, id string, rec session.Record, ttl time.Duration, indexKey string) error {
	if ttl <= 0 {
		_, err := s.Delete(ctx, id)
		return err
	}

	now := s.now()
	res, err := s.coll.ReplaceOne(ctx,
		bson.M{"_id": id, "expires_at": bson.M{"$gt": now}},
		newDocument(id, session.Stamp(rec, indexKey, ttl, now)),
	)
	if err != nil {
		return transient(err)
	}
	if res.MatchedCount == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) (*session.Record, error) {
	var doc document
	err := s.coll.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if pkgmongo.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, transient(err)
	}

	rec := doc.record()
	if rec.Expired(s.now()) {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) Touch(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		_, err := s.Delete(ctx, id)
		return err
	}

	now := s.now()
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "expires_at": bson.M{"$gt": now}},
		bson.M{"$set": bson.M{"touched_at": now, "expires_at": now.Add(ttl)}},
	)
	if err != nil {
		return transient(err)
	}
	return nil
}

func (s *Store) FindByIndex(ctx context.Context, indexKey string) ([]string, error) {
	cur, err := s.coll.Find(ctx,
		bson.M{"index_key": indexKey, "expires_at": bson.M{"$gt": s.now()}},
		options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, transient(err)
	}

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, transient(err)
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (s *Store) DeleteByIndex(ctx context.Context, indexKey string, except ...string) (int64, error) {
	if except == nil {
		except = []string{}
	}
	res, err := s.coll.DeleteMany(ctx, bson.M{
		"index_key":  indexKey,
		"expires_at": bson.M{"$gt": s.now()},
		"_id":        bson.M{"$nin": except},
	})
	if err != nil {
		return 0, transient(err)
	}
	return res.DeletedCount, nil
}

func transient(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(session.ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", session.ErrTransient, err)
}
