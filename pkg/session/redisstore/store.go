package redisstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/dmitrymomot/sessionkit/pkg/session"
)

const (
	fieldData    = "data"
	fieldIndex   = "index"
	fieldCreated = "created"
	fieldTouched = "touched"
	fieldExpires = "expires"
)

// Store keeps each session in a Redis hash that expires with the session
// and maintains the secondary index as Redis sets.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	indexTTL  time.Duration
	txRetries int
	now       func() time.Time
}

var (
	_ session.IndexedStore = (*Store)(nil)
	_ session.Creator      = (*Store)(nil)
	_ session.Updater      = (*Store)(nil)
)

// writeMode selects the precondition of put.
type writeMode int

const (
	upsert writeMode = iota
	insertOnly
	updateOnly
)

// New creates a store on top of an existing client. The client is owned by
// the caller.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:    client,
		prefix:    DefaultPrefix,
		indexTTL:  DefaultIndexTTL,
		txRetries: DefaultTxRetries,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) recordKey(id string) string { return s.prefix + "s:" + id }
func (s *Store) indexKey(key string) string { return s.prefix + "i:" + key }

func (s *Store) Get(ctx context.Context, id string) (*session.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return nil, transient(err)
	}
	rec, ok := decode(fields)
	if !ok || rec.Expired(s.now()) {
		return nil, nil
	}
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
	return s.put(ctx, id, rec, ttl, indexKey, upsert)
}

// Create writes the record only when no live session holds id.
func (s *Store) Create(ctx context.Context, id string, rec session.Record, ttl time.Duration, indexKey string) error {
	if ttl <= 0 {
		return nil
	}
	return s.put(ctx, id, rec, ttl, indexKey, insertOnly)
}

// Update writes the record only while a live session holds id and reports
// session.ErrNotFound otherwise.
func (s *Store) Update(ctx context.Context, id string, rec session.Record, ttl time.Duration, indexKey string) error {
	if ttl <= 0 {
		_, err := s.Delete(ctx, id)
		return err
	}
	return s.put(ctx, id, rec, ttl, indexKey, updateOnly)
}

func (s *Store) put(ctx context.Context, id string, rec session.Record, ttl time.Duration, indexKey string, mode writeMode) error {
	now := s.now()
	stamped := session.Stamp(rec, indexKey, ttl, now)
	recKey := s.recordKey(id)

	keys := []string{recKey}
	if indexKey != "" {
		keys = append(keys, s.indexKey(indexKey))
	}

	return s.watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HMGet(ctx, recKey, fieldIndex, fieldExpires).Result()
		if err != nil {
			return err
		}
		oldKey, live := indexOf(current, now)
		switch {
		case mode == insertOnly && live:
			return session.ErrIdentifierCollision
		case mode == updateOnly && !live:
			return session.ErrNotFound
		}

		var indexPTTL time.Duration
		if indexKey != "" {
			if indexPTTL, err = tx.PTTL(ctx, s.indexKey(indexKey)).Result(); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, recKey)
			pipe.HSet(ctx, recKey, encode(stamped))
			pipe.PExpireAt(ctx, recKey, stamped.ExpiresAt)
			if oldKey != "" && oldKey != indexKey {
				pipe.SRem(ctx, s.indexKey(oldKey), id)
			}
			if indexKey != "" {
				pipe.SAdd(ctx, s.indexKey(indexKey), id)
				pipe.PExpire(ctx, s.indexKey(indexKey), max(indexPTTL, ttl, s.indexTTL))
			}
			return nil
		})
		return err
	}, keys...)
}

func (s *Store) Delete(ctx context.Context, id string) (*session.Record, error) {
	recKey := s.recordKey(id)
	var removed *session.Record

	err := s.watch(ctx, func(tx *redis.Tx) error {
		removed = nil
		fields, err := tx.HGetAll(ctx, recKey).Result()
		if err != nil {
			return err
		}
		rec, ok := decode(fields)
		if !ok {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, recKey)
			if rec.IndexKey != "" {
				pipe.SRem(ctx, s.indexKey(rec.IndexKey), id)
			}
			return nil
		})
		if err == nil && !rec.Expired(s.now()) {
			removed = &rec
		}
		return err
	}, recKey)

	return removed, err
}

func (s *Store) Touch(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		_, err := s.Delete(ctx, id)
		return err
	}
	recKey := s.recordKey(id)

	return s.watch(ctx, func(tx *redis.Tx) error {
		now := s.now()
		current, err := tx.HMGet(ctx, recKey, fieldIndex, fieldExpires).Result()
		if err != nil {
			return err
		}
		key, live := indexOf(current, now)
		if !live {
			return nil
		}

		var indexPTTL time.Duration
		if key != "" {
			if err := tx.Watch(ctx, s.indexKey(key)).Err(); err != nil {
				return err
			}
			if indexPTTL, err = tx.PTTL(ctx, s.indexKey(key)).Result(); err != nil {
				return err
			}
		}

		expires := now.Add(ttl)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, recKey,
				fieldTouched, now.UnixMilli(),
				fieldExpires, expires.UnixMilli(),
			)
			pipe.PExpireAt(ctx, recKey, expires)
			if key != "" {
				pipe.PExpire(ctx, s.indexKey(key), max(indexPTTL, ttl, s.indexTTL))
			}
			return nil
		})
		return err
	}, recKey)
}

// FindByIndex returns the live members of the index set. Members whose
// record is gone or indexed under another key are removed from the set.
func (s *Store) FindByIndex(ctx context.Context, indexKey string) ([]string, error) {
	setKey := s.indexKey(indexKey)
	members, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, transient(err)
	}
	if len(members) == 0 {
		return []string{}, nil
	}

	cmds := make([]*redis.SliceCmd, len(members))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range members {
			cmds[i] = pipe.HMGet(ctx, s.recordKey(id), fieldIndex, fieldExpires)
		}
		return nil
	})
	if err != nil {
		return nil, transient(err)
	}

	now := s.now()
	ids := make([]string, 0, len(members))
	var stale []any
	for i, cmd := range cmds {
		key, live := indexOf(cmd.Val(), now)
		if live && key == indexKey {
			ids = append(ids, members[i])
			continue
		}
		stale = append(stale, members[i])
	}

	if len(stale) > 0 {
		// Best effort; a failed cleanup only delays it to the next lookup.
		_ = s.client.SRem(ctx, setKey, stale...).Err()
	}

	slices.Sort(ids)
	return ids, nil
}

func (s *Store) DeleteByIndex(ctx context.Context, indexKey string, except ...string) (int64, error) {
	ids, err := s.FindByIndex(ctx, indexKey)
	if err != nil {
		return 0, err
	}

	var n int64
	for _, id := range ids {
		if slices.Contains(except, id) {
			continue
		}
		removed, err := s.Delete(ctx, id)
		if err != nil {
			return n, err
		}
		if removed != nil {
			n++
		}
	}
	return n, nil
}

// watch runs fn in an optimistic transaction over keys. When a watched key
// changes before EXEC the transaction is retried after a short jittered
// pause, up to the configured number of times.
func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	backoff := retry.WithMaxRetries(uint64(s.txRetries), retry.WithJitter(time.Millisecond, retry.NewConstant(time.Millisecond)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			return retry.RetryableError(err)
		}
		return err
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrIdentifierCollision), errors.Is(err, session.ErrNotFound):
		return err
	default:
		return transient(err)
	}
}

func transient(err error) error {
	return fmt.Errorf("%w: %v", session.ErrTransient, err)
}

func encode(rec session.Record) map[string]any {
	return map[string]any{
		fieldData:    rec.Data,
		fieldIndex:   rec.IndexKey,
		fieldCreated: rec.CreatedAt.UnixMilli(),
		fieldTouched: rec.TouchedAt.UnixMilli(),
		fieldExpires: rec.ExpiresAt.UnixMilli(),
	}
}

func decode(fields map[string]string) (session.Record, bool) {
	if len(fields) == 0 {
		return session.Record{}, false
	}
	return session.Record{
		Data:      []byte(fields[fieldData]),
		IndexKey:  fields[fieldIndex],
		CreatedAt: millis(fields[fieldCreated]),
		TouchedAt: millis(fields[fieldTouched]),
		ExpiresAt: millis(fields[fieldExpires]),
	}, true
}

// indexOf interprets an HMGET of (index, expires).
func indexOf(vals []any, now time.Time) (key string, live bool) {
	if len(vals) != 2 || vals[1] == nil {
		return "", false
	}
	key, _ = vals[0].(string)
	expires, _ := vals[1].(string)
	return key, now.Before(millis(expires))
}

func millis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
