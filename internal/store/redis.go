package store

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/Zachkp/about-me/internal/views"
)

const redisMaxRetries = 10

// RedisStore keeps the total in a string key and the identities in a set.
// Updates run as WATCH/MULTI transactions so concurrent writers from other
// processes cannot lose increments.
type RedisStore struct {
	client      *redis.Client
	totalKey    string
	visitorsKey string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client:      client,
		totalKey:    prefix + "total",
		visitorsKey: prefix + "visitors",
	}
}

func (s *RedisStore) Ensure(ctx context.Context) error {
	if err := s.client.SetNX(ctx, s.totalKey, 0, 0).Err(); err != nil {
		return views.Unavailable("initialize redis ledger", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (*views.Ledger, error) {
	if err := s.Ensure(ctx); err != nil {
		return nil, err
	}
	return s.load(ctx, s.client)
}

// ledgerReader is satisfied by both *redis.Client and *redis.Tx.
type ledgerReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

func (s *RedisStore) load(ctx context.Context, c ledgerReader) (*views.Ledger, error) {
	l := views.NewLedger()

	total, err := c.Get(ctx, s.totalKey).Uint64()
	switch {
	case errors.Is(err, redis.Nil):
		total = 0
	case isRedisParseError(err):
		return nil, views.Malformed("read total views", err)
	case err != nil:
		return nil, views.Unavailable("read total views", err)
	}
	l.TotalViews = total

	members, err := c.SMembers(ctx, s.visitorsKey).Result()
	if err != nil {
		if isWrongType(err) {
			return nil, views.Malformed("read visitors", err)
		}
		return nil, views.Unavailable("read visitors", err)
	}
	for _, id := range members {
		l.AddVisitor(id)
	}
	return l, nil
}

func (s *RedisStore) Update(ctx context.Context, fn views.UpdateFunc) (*views.Ledger, error) {
	if err := s.Ensure(ctx); err != nil {
		return nil, err
	}

	var (
		result *views.Ledger
		fnErr  error
	)
	txf := func(tx *redis.Tx) error {
		l, err := s.load(ctx, tx)
		if err != nil {
			return err
		}
		before := l.Clone()

		changed, err := fn(l)
		if err != nil {
			fnErr = err
			return err
		}
		if changed {
			added := l.VisitorsSince(before)
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, s.totalKey, l.TotalViews, 0)
				if len(added) > 0 {
					members := make([]interface{}, len(added))
					for i, id := range added {
						members[i] = id
					}
					pipe.SAdd(ctx, s.visitorsKey, members...)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		result = l
		return nil
	}

	for i := 0; i < redisMaxRetries; i++ {
		err := s.client.Watch(ctx, txf, s.totalKey, s.visitorsKey)
		if err == nil {
			return result, nil
		}
		if fnErr != nil {
			return nil, fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var se *views.StoreError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, views.Unavailable("commit redis transaction", err)
	}
	return nil, views.Unavailable("commit redis transaction", errors.New("too many concurrent updates"))
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func isWrongType(err error) bool {
	var rerr redis.Error
	return errors.As(err, &rerr) && strings.HasPrefix(rerr.Error(), "WRONGTYPE")
}

// isRedisParseError reports a stored value that is not an unsigned integer.
func isRedisParseError(err error) bool {
	var numErr *strconv.NumError
	return errors.As(err, &numErr) || isWrongType(err)
}
