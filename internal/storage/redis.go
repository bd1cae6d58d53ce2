package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"actionrunner/internal/action"
	"actionrunner/pkg/logx"
)

const defaultRedisKey = "actionrunner:records"

// redisStore keeps records in a capped list, newest at the head.
type redisStore struct {
	rdb *redis.Client
	log logx.Logger
	key string
	max int64
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}

	var opt *redis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		var err error
		if opt, err = redis.ParseURL(addr); err != nil {
			return nil, err
		}
	} else {
		opt = &redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB}
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = defaultRedisKey
	}
	log.Debug("redis connected", logx.String("addr", opt.Addr), logx.String("key", key))
	return &redisStore{rdb: rdb, log: log, key: key, max: int64(cfg.maxRecords())}, nil
}

func (s *redisStore) AppendRecord(ctx context.Context, r action.Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, s.key, b)
	pipe.LTrim(ctx, s.key, 0, s.max-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) RecentRecords(ctx context.Context, n int) ([]action.Record, error) {
	stop := int64(n) - 1
	if n <= 0 {
		stop = -1
	}
	vals, err := s.rdb.LRange(ctx, s.key, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]action.Record, 0, len(vals))
	for _, v := range vals {
		var r action.Record
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *redisStore) Close() error { return s.rdb.Close() }
