package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/samijaber1/aegis-budget/internal/alerting"
)

var defaultTimeout = 2 * time.Second

// Config holds Redis store configuration
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Timeout  time.Duration
}

// Store keeps alert state in Redis so it survives restarts. Each SLO is one
// hash at <prefix>:alerts:<slo> with one field per rule ID.
type Store struct {
	c       *redis.Client
	prefix  string
	timeOut time.Duration
}

// NewStore connects to Redis and verifies the connection
func NewStore(ctx context.Context, config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	s := NewStoreWithClient(client, config.Prefix, config.Timeout)

	tctx, cancel := context.WithTimeout(ctx, s.timeOut)
	defer cancel()
	if err := client.Ping(tctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", config.Addr, err)
	}
	return s, nil
}

// NewStoreWithClient wraps an existing client
func NewStoreWithClient(client *redis.Client, prefix string, timeout time.Duration) *Store {
	if prefix == "" {
		prefix = "aegis"
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{c: client, prefix: prefix, timeOut: timeout}
}

// Close closes the underlying client
func (s *Store) Close() error {
	return s.c.Close()
}

func (s *Store) hashKey(sloName string) string {
	return s.prefix + ":alerts:" + sloName
}

// Get implements alerting.StateStore
func (s *Store) Get(ctx context.Context, key alerting.Key) (alerting.Alert, bool, error) {
	tctx, cancel := context.WithTimeout(ctx, s.timeOut)
	defer cancel()

	data, err := s.c.HGet(tctx, s.hashKey(key.SLOName), key.RuleID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return alerting.Alert{}, false, nil
		}
		return alerting.Alert{}, false, err
	}

	var alert alerting.Alert
	if err := json.Unmarshal([]byte(data), &alert); err != nil {
		return alerting.Alert{}, false, fmt.Errorf("decode alert %s/%s: %w", key.SLOName, key.RuleID, err)
	}
	return alert, true, nil
}

// Put implements alerting.StateStore
func (s *Store) Put(ctx context.Context, alert alerting.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	tctx, cancel := context.WithTimeout(ctx, s.timeOut)
	defer cancel()

	return s.c.HSet(tctx, s.hashKey(alert.SLOName), alert.RuleID, string(data)).Err()
}

// List implements alerting.StateStore
func (s *Store) List(ctx context.Context, sloName string) ([]alerting.Alert, error) {
	tctx, cancel := context.WithTimeout(ctx, s.timeOut)
	defer cancel()

	var keys []string
	if sloName != "" {
		keys = []string{s.hashKey(sloName)}
	} else {
		iter := s.c.Scan(tctx, 0, s.hashKey("*"), 100).Iterator()
		for iter.Next(tctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
	}

	var alerts []alerting.Alert
	for _, key := range keys {
		fields, err := s.c.HGetAll(tctx, key).Result()
		if err != nil {
			return nil, err
		}
		for rule, data := range fields {
			var alert alerting.Alert
			if err := json.Unmarshal([]byte(data), &alert); err != nil {
				return nil, fmt.Errorf("decode alert %s/%s: %w", strings.TrimPrefix(key, s.hashKey("")), rule, err)
			}
			alerts = append(alerts, alert)
		}
	}

	alerting.SortAlerts(alerts)
	return alerts, nil
}

// Delete implements alerting.StateStore
func (s *Store) Delete(ctx context.Context, sloName string) error {
	tctx, cancel := context.WithTimeout(ctx, s.timeOut)
	defer cancel()
	return s.c.Del(tctx, s.hashKey(sloName)).Err()
}

// DeleteKey implements alerting.StateStore
func (s *Store) DeleteKey(ctx context.Context, key alerting.Key) error {
	tctx, cancel := context.WithTimeout(ctx, s.timeOut)
	defer cancel()
	return s.c.HDel(tctx, s.hashKey(key.SLOName), key.RuleID).Err()
}
