// Package natskv implements the flash store port on a NATS JetStream KV
// bucket. Each session is one key; updates use the key revision for
// compare-and-swap so concurrent requests of one session never deliver the
// same flash map twice.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
	"github.com/Strob0t/webmvc/internal/port/flashstore"
)

const defaultRetries = 8

// Store keeps the flash maps of a session as one JSON document per key.
type Store struct {
	kv      jetstream.KeyValue
	retries int
}

var _ flashstore.Store = (*Store)(nil)

// New wraps an existing KV bucket.
func New(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv, retries: defaultRetries}
}

// Connect dials NATS and creates or updates the flash bucket. The bucket TTL
// bounds how long abandoned sessions survive. The returned close function
// drains the connection.
func Connect(ctx context.Context, url, bucket string, ttl time.Duration) (*Store, func(), error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream init: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "flash maps per session",
		History:     1,
		TTL:         ttl,
	})
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream kv %s: %w", bucket, err)
	}

	slog.Info("nats flash store connected", "url", url, "bucket", bucket)
	closeFn := func() {
		if err := nc.Drain(); err != nil {
			slog.Warn("nats drain failed", "error", err)
		}
	}
	return New(kv), closeFn, nil
}

// Update reads the session document with its revision, applies fn and
// writes back conditioned on that revision. A lost race is retried with
// fresh data.
func (s *Store) Update(ctx context.Context, sessionID string, fn flashstore.UpdateFunc) error {
	key := sessionKey(sessionID)
	for range s.retries {
		maps, rev, err := s.load(ctx, key)
		if err != nil {
			return err
		}
		next, err := fn(maps)
		if err != nil {
			return err
		}
		err = s.store(ctx, key, rev, next)
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return fmt.Errorf("flash kv write %s: %w", key, err)
		}
		slog.Debug("flash kv revision conflict, retrying", "key", key)
	}
	return flashstore.ErrConflict
}

func (s *Store) load(ctx context.Context, key string) ([]mvc.FlashMap, uint64, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("flash kv read %s: %w", key, err)
	}
	var maps []mvc.FlashMap
	if len(entry.Value()) > 0 {
		if err := json.Unmarshal(entry.Value(), &maps); err != nil {
			return nil, 0, fmt.Errorf("decode flash maps %s: %w", key, err)
		}
	}
	return maps, entry.Revision(), nil
}

func (s *Store) store(ctx context.Context, key string, rev uint64, next []mvc.FlashMap) error {
	if len(next) == 0 {
		if rev == 0 {
			return nil
		}
		return s.kv.Delete(ctx, key, jetstream.LastRevision(rev))
	}
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode flash maps: %w", err)
	}
	if rev == 0 {
		_, err = s.kv.Create(ctx, key, data)
		return err
	}
	_, err = s.kv.Update(ctx, key, data, rev)
	return err
}

func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// sessionKey maps a session id to a valid KV key.
func sessionKey(id string) string {
	return "flash." + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
