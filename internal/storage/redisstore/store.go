// Package redisstore keeps templates in Redis string keys and turns Pub/Sub
// messages into template-change notifications.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	backend "github.com/redis/go-redis/v9"

	"github.com/goliatone/go-dataconv/pkg/storage"
)

const defaultPrefix = "dataconv:templates:"

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithChannel sets the Pub/Sub channel used by Notify and Subscribe.
func WithChannel(channel string) Option {
	return func(s *Store) {
		s.channel = channel
	}
}

// Store implements storage.Store using Redis.
type Store struct {
	client  *backend.Client
	prefix  string
	channel string
}

var _ storage.Store = (*Store)(nil)

// New creates a Store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client:  client,
		prefix:  defaultPrefix,
		channel: defaultPrefix + "updated",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(store)
	}
	return store
}

// Key returns the Redis key holding root/name.
func (s *Store) Key(root, name string) (string, error) {
	clean, err := storage.CleanName(name)
	if err != nil {
		return "", err
	}
	return s.prefix + path.Join(normalizeRoot(root), clean), nil
}

// Read implements storage.Store.
func (s *Store) Read(ctx context.Context, root, name string) ([]byte, error) {
	key, err := s.Key(root, name)
	if err != nil {
		return nil, err
	}
	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("%w: %s", storage.ErrTemplateNotFound, key)
		}
		return nil, fmt.Errorf("redisstore: get %s: %w", key, err)
	}
	return val, nil
}

// Put stores a template body.
func (s *Store) Put(ctx context.Context, root, name string, body []byte) error {
	key, err := s.Key(root, name)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, body, 0).Err(); err != nil {
		return fmt.Errorf("redisstore: set %s: %w", key, err)
	}
	return nil
}

// Notify publishes a change notification carrying payload.
func (s *Store) Notify(ctx context.Context, payload string) error {
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redisstore: publish %s: %w", s.channel, err)
	}
	return nil
}

// Subscribe calls fn for every message on the change channel until ctx is
// done. It returns once the subscription is confirmed or failed; delivery
// continues in a goroutine.
func (s *Store) Subscribe(ctx context.Context, fn func(payload string)) error {
	if fn == nil {
		return errors.New("redisstore: subscriber callback is required")
	}
	sub := s.client.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redisstore: subscribe %s: %w", s.channel, err)
	}

	messages := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				fn(msg.Payload)
			}
		}
	}()
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func normalizeRoot(root string) string {
	cleaned := path.Clean(filepath.ToSlash(strings.TrimSpace(root)))
	cleaned = strings.TrimLeft(cleaned, "/")
	cleaned = strings.TrimPrefix(cleaned, "./")
	if cleaned == "." {
		return ""
	}
	return cleaned
}
