package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// assistantKey is the store key under which the deployment-wide assistant id
// lives. Thread ids are stored under their thread key.
const assistantKey = "assistant"

// Store is the durable mapping from a logical key to a remote-created
// identifier. PutIfAbsent is the atomic insert-if-absent primitive: it
// returns the id that won, which is the existing one when the key was
// already populated.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	PutIfAbsent(ctx context.Context, key, id string) (string, error)
}

// creator is the subset of Client the cache needs.
type creator interface {
	CreateAssistant(ctx context.Context, name, systemPrompt string) (string, error)
	CreateThread(ctx context.Context, assistantID string) (string, error)
}

// Cache resolves assistant and thread identifiers, creating the remote
// resource at most once per key in steady state. Misses on the same key are
// serialized through a per-key mutex so concurrent callers in this process
// cannot both reach the provider; across processes the store's conditional
// write decides the winner and the loser's resource is logged as orphaned.
type Cache struct {
	store  Store
	client creator

	assistantName string
	systemPrompt  string

	mu    sync.Mutex
	keyMu map[string]*sync.Mutex
}

// NewCache creates a resource cache over the given store and client. The
// name and prompt are used only when the assistant has to be created.
func NewCache(store Store, client creator, assistantName, systemPrompt string) *Cache {
	return &Cache{
		store:         store,
		client:        client,
		assistantName: assistantName,
		systemPrompt:  systemPrompt,
		keyMu:         make(map[string]*sync.Mutex),
	}
}

func (c *Cache) lockKey(key string) func() {
	c.mu.Lock()
	m, ok := c.keyMu[key]
	if !ok {
		m = &sync.Mutex{}
		c.keyMu[key] = m
	}
	c.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// GetOrCreateAssistant returns the deployment's assistant id, creating it on
// first use. A populated cache makes this a pure read: no remote call.
// Creation failures propagate unmodified; retries live in the client.
func (c *Cache) GetOrCreateAssistant(ctx context.Context) (string, error) {
	unlock := c.lockKey(assistantKey)
	defer unlock()

	id, err := c.store.Get(ctx, assistantKey)
	if err != nil {
		return "", fmt.Errorf("read assistant from cache: %w", err)
	}
	if id != "" {
		return id, nil
	}

	created, err := c.client.CreateAssistant(ctx, c.assistantName, c.systemPrompt)
	if err != nil {
		return "", err
	}

	winner, err := c.store.PutIfAbsent(ctx, assistantKey, created)
	if err != nil {
		return "", fmt.Errorf("persist assistant id: %w", err)
	}
	if winner != created {
		log.Warn().Str("created", created).Str("kept", winner).
			Msg("lost assistant creation race, remote resource orphaned")
	}
	return winner, nil
}

// GetOrCreateThread returns the thread id for a thread key, creating the
// remote thread under the assistant on first use.
func (c *Cache) GetOrCreateThread(ctx context.Context, assistantID, key string) (string, error) {
	unlock := c.lockKey(key)
	defer unlock()

	id, err := c.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read thread %q from cache: %w", key, err)
	}
	if id != "" {
		return id, nil
	}

	created, err := c.client.CreateThread(ctx, assistantID)
	if err != nil {
		return "", err
	}

	winner, err := c.store.PutIfAbsent(ctx, key, created)
	if err != nil {
		return "", fmt.Errorf("persist thread id for %q: %w", key, err)
	}
	if winner != created {
		log.Warn().Str("key", key).Str("created", created).Str("kept", winner).
			Msg("lost thread creation race, remote resource orphaned")
	}
	return winner, nil
}
