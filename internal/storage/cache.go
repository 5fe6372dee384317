package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// TTLCache is a namespaced key/value cache persisted in cache_entries.
// An entry is fresh while its created_at is newer than now minus ttl.
type TTLCache[T any] struct {
	store     *Store
	namespace string
	ttl       time.Duration
	now       func() time.Time
}

func NewTTLCache[T any](s *Store, namespace string, ttl time.Duration) *TTLCache[T] {
	return &TTLCache[T]{store: s, namespace: namespace, ttl: ttl, now: time.Now}
}

// Get returns the cached value for key and whether a fresh entry existed.
func (c *TTLCache[T]) Get(key string) (T, bool, error) {
	var zero T
	cutoff := formatTime(c.now().Add(-c.ttl))

	var raw string
	err := c.store.db.QueryRow(`SELECT value FROM cache_entries
		WHERE namespace = ? AND key = ? AND created_at > ?`, c.namespace, key, cutoff).Scan(&raw)
	if err == sql.ErrNoRows {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}

	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return zero, false, fmt.Errorf("decoding cached %s/%s: %w", c.namespace, key, err)
	}
	return v, true, nil
}

// Put stores v under key, replacing any previous entry and restarting its TTL.
func (c *TTLCache[T]) Put(key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", c.namespace, key, err)
	}
	_, err = c.store.db.Exec(`
		INSERT INTO cache_entries (namespace, key, value, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at`,
		c.namespace, key, string(data), formatTime(c.now()),
	)
	return err
}

// Purge deletes entries in this namespace that are past their TTL.
func (c *TTLCache[T]) Purge() (int64, error) {
	cutoff := formatTime(c.now().Add(-c.ttl))
	res, err := c.store.db.Exec(`DELETE FROM cache_entries WHERE namespace = ? AND created_at <= ?`, c.namespace, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
