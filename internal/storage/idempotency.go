package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrIdempotencyKeyNotFound is returned by IdempotencyStore.Get when no
// record exists for the given scope and key.
var ErrIdempotencyKeyNotFound = errors.New("storage: idempotency key not found")

// Record is one stored idempotency response, as returned by ListByScope.
type Record struct {
	Scope     string
	Key       string
	Response  []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IdempotencyStore is the Idempotency Store (spec §3 IdempotencyRecord,
// §4 item 4). Records are partitioned by scope (e.g. "webhook",
// "cashout-verify") so unrelated callers never collide on the same
// client-supplied key, and so an operator can enumerate everything
// recorded under a given scope (spec.md §9 SUPPLEMENTED FEATURES item #4).
type IdempotencyStore struct {
	store *Storage
	ttl   time.Duration
}

// NewIdempotencyStore builds an IdempotencyStore over store with the given
// retention window.
func NewIdempotencyStore(store *Storage, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{store: store, ttl: ttl}
}

// Get returns the stored response for (scope, key), or
// ErrIdempotencyKeyNotFound if none exists or it has expired.
func (s *IdempotencyStore) Get(ctx context.Context, scope, key string) ([]byte, error) {
	var (
		response  []byte
		expiresAt int64
	)
	err := s.store.db.QueryRowContext(ctx,
		`SELECT response, expires_at FROM idempotency_records WHERE scope = ? AND key = ?`, scope, key,
	).Scan(&response, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > expiresAt {
		return nil, ErrIdempotencyKeyNotFound
	}
	return response, nil
}

// CheckAndSet atomically stores response under (scope, key) if unset or
// expired, and always returns the response now on record — either the one
// just stored, or the first one stored by a prior caller (Invariant I1: a
// second write with the same scope and key returns the first stored
// response unchanged).
func (s *IdempotencyStore) CheckAndSet(ctx context.Context, scope, key string, response []byte) (stored []byte, firstWrite bool, err error) {
	err = s.store.WithTx(ctx, func(tx *Tx) error {
		var (
			existing  []byte
			expiresAt int64
		)
		scanErr := tx.Raw().QueryRowContext(ctx,
			`SELECT response, expires_at FROM idempotency_records WHERE scope = ? AND key = ?`, scope, key,
		).Scan(&existing, &expiresAt)

		now := time.Now()
		if scanErr == nil && now.Unix() <= expiresAt {
			stored = existing
			firstWrite = false
			return nil
		}
		if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
			return scanErr
		}

		_, execErr := tx.Raw().ExecContext(ctx,
			`INSERT INTO idempotency_records (scope, key, response, created_at, expires_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(scope, key) DO UPDATE SET response = excluded.response, created_at = excluded.created_at, expires_at = excluded.expires_at`,
			scope, key, response, now.Unix(), now.Add(s.ttl).Unix(),
		)
		if execErr != nil {
			return execErr
		}
		stored = response
		firstWrite = true
		return nil
	})
	return stored, firstWrite, err
}

// ListByScope returns every non-expired record stored under scope, most
// recently created first. Intended for operator tooling, not the hot
// command path.
func (s *IdempotencyStore) ListByScope(ctx context.Context, scope string) ([]Record, error) {
	rows, err := s.store.db.QueryContext(ctx,
		`SELECT scope, key, response, created_at, expires_at FROM idempotency_records
		 WHERE scope = ? AND expires_at >= ? ORDER BY created_at DESC`,
		scope, time.Now().Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r         Record
			createdAt int64
			expiresAt int64
		)
		if err := rows.Scan(&r.Scope, &r.Key, &r.Response, &createdAt, &expiresAt); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		r.ExpiresAt = time.Unix(expiresAt, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Purge deletes expired records, callable periodically alongside the
// expiry worker to bound table growth.
func (s *IdempotencyStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.store.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
