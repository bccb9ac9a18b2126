// Replaylog - Listening History Accumulation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/replaylog

package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/replaylog/internal/logging"
)

// ErrTokenNotFound is returned by TokenStore.Load when nothing is stored.
var ErrTokenNotFound = errors.New("refresh token not found")

// TokenStore persists the long-lived refresh token across restarts.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, refreshToken string) error
	Close() error
}

// MemoryTokenStore keeps the refresh token in process memory.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryTokenStore creates an empty in-memory store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Load(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrTokenNotFound
	}
	return s.token, nil
}

func (s *MemoryTokenStore) Save(_ context.Context, refreshToken string) error {
	s.mu.Lock()
	s.token = refreshToken
	s.mu.Unlock()
	return nil
}

func (s *MemoryTokenStore) Close() error { return nil }

const refreshTokenKey = "auth:refresh_token"

type storedToken struct {
	Value     string    `json:"value"`
	Encrypted bool      `json:"encrypted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BadgerTokenStore persists the refresh token in BadgerDB, encrypted when an
// encryptor is configured.
type BadgerTokenStore struct {
	db     *badger.DB
	enc    *TokenEncryptor
	ownsDB bool
}

// NewBadgerTokenStore opens a BadgerDB at path. An empty path opens an
// in-memory database.
func NewBadgerTokenStore(path string, enc *TokenEncryptor) (*BadgerTokenStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}
	return &BadgerTokenStore{db: db, enc: enc, ownsDB: true}, nil
}

// NewBadgerTokenStoreFromDB wraps an existing database. Close leaves it open.
func NewBadgerTokenStoreFromDB(db *badger.DB, enc *TokenEncryptor) *BadgerTokenStore {
	return &BadgerTokenStore{db: db, enc: enc}
}

// Load returns the stored refresh token.
func (s *BadgerTokenStore) Load(_ context.Context) (string, error) {
	var rec storedToken
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(refreshTokenKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrTokenNotFound
		}
		if err != nil {
			return fmt.Errorf("get refresh token: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return "", err
	}

	if !rec.Encrypted {
		if s.enc.IsEnabled() {
			logging.Warn().Msg("Stored refresh token is not encrypted; it will be encrypted on next rotation")
		}
		return rec.Value, nil
	}
	if !s.enc.IsEnabled() {
		return "", fmt.Errorf("stored refresh token is encrypted but no encryption key is configured")
	}
	return s.enc.Decrypt(rec.Value)
}

// Save replaces the stored refresh token.
func (s *BadgerTokenStore) Save(_ context.Context, refreshToken string) error {
	value, err := s.enc.Encrypt(refreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	data, err := json.Marshal(storedToken{
		Value:     value,
		Encrypted: s.enc.IsEnabled(),
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal refresh token: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(refreshTokenKey), data)
	})
}

// Close closes the database if the store opened it.
func (s *BadgerTokenStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
