// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Variables is the persistent key/value store behind the engine's
// Get/SetPersistentVariable nodes. Keys are namespaced by tenant,
// scope and the id the scope resolves to; values are JSON.
type Variables struct {
	store *Store
}

// NewVariables creates the variable store on an opened database.
func NewVariables(store *Store) *Variables {
	return &Variables{store: store}
}

// ScopedVariables binds the store to one run's identity, satisfying
// the engine's VariableStore contract: "user" scope keys belong to the
// invoking user, "guild" scope keys to the guild.
type ScopedVariables struct {
	vars     *Variables
	tenantID string
	userID   string
	guildID  string
}

// Scoped binds the store for one run.
func (v *Variables) Scoped(tenantID, userID, guildID string) *ScopedVariables {
	return &ScopedVariables{vars: v, tenantID: tenantID, userID: userID, guildID: guildID}
}

func (s *ScopedVariables) key(scope, key string) []byte {
	id := s.guildID
	if scope == "user" {
		id = s.userID
	}
	return []byte(fmt.Sprintf("var/%s/%s/%s/%s", s.tenantID, scope, id, key))
}

// Get reads a variable. A missing key is (nil, nil).
func (s *ScopedVariables) Get(ctx context.Context, scope, key string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value any
	err := s.vars.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(scope, key))
		if err != nil {
			return err
		}
		return item.Value(func(raw []byte) error {
			return json.Unmarshal(raw, &value)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get variable %s/%s: %w", scope, key, err)
	}
	return value, nil
}

// Set writes a variable, replacing any previous value.
func (s *ScopedVariables) Set(ctx context.Context, scope, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode variable %s/%s: %w", scope, key, err)
	}
	err = s.vars.store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(scope, key), raw)
	})
	if err != nil {
		return fmt.Errorf("set variable %s/%s: %w", scope, key, err)
	}
	return nil
}
