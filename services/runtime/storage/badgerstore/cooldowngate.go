// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/TapestryLabs/tapestry/services/runtime/cooldown"
)

// CooldownGate implements cooldown.Gate on badger. A claim is one
// entry written with badger's native TTL; the check and the set share
// a serializable transaction, so of two simultaneous acquires for the
// same key exactly one commits and the other hits a conflict, which
// the gate reports as rejected. Fails closed on any storage error.
type CooldownGate struct {
	store *Store
}

// NewCooldownGate creates the gate on an opened database.
func NewCooldownGate(store *Store) *CooldownGate {
	return &CooldownGate{store: store}
}

// Acquire implements cooldown.Gate.
func (g *CooldownGate) Acquire(ctx context.Context, tenantID, command, userID string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	key := []byte(cooldown.Key(tenantID, command, userID))
	err := g.store.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			// Live claim; TTL expiry makes the key vanish on its own.
			return badger.ErrConflict
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		entry := badger.NewEntry(key, []byte{1}).WithTTL(window)
		return txn.SetEntry(entry)
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cooldown acquire %s/%s/%s: %w", tenantID, command, userID, err)
	}
	return true, nil
}
