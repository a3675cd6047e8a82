// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runtime

import (
	"context"

	"github.com/TapestryLabs/tapestry/services/runtime/backend"
)

// backendVariables satisfies the engine's VariableStore through the
// control-plane interface, for deployments without an embedded store.
// The scope's identity (user or guild id) is folded into the key.
type backendVariables struct {
	backend  backend.Backend
	tenantID string
	userID   string
	guildID  string
}

func (v *backendVariables) scopedKey(scope, key string) string {
	id := v.guildID
	if scope == "user" {
		id = v.userID
	}
	return id + "/" + key
}

func (v *backendVariables) Get(ctx context.Context, scope, key string) (any, error) {
	return v.backend.GetVariable(ctx, v.tenantID, scope, v.scopedKey(scope, key))
}

func (v *backendVariables) Set(ctx context.Context, scope, key string, value any) error {
	return v.backend.SetVariable(ctx, v.tenantID, scope, v.scopedKey(scope, key), value)
}
