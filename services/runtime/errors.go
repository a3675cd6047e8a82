// Copyright (C) 2025 Tapestry Labs (oss@tapestrylabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runtime

import "errors"

var (
	// ErrNoCredentials means the tenant has no usable connection
	// credentials. Surfaced to the tenant's operational log with a
	// remediation message and not retried automatically.
	ErrNoCredentials = errors.New("no connection credentials for tenant")

	// ErrManagerClosed is returned by lifecycle calls after Close.
	ErrManagerClosed = errors.New("runtime manager is closed")
)

// credentialRemediation is the human-readable message written to the
// tenant's operational log when credentials are missing or unusable.
const credentialRemediation = "Connection credentials are missing or cannot be used. Re-link the bot account in the dashboard, then start the session again."
