// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package router

import "errors"

// Routing table errors. These never cross the wire directly; handlers
// map them to the matching reply codes.
var (
	// ErrConflict means the exact service id is already owned by a
	// live session.
	ErrConflict = errors.New("service id already registered")

	// ErrNotFound means the service id is not registered, or is
	// registered by a different session than the one releasing it.
	ErrNotFound = errors.New("service id not registered by this session")

	// ErrNoSuchService means no registered prefix is an ancestor of
	// the call address.
	ErrNoSuchService = errors.New("no service registered under address")
)
