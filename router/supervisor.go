// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"fmt"

	"github.com/hivemesh/hivemesh/proto"
)

// Run is the liveness supervisor: a single periodic loop, independent
// of per-connection I/O, that reclaims silently dead peers and fails
// stale calls. Blocks until ctx is cancelled, then returns nil.
//
// Each tick, for every live session:
//   - idle for DisconnectThreshold or longer → torn down and its
//     transport closed, cleaning up its registrations, subscriptions,
//     and pending calls exactly once;
//   - idle for PingInterval or longer → sent a Ping. Sending does not
//     refresh the activity clock; only a received frame does, so an
//     unresponsive peer keeps aging toward the threshold.
//
// The tick interval is half the ping interval, so a dead peer is
// reclaimed within DisconnectThreshold plus one tick.
//
// The same tick fails every pending call past its deadline with a
// terminal SERVICE_FAILURE to the caller, so a target that accepts a
// call and never answers cannot leak bookkeeping forever.
func (r *Router) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.config.PingInterval / 2)
	defer ticker.Stop()

	r.logger.Info("liveness supervisor running",
		"ping_interval", r.config.PingInterval,
		"disconnect_threshold", r.config.DisconnectThreshold,
		"call_timeout", r.config.CallTimeout)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep runs one supervisor pass.
func (r *Router) sweep() {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.state != stateConnecting && s.state != stateActive {
			continue
		}
		idle := now.Sub(s.lastActivity)
		switch {
		case idle >= r.config.DisconnectThreshold:
			r.logger.Info("disconnecting unresponsive session",
				"session", s.id, "remote", s.remote, "idle", idle)
			r.teardownLocked(s, "liveness timeout")
		case idle >= r.config.PingInterval:
			r.enqueueLocked(s, proto.Ping{})
		}
	}

	for _, call := range r.calls.expired(now) {
		r.calls.remove(call)
		r.logger.Warn("failing stale call",
			"request_id", call.requestID, "address", call.address)
		r.failCallLocked(call, fmt.Sprintf(
			"service %q call timed out with no terminal reply", call.address))
	}
}
