// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package router

import "time"

// pendingCall correlates an outstanding request id with the session
// that issued it and the session serving it.
type pendingCall struct {
	requestID string
	caller    *session
	target    *session

	// address is the full call address; it names the vanished
	// service in synthesized failure replies.
	address string

	// deadline is when the call is failed if no terminal reply has
	// arrived.
	deadline time.Time
}

// callTable tracks pending calls by request id, with per-session
// reverse indexes so session teardown finds its calls without a full
// scan. Request ids are unique across the router while pending: a
// second ServiceCallRequest reusing a live id is rejected, which makes
// the id alone sufficient to route replies.
//
// callTable is not self-locking; the router mutex guards all access.
type callTable struct {
	pending  map[string]*pendingCall
	byCaller map[*session]map[string]*pendingCall
	byTarget map[*session]map[string]*pendingCall
}

func newCallTable() *callTable {
	return &callTable{
		pending:  make(map[string]*pendingCall),
		byCaller: make(map[*session]map[string]*pendingCall),
		byTarget: make(map[*session]map[string]*pendingCall),
	}
}

// get returns the pending call for a request id, or nil.
func (c *callTable) get(requestID string) *pendingCall {
	return c.pending[requestID]
}

// insert records a new pending call. The caller has already checked
// that the request id is free.
func (c *callTable) insert(call *pendingCall) {
	c.pending[call.requestID] = call
	index(c.byCaller, call.caller, call)
	index(c.byTarget, call.target, call)
}

// remove resolves a pending call, dropping it from all indexes.
func (c *callTable) remove(call *pendingCall) {
	delete(c.pending, call.requestID)
	unindex(c.byCaller, call.caller, call.requestID)
	unindex(c.byTarget, call.target, call.requestID)
}

// callsFrom returns the pending calls originated by s.
func (c *callTable) callsFrom(s *session) []*pendingCall {
	return collect(c.byCaller[s])
}

// callsTo returns the pending calls targeted at s.
func (c *callTable) callsTo(s *session) []*pendingCall {
	return collect(c.byTarget[s])
}

// expired returns the pending calls whose deadline is at or before
// now.
func (c *callTable) expired(now time.Time) []*pendingCall {
	var calls []*pendingCall
	for _, call := range c.pending {
		if !call.deadline.After(now) {
			calls = append(calls, call)
		}
	}
	return calls
}

func index(m map[*session]map[string]*pendingCall, s *session, call *pendingCall) {
	set, ok := m[s]
	if !ok {
		set = make(map[string]*pendingCall)
		m[s] = set
	}
	set[call.requestID] = call
}

func unindex(m map[*session]map[string]*pendingCall, s *session, requestID string) {
	set := m[s]
	delete(set, requestID)
	if len(set) == 0 {
		delete(m, s)
	}
}

func collect(set map[string]*pendingCall) []*pendingCall {
	if len(set) == 0 {
		return nil
	}
	calls := make([]*pendingCall, 0, len(set))
	for _, call := range set {
		calls = append(calls, call)
	}
	return calls
}
