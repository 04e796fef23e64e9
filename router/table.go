// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package router

import "strings"

// table is the prefix routing table: a trie keyed by `/`-delimited
// path segments mapping each registered service id to its owning
// session. Segment-aware matching means a registration for "market"
// routes calls to "market/offers" but never to "marketplace".
//
// table is not self-locking; the router mutex guards all access.
type table struct {
	root *tableNode
}

type tableNode struct {
	children map[string]*tableNode

	// owner is non-nil when a registration ends at this node.
	owner *session
}

func newTable() *table {
	return &table{root: &tableNode{}}
}

// register makes owner the exclusive owner of the exact service id.
// Returns ErrConflict when a live registration for the same id exists,
// regardless of who owns it. Registrations for ancestors or
// descendants of the id are no conflict: the deeper one simply wins
// resolution for its subtree.
func (t *table) register(owner *session, serviceID string) error {
	node := t.root
	for _, segment := range strings.Split(serviceID, "/") {
		if node.children == nil {
			node.children = make(map[string]*tableNode)
		}
		child, ok := node.children[segment]
		if !ok {
			child = &tableNode{}
			node.children[segment] = child
		}
		node = child
	}
	if node.owner != nil {
		return ErrConflict
	}
	node.owner = owner
	return nil
}

// unregister releases the exact service id, but only for the session
// that owns it. Returns ErrNotFound when the id is absent or owned by
// a different session; the existing registration is left intact.
func (t *table) unregister(owner *session, serviceID string) error {
	segments := strings.Split(serviceID, "/")

	// Track the path so empty interior nodes can be pruned.
	path := make([]*tableNode, 0, len(segments)+1)
	path = append(path, t.root)
	node := t.root
	for _, segment := range segments {
		child, ok := node.children[segment]
		if !ok {
			return ErrNotFound
		}
		path = append(path, child)
		node = child
	}
	if node.owner != owner {
		return ErrNotFound
	}
	node.owner = nil

	for i := len(segments) - 1; i >= 0; i-- {
		child := path[i+1]
		if child.owner != nil || len(child.children) > 0 {
			break
		}
		delete(path[i].children, segments[i])
	}
	return nil
}

// resolve finds the session owning the longest registered prefix that
// is an exact-segment ancestor of address (the address itself
// included). Returns ErrNoSuchService when no ancestor is registered.
func (t *table) resolve(address string) (*session, error) {
	var deepest *session
	node := t.root
	for _, segment := range strings.Split(address, "/") {
		child, ok := node.children[segment]
		if !ok {
			break
		}
		if child.owner != nil {
			deepest = child.owner
		}
		node = child
	}
	if deepest == nil {
		return nil, ErrNoSuchService
	}
	return deepest, nil
}
