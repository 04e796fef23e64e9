// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package router

// topicRegistry maps broadcast topics to their subscriber sets. Unlike
// service registration, a topic has any number of concurrent
// subscribers and publishers.
//
// topicRegistry is not self-locking; the router mutex guards all
// access.
type topicRegistry struct {
	subscribers map[string]map[*session]struct{}
}

func newTopicRegistry() *topicRegistry {
	return &topicRegistry{subscribers: make(map[string]map[*session]struct{})}
}

// subscribe adds s to the topic's subscriber set. Returns false when s
// is already subscribed.
func (t *topicRegistry) subscribe(s *session, topic string) bool {
	set, ok := t.subscribers[topic]
	if !ok {
		set = make(map[*session]struct{})
		t.subscribers[topic] = set
	}
	if _, dup := set[s]; dup {
		return false
	}
	set[s] = struct{}{}
	return true
}

// unsubscribe removes s from the topic's subscriber set. Returns false
// when s was not subscribed.
func (t *topicRegistry) unsubscribe(s *session, topic string) bool {
	set, ok := t.subscribers[topic]
	if !ok {
		return false
	}
	if _, member := set[s]; !member {
		return false
	}
	delete(set, s)
	if len(set) == 0 {
		delete(t.subscribers, topic)
	}
	return true
}

// members returns the subscriber set for a topic. The returned map is
// the live set; callers iterate it under the router mutex and must not
// retain it.
func (t *topicRegistry) members(topic string) map[*session]struct{} {
	return t.subscribers[topic]
}

// removeSession drops s from every topic it is subscribed to. topics
// is the session's own subscription set, maintained by the router.
func (t *topicRegistry) removeSession(s *session, topics map[string]struct{}) {
	for topic := range topics {
		t.unsubscribe(s, topic)
	}
}
