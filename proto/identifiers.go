// Copyright 2026 The Hivemesh Authors
// SPDX-License-Identifier: Apache-2.0

package proto

import "fmt"

// ValidateServiceID checks a service id (registration prefix or call
// address). Service ids are non-empty, `/`-delimited paths of ASCII
// alphanumerics, underscores, and hyphens, with no empty segments:
// "market/offers" is valid, "market//offers" and "/market" are not.
func ValidateServiceID(id string) error {
	if id == "" {
		return fmt.Errorf("service id is empty")
	}
	segmentStart := true
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c == '/' {
			if segmentStart {
				return fmt.Errorf("service id %q has an empty path segment", id)
			}
			segmentStart = true
			continue
		}
		if !isIdentByte(c) {
			return fmt.Errorf("service id %q contains illegal character %q", id, c)
		}
		segmentStart = false
	}
	if segmentStart {
		return fmt.Errorf("service id %q has an empty path segment", id)
	}
	return nil
}

// ValidateTopic checks a broadcast topic id. Topics are flat names:
// ASCII alphanumerics, underscores, and hyphens, no separators.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic is empty")
	}
	for i := 0; i < len(topic); i++ {
		if !isIdentByte(topic[i]) {
			return fmt.Errorf("topic %q contains illegal character %q", topic, topic[i])
		}
	}
	return nil
}

func isIdentByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-':
		return true
	}
	return false
}
