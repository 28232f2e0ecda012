// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package bridge

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewRequestID generates a new request id. Ids from one process are strictly
// increasing.
func NewRequestID() string {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ParseRequestID parses a request id.
func ParseRequestID(s string) (ulid.ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("invalid request id %q: %w", s, err)
	}
	return id, nil
}
