// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/plugbridge/plugbridge/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("MY_CODE").Errorf("test error")
	errutil.AssertErrorCode(t, err, "MY_CODE")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("request_id", "01J").Errorf("test error")
	errutil.AssertErrorContext(t, err, "request_id", "01J")
}
