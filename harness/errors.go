// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package harness

import "errors"

var (
	// ErrCorruptionDetected is the only error kind that fails a
	// scenario: a delivered message's extracted payload was null or
	// empty.
	ErrCorruptionDetected = errors.New("harness: corrupted message delivery detected")

	// ErrSetupTimeout means the workers did not all become ready within
	// the setup window. It aborts the run before any validation and is
	// distinct from a corruption finding.
	ErrSetupTimeout = errors.New("harness: workers not ready within setup timeout")
)
