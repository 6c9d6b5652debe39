// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package harness drives a messaging collaborator with one set of
// producers and many fan-out consumers, continuously verifying that
// every delivered message carries a non-empty, correctly-typed body.
package harness

import (
	"fmt"

	"github.com/absmach/mqstress/mq"
)

// Scenario is one combination of test dimensions. Immutable; one value
// drives one full run. Identity derives from the tuple values, not the
// enumeration position.
type Scenario struct {
	Encoding                   mq.Encoding
	ReduceMemoryFootprint      bool
	ConcurrentStoreAndDispatch bool
}

// Matrix enumerates the full Cartesian product of test dimensions:
// three encodings by two policy booleans each, twelve scenarios. Each
// call returns a fresh slice.
func Matrix() []Scenario {
	encodings := []mq.Encoding{mq.EncodingText, mq.EncodingMap, mq.EncodingOpaque}
	bools := []bool{true, false}

	scenarios := make([]Scenario, 0, len(encodings)*len(bools)*len(bools))
	for _, enc := range encodings {
		for _, rmf := range bools {
			for _, csd := range bools {
				scenarios = append(scenarios, Scenario{
					Encoding:                   enc,
					ReduceMemoryFootprint:      rmf,
					ConcurrentStoreAndDispatch: csd,
				})
			}
		}
	}
	return scenarios
}

// Name returns a stable human-readable label for logs and reports.
func (s Scenario) Name() string {
	return fmt.Sprintf("encoding=%s/reduce_memory_footprint=%t/concurrent_store_and_dispatch=%t",
		s.Encoding, s.ReduceMemoryFootprint, s.ConcurrentStoreAndDispatch)
}

// Policy returns the collaborator policy switches for this scenario.
func (s Scenario) Policy() mq.Policy {
	return mq.Policy{
		ReduceMemoryFootprint:      s.ReduceMemoryFootprint,
		ConcurrentStoreAndDispatch: s.ConcurrentStoreAndDispatch,
	}
}
