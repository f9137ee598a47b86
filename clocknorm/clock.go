//
// Copyright 2019 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS-IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
//
// Package clocknorm translates hardware monotonic microsecond timestamps
// into output nanosecond offsets from the first observed event.
package clocknorm

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/phoenix-rtos/phoenix-rtos-hostutils/ctfsource"
)

const (
	expectedClockClass = "monotonic"
	expectedFrequency  = 1_000_000
)

// Normalizer converts source clock snapshots to output-nanosecond offsets.
// Normalizer asserts clock assumptions once, at the first snapshot it
// sees; any divergence thereafter fails the run, matching the "Clock
// assumptions are asserted once" invariant in spec §3.
type Normalizer struct {
	haveBase bool
	base     uint64
}

// New returns an empty Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// ToOutputNS converts snap to a nanosecond offset from the first snapshot
// ever passed to this Normalizer. On the first call it captures the base
// and asserts the clock's class and frequency; on every later call it
// asserts the same class/frequency still hold (a single trace has one
// clock domain, per spec §1 Non-goals) and returns (snap.Value -
// base) * 1000.
func (n *Normalizer) ToOutputNS(snap ctfsource.ClockSnapshot) (uint64, error) {
	if snap.ClockClass != expectedClockClass || snap.FrequencyHz != expectedFrequency {
		return 0, status.Errorf(codes.FailedPrecondition,
			"unsupported clock: class=%q frequency=%d (want class=%q frequency=%d)",
			snap.ClockClass, snap.FrequencyHz, expectedClockClass, expectedFrequency)
	}
	if !n.haveBase {
		n.base = snap.Value
		n.haveBase = true
	}
	return (snap.Value - n.base) * 1000, nil
}
