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
// Package testhelpers contains helpers shared across this repository's
// tests.
package testhelpers

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/phoenix-rtos/phoenix-rtos-hostutils/perfetto"
)

// DiffPackets compares two TracePackets field-by-field. There is no
// protoc-generated proto.Message for this package's hand-rolled Perfetto
// types (see perfetto/trace.go), so comparison is done structurally with
// cmp rather than with proto.Equal.
func DiffPackets(t *testing.T, a, b perfetto.TracePacket) (diff string, equal bool) {
	t.Helper()
	diff = cmp.Diff(a, b, cmp.AllowUnexported(perfetto.TrackEvent{}))
	return diff, diff == ""
}
