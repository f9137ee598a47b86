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
package clocknorm

import (
	"testing"

	"github.com/phoenix-rtos/phoenix-rtos-hostutils/ctfsource"
)

func validSnapshot(v uint64) ctfsource.ClockSnapshot {
	return ctfsource.ClockSnapshot{Value: v, ClockClass: "monotonic", FrequencyHz: 1_000_000}
}

func TestFirstSnapshotIsOffsetZero(t *testing.T) {
	n := New()
	ns, err := n.ToOutputNS(validSnapshot(5000))
	if err != nil {
		t.Fatalf("ToOutputNS: %v", err)
	}
	if ns != 0 {
		t.Errorf("first snapshot's offset = %d, want 0", ns)
	}
}

func TestLaterSnapshotConvertsMicrosToNanos(t *testing.T) {
	n := New()
	if _, err := n.ToOutputNS(validSnapshot(1000)); err != nil {
		t.Fatalf("ToOutputNS(base): %v", err)
	}
	ns, err := n.ToOutputNS(validSnapshot(1010))
	if err != nil {
		t.Fatalf("ToOutputNS: %v", err)
	}
	if want := uint64(10 * 1000); ns != want {
		t.Errorf("ToOutputNS offset = %d, want %d", ns, want)
	}
}

func TestRejectsWrongClockClass(t *testing.T) {
	n := New()
	bad := validSnapshot(1)
	bad.ClockClass = "boottime"
	if _, err := n.ToOutputNS(bad); err == nil {
		t.Errorf("ToOutputNS should reject a non-monotonic clock class")
	}
}

func TestRejectsWrongFrequency(t *testing.T) {
	n := New()
	bad := validSnapshot(1)
	bad.FrequencyHz = 2_000_000
	if _, err := n.ToOutputNS(bad); err == nil {
		t.Errorf("ToOutputNS should reject an unexpected frequency")
	}
}
