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
package ctfsource

import "testing"

func TestIntValidatesSchema(t *testing.T) {
	m := NewMessage("thread_create", ClockSnapshot{}, map[string]int64{"tid": 7, "pid": 1, "prio": 5}, map[string]string{"name": "worker"})
	v, err := m.Int("tid")
	if err != nil || v != 7 {
		t.Fatalf("Int(tid) = (%d, %v), want (7, nil)", v, err)
	}
	if _, err := m.Int("name"); err == nil {
		t.Errorf("Int(name) on a declared string field should fail")
	}
	if _, err := m.Int("nonexistent"); err == nil {
		t.Errorf("Int(nonexistent) on an undeclared field should fail")
	}
}

func TestIntMissingRequiredField(t *testing.T) {
	m := NewMessage("thread_create", ClockSnapshot{}, map[string]int64{"tid": 7}, nil)
	if _, err := m.Int("pid"); err == nil {
		t.Errorf("Int(pid) should fail when pid is declared but absent from the payload")
	}
}

func TestCPUAndTID(t *testing.T) {
	withTID := NewMessage("syscall_enter", ClockSnapshot{}, map[string]int64{"cpu": 1, "tid": 9, "n": 0}, nil)
	if cpu, err := withTID.CPU(); err != nil || cpu != 1 {
		t.Fatalf("CPU() = (%d, %v), want (1, nil)", cpu, err)
	}
	if tid, ok := withTID.TID(); !ok || tid != 9 {
		t.Fatalf("TID() = (%d, %v), want (9, true)", tid, ok)
	}

	noTID := NewMessage("interrupt_enter", ClockSnapshot{}, map[string]int64{"cpu": 2, "irq": 3}, nil)
	if _, ok := noTID.TID(); ok {
		t.Errorf("TID() on a kernel event should report ok=false")
	}
}

func TestOptIntForUnrecognizedEvent(t *testing.T) {
	m := NewMessage("some_custom_lock_event", ClockSnapshot{}, map[string]int64{"lid": 4}, nil)
	v, ok := m.OptInt("lid")
	if !ok || v != 4 {
		t.Errorf("OptInt(lid) = (%d, %v), want (4, true) even for an unrecognized event name", v, ok)
	}
}
