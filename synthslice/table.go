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
// Package synthslice reconstructs durational slices from the point events
// a trace actually carries: the source format has no notion of a
// begin/end pair, only discrete point events, so the converter must infer
// slice boundaries itself (spec §4.4).
package synthslice

// Role is which half of a synthesized begin/end pair a raw event name
// plays.
type Role int

const (
	// RoleNone means the raw event name does not participate in slice
	// synthesis at all (e.g. thread_create, lock_name).
	RoleNone Role = iota
	RoleBegin
	RoleEnd
)

// pairing names the synthetic slice a raw begin/end event name pair
// renders as, and which track it belongs on. "sched" and "runnable"
// slices render onto the thread's sched sub-track; everything else renders
// onto its events sub-track (spec §4.3).
type pairing struct {
	slice string
	track string
	role  Role
}

// rawEventTable maps every raw point-event name the source format emits
// that participates in slice synthesis to its role and synthetic slice
// name. syscall_enter/syscall_exit are handled separately (syscallSlice)
// because their rendered name depends on the event's numeric payload, not
// a static table entry.
var rawEventTable = map[string]pairing{
	"interrupt_enter":    {slice: "interrupt", track: "events", role: RoleBegin},
	"interrupt_exit":     {slice: "interrupt", track: "events", role: RoleEnd},
	"lock_set_enter":     {slice: "lockSet", track: "events", role: RoleBegin},
	"lock_set_exit":      {slice: "lockSet", track: "events", role: RoleEnd},
	"lock_set_acquired":  {slice: "locked", track: "events", role: RoleBegin},
	"lock_clear":         {slice: "locked", track: "events", role: RoleEnd},
	"sched_enter":        {slice: "sched", track: "sched", role: RoleBegin},
	"sched_exit":         {slice: "sched", track: "sched", role: RoleEnd},
	"thread_waking":      {slice: "runnable", track: "sched", role: RoleBegin},
	"thread_scheduling":  {slice: "runnable", track: "sched", role: RoleEnd},
}

// syscallSlice renders the synthetic slice name for a syscall_enter or
// syscall_exit event given its resolved syscall name.
func syscallSlice(syscallName string) string {
	return "syscall:" + syscallName
}

func init() {
	begins := make(map[string]bool)
	ends := make(map[string]bool)
	for raw, p := range rawEventTable {
		switch p.role {
		case RoleBegin:
			begins[raw] = true
		case RoleEnd:
			ends[raw] = true
		}
	}
	for raw := range begins {
		if ends[raw] {
			panic("synthslice: raw event " + raw + " appears as both a begin and an end")
		}
	}
}

// lookup returns the pairing for a non-syscall raw event name.
func lookup(rawName string) (pairing, bool) {
	p, ok := rawEventTable[rawName]
	return p, ok
}
