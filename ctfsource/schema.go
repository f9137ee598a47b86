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

// fieldKindT is the primitive kind of a single declared payload field.
type fieldKindT int

const (
	fieldInt fieldKindT = iota
	fieldString
)

// schema declares, for each recognized event name, the required fields and
// their primitive kinds. This collapses the dynamic, ad-hoc type checks a
// CTF payload would otherwise require into one table, consulted by
// Message.Int/Message.Str. Event names not present here take the
// permissive path described in spec §6/§9: only cpu and optional tid are
// extracted, via Message.CPU/Message.TID/Message.OptInt.
var schema = map[string]map[string]fieldKindT{
	"thread_create": {
		"tid":  fieldInt,
		"pid":  fieldInt,
		"name": fieldString,
		"prio": fieldInt,
	},
	"thread_priority": {
		"tid":      fieldInt,
		"priority": fieldInt,
	},
	"thread_end": {
		"tid": fieldInt,
	},
	"lock_name": {
		"lid":  fieldInt,
		"name": fieldString,
	},
	"syscall_enter": {"n": fieldInt},
	"syscall_exit":  {"n": fieldInt},

	"interrupt_enter": {"irq": fieldInt},
	"interrupt_exit":  {"irq": fieldInt},

	"lock_set_enter": {"lid": fieldInt},
	"lock_set_exit":  {"lid": fieldInt},

	"lock_set_acquired": {"lid": fieldInt},
	"lock_clear":        {"lid": fieldInt},

	"sched_enter": {},
	"sched_exit":  {},

	"thread_waking":     {},
	"thread_scheduling": {},
}

func fieldKind(eventName, fieldName string) (fieldKindT, bool) {
	fields, ok := schema[eventName]
	if !ok {
		return 0, false
	}
	kind, ok := fields[fieldName]
	return kind, ok
}

// OptInt returns the named integer field and true if present, without
// requiring a schema declaration for the (event name, field name) pair.
// Used by the generic "any other event whose name contains lock_" rendering
// rule (spec §4.4), which applies to instant events outside the recognized
// tables.
func (m Message) OptInt(name string) (int64, bool) {
	v, ok := m.ints[name]
	return v, ok
}
