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
// Package ctfsource adapts an external CTF-reader collaborator into an
// ordered stream of ctfsource.Message values. Decoding the CTF container
// format itself is out of scope for this package: it expects to be handed
// already-decoded event records and concerns itself only with merging,
// ordering, and typed field extraction.
package ctfsource

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ClockSnapshot is a monotonic clock reading in the source clock's native
// units, together with the clock class metadata the converter must assert
// once (spec: monotonic, 1MHz).
type ClockSnapshot struct {
	Value         uint64
	ClockClass    string
	FrequencyHz   uint64
}

// Message is one decoded CTF event: a name, a clock snapshot, and a typed
// payload. It guarantees nothing about its own field set beyond what its
// event name's schema (see schema.go) declares as required.
type Message struct {
	Name  string
	Clock ClockSnapshot

	ints    map[string]int64
	strs    map[string]string
}

// NewMessage constructs a Message from raw decoded fields. ints and strs
// may be nil.
func NewMessage(name string, clock ClockSnapshot, ints map[string]int64, strs map[string]string) Message {
	return Message{Name: name, Clock: clock, ints: ints, strs: strs}
}

// Int returns the named integer payload field. It fails if name is not
// declared as an integer field for this message's event name by the
// schema table, or if the field is absent from the payload.
func (m Message) Int(name string) (int64, error) {
	kind, ok := fieldKind(m.Name, name)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "event %q has no declared field %q", m.Name, name)
	}
	if kind != fieldInt {
		return 0, status.Errorf(codes.InvalidArgument, "field %q of event %q is not an integer field", name, m.Name)
	}
	v, ok := m.ints[name]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "event %q missing required field %q", m.Name, name)
	}
	return v, nil
}

// Str returns the named string payload field, with the same schema
// validation as Int.
func (m Message) Str(name string) (string, error) {
	kind, ok := fieldKind(m.Name, name)
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "event %q has no declared field %q", m.Name, name)
	}
	if kind != fieldString {
		return "", status.Errorf(codes.InvalidArgument, "field %q of event %q is not a string field", name, m.Name)
	}
	v, ok := m.strs[name]
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "event %q missing required field %q", m.Name, name)
	}
	return v, nil
}

// CPU returns the payload's "cpu" field. Every event is expected to carry
// one (spec §6); this is extracted permissively since it applies to both
// recognized and pass-through event names.
func (m Message) CPU() (int64, error) {
	v, ok := m.ints["cpu"]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "event %q missing required field \"cpu\"", m.Name)
	}
	return v, nil
}

// TID returns the payload's "tid" field and true, or false if the event
// carries no tid field at all (a kernel event, per spec §6).
func (m Message) TID() (int64, bool) {
	v, ok := m.ints["tid"]
	return v, ok
}

func (m Message) String() string {
	return fmt.Sprintf("%s@%d", m.Name, m.Clock.Value)
}
