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
package synthslice

import (
	"sort"
	"strings"

	"github.com/phoenix-rtos/phoenix-rtos-hostutils/identity"
)

// Track names a per-thread sub-track a synthesized slice can live on.
type Track string

const (
	TrackEvents Track = "events"
	TrackSched  Track = "sched"
)

// nameKey identifies one stack of open synthesized slices by the thread,
// the track it lives on, and its rendered name. Open-slice
// stacks are kept per (tid, track, name) — matching the original
// converter's ongoing_events[tid][event_name] dict of per-name stacks
// (original_source/trace/ctf_to_proto/src/ctf_to_proto.py) — so that two
// differently-named slices nesting on the same track (a lockSet/locked
// pair straddling a syscall, say) each unwind against their own stack
// instead of fighting over one shared LIFO.
type nameKey struct {
	tid   identity.TID
	track Track
	name  string
}

// trackKey identifies a (tid, track) pair, independent of slice name. The
// "locked begin lands on the same instant as the lockSet end" collision
// (spec §4.4) is a property of the track's timeline as a whole, not of
// any one slice name, so the last-end timestamp used to detect it is
// tracked at this coarser granularity.
type trackKey struct {
	tid   identity.TID
	track Track
}

// Builder reconstructs durational slices from the stream of begin/end
// point events for each thread. It is not safe for concurrent use.
type Builder struct {
	stacks    map[nameKey][]uint64
	lastEndTS map[trackKey]uint64
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{
		stacks:    make(map[nameKey][]uint64),
		lastEndTS: make(map[trackKey]uint64),
	}
}

// Classify reports the role a raw event name plays in slice synthesis,
// and (for begin/end roles) the track it renders onto. syscallName is
// only consulted for "syscall_enter"/"syscall_exit", whose rendered slice
// name depends on the event's numeric payload rather than a static table.
func Classify(rawName, syscallName string) (role Role, track Track, sliceName string) {
	switch rawName {
	case "syscall_enter":
		return RoleBegin, TrackEvents, syscallSlice(syscallName)
	case "syscall_exit":
		return RoleEnd, TrackEvents, syscallSlice(syscallName)
	}
	p, ok := lookup(rawName)
	if !ok {
		return RoleNone, "", ""
	}
	return p.role, Track(p.track), p.slice
}

// Begin opens a new slice frame for tid on track, returning the
// timestamp it should actually be emitted at. If a "locked" begin's ts
// collides with the timestamp most recently used to close a slice on the
// same (tid, track) — the "locked" begin landing on the same instant as
// the preceding "lockSet" end — the begin is shifted one nanosecond later
// so the two do not render as a zero-width overlap. Begins of any other
// name are never shifted.
func (b *Builder) Begin(tid identity.TID, track Track, name string, ts uint64) uint64 {
	tk := trackKey{tid, track}
	isLocked := name == "locked" || strings.HasPrefix(name, "locked:")
	if last, ok := b.lastEndTS[tk]; ok && last == ts && isLocked {
		ts++
	}
	nk := nameKey{tid, track, name}
	b.stacks[nk] = append(b.stacks[nk], ts)
	return ts
}

// End closes the innermost open frame for (tid, track, name). A frame
// with no corresponding open begin is an orphan end and is silently
// dropped (spec §4.4): the source format can legitimately start
// mid-slice, at the beginning of a capture.
func (b *Builder) End(tid identity.TID, track Track, name string, ts uint64) (beginTS uint64, ok bool) {
	nk := nameKey{tid, track, name}
	stack := b.stacks[nk]
	if len(stack) == 0 {
		return 0, false
	}
	beginTS = stack[len(stack)-1]
	b.stacks[nk] = stack[:len(stack)-1]
	b.lastEndTS[trackKey{tid, track}] = ts
	return beginTS, true
}

// ClosedFrame is a slice forced shut by ForceClose, reported so the
// caller can still emit its END event.
type ClosedFrame struct {
	Track Track
	Name  string
	BeginTS uint64
}

// ForceClose closes every frame still open for tid, across every track
// and slice name, innermost first within each name's stack, as
// thread_end requires (spec §4.4): a thread that exits mid-slice must
// not leave dangling BEGINs in the output. The (track, name) pairs
// themselves are visited in a stable, sorted order so output is
// deterministic despite Go's randomized map iteration.
func (b *Builder) ForceClose(tid identity.TID) []ClosedFrame {
	var keys []nameKey
	for nk, stack := range b.stacks {
		if nk.tid == tid && len(stack) > 0 {
			keys = append(keys, nk)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].track != keys[j].track {
			return keys[i].track < keys[j].track
		}
		return keys[i].name < keys[j].name
	})

	var closed []ClosedFrame
	for _, nk := range keys {
		stack := b.stacks[nk]
		for i := len(stack) - 1; i >= 0; i-- {
			closed = append(closed, ClosedFrame{Track: nk.track, Name: nk.name, BeginTS: stack[i]})
		}
		delete(b.stacks, nk)
	}
	return closed
}
