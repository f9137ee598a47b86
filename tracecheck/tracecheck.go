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
// Package tracecheck validates a converter's own output against the
// structural invariants a well-formed Perfetto trace must hold: every
// track referenced by an event has a preceding descriptor, timestamps
// are non-decreasing, uids are unique, and no two closed slices on one
// track overlap without one containing the other. This inspects already-produced packets; it
// has nothing to do with decoding or analyzing the traced workload.
package tracecheck

import (
	"fmt"

	"github.com/Workiva/go-datastructures/augmentedtree"

	"github.com/phoenix-rtos/phoenix-rtos-hostutils/perfetto"
)

// Violation is one failed invariant, reported with enough context to
// locate it in the packet stream.
type Violation struct {
	PacketIndex int
	Message     string
}

func (v Violation) String() string {
	return fmt.Sprintf("packet %d: %s", v.PacketIndex, v.Message)
}

// span is a closed (begin, end) pair on one track, used as an
// augmentedtree.Interval to detect illegal overlaps on that track.
type span struct {
	id       uint64
	trackUUID uint64
	begin    uint64
	end      uint64
}

func (s *span) LowAtDimension(d uint64) int64  { return int64(s.begin) }
func (s *span) HighAtDimension(d uint64) int64 { return int64(s.end) }
func (s *span) OverlapsAtDimension(j augmentedtree.Interval, d uint64) bool {
	return s.HighAtDimension(d) > j.LowAtDimension(d) && j.HighAtDimension(d) > s.LowAtDimension(d)
}
func (s *span) ID() uint64 { return s.id }

// Verify checks packets against the invariants spec §8 enumerates:
//  1. a track_uuid is referenced only after its descriptor has appeared.
//  2. no track carries two closed slices that overlap without one
//     containing the other (balanced nesting of synthesized begin/end
//     pairs, checked per track with an augmentedtree.Tree the way
//     sched_cpu_span_set.go checks for multiple concurrently running
//     threadSpans on one CPU); slices that only touch at an endpoint
//     are not flagged.
//  3. timestamps of packets that carry one are non-decreasing.
//  4. every track descriptor's uuid is unique.
func Verify(packets []perfetto.TracePacket) []Violation {
	var violations []Violation

	seenUUID := make(map[uint64]bool)
	knownTracks := make(map[uint64]bool)
	var lastTS uint64
	var haveLastTS bool

	// Per-track open-slice stacks, to pair BEGIN/END before feeding closed
	// spans into that track's interval tree.
	openStack := make(map[uint64][]uint64) // trackUUID -> stack of begin timestamps
	trees := make(map[uint64]augmentedtree.Tree)
	var nextSpanID uint64

	for i, p := range packets {
		// Packets without a timestamp (track descriptors) are not ordered.
		if p.Timestamp != 0 {
			if haveLastTS && p.Timestamp < lastTS {
				violations = append(violations, Violation{i, fmt.Sprintf("timestamp %d is less than previous timestamp %d", p.Timestamp, lastTS)})
			}
			lastTS = p.Timestamp
			haveLastTS = true
		}

		switch {
		case p.TrackDescriptor != nil:
			u := p.TrackDescriptor.UUID
			if seenUUID[u] {
				violations = append(violations, Violation{i, fmt.Sprintf("track uuid %d declared more than once", u)})
			}
			seenUUID[u] = true
			knownTracks[u] = true

		case p.TrackEvent != nil:
			e := p.TrackEvent
			if e.TrackUUID != 0 && !knownTracks[e.TrackUUID] {
				violations = append(violations, Violation{i, fmt.Sprintf("track_event references uuid %d with no prior descriptor", e.TrackUUID)})
				continue
			}
			switch e.Type {
			case perfetto.TypeSliceBegin:
				openStack[e.TrackUUID] = append(openStack[e.TrackUUID], p.Timestamp)
			case perfetto.TypeSliceEnd:
				stack := openStack[e.TrackUUID]
				if len(stack) == 0 {
					violations = append(violations, Violation{i, fmt.Sprintf("slice end on track %d with no open begin", e.TrackUUID)})
					continue
				}
				begin := stack[len(stack)-1]
				openStack[e.TrackUUID] = stack[:len(stack)-1]

				tree, ok := trees[e.TrackUUID]
				if !ok {
					tree = augmentedtree.New(1)
					trees[e.TrackUUID] = tree
				}
				nextSpanID++
				s := &span{id: nextSpanID, trackUUID: e.TrackUUID, begin: begin, end: p.Timestamp}
				for _, o := range tree.Query(s) {
					other := o.(*span)
					nested := (other.begin >= s.begin && other.end <= s.end) || (s.begin >= other.begin && s.end <= other.end)
					touching := other.end == s.begin || s.end == other.begin
					if !nested && !touching {
						violations = append(violations, Violation{i, fmt.Sprintf("slice [%d,%d) on track %d partially overlaps an existing closed slice", begin, p.Timestamp, e.TrackUUID)})
						break
					}
				}
				tree.Add(s)
			}
		}
	}

	for trackUUID, stack := range openStack {
		if len(stack) > 0 {
			violations = append(violations, Violation{len(packets), fmt.Sprintf("track %d ends the trace with %d unclosed slice(s)", trackUUID, len(stack))})
		}
	}

	return violations
}
