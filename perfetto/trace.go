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
// Package perfetto implements the subset of the Perfetto trace protobuf
// schema enumerated in spec §6: Trace, TracePacket, TrackDescriptor, and
// TrackEvent. There is no protoc-generated binding for this schema in this
// repository (generating one would require running the protobuf
// toolchain), so each type encodes its own wire bytes directly with
// google.golang.org/protobuf/encoding/protowire, the code-gen-free half of
// the same protobuf module family used elsewhere in this codebase for
// gRPC status handling. Protobuf's wire format does not distinguish
// hand-written from generated writers, so this produces the identical byte
// stream a protoc-generated marshaller would for the same field values.
package perfetto

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Type is a TrackEvent's event type.
type Type int32

// TrackEvent.Type values, matching the Perfetto schema.
const (
	TypeUnspecified Type = 0
	TypeSliceBegin  Type = 1
	TypeSliceEnd    Type = 2
	TypeInstant     Type = 3
	TypeCounter     Type = 4
)

// Field numbers for the Perfetto schema subset this package encodes.
const (
	fnTracePacket = 1 // Trace.packet

	fnPacketTimestamp       = 8  // TracePacket.timestamp
	fnPacketTrackEvent      = 11 // TracePacket.track_event
	fnPacketTrackDescriptor = 60 // TracePacket.track_descriptor
	fnPacketSeqID           = 10 // TracePacket.trusted_packet_sequence_id

	fnDescUUID       = 1 // TrackDescriptor.uuid
	fnDescName       = 2 // TrackDescriptor.name
	fnDescProcess    = 3 // TrackDescriptor.process
	fnDescThread     = 4 // TrackDescriptor.thread
	fnDescParentUUID = 5 // TrackDescriptor.parent_uuid
	fnDescCounter    = 8 // TrackDescriptor.counter

	fnProcPID  = 1 // ProcessDescriptor.pid
	fnProcName = 6 // ProcessDescriptor.process_name

	fnThreadPID = 1 // ThreadDescriptor.pid
	fnThreadTID = 2 // ThreadDescriptor.tid

	fnCounterUnitName = 6 // CounterDescriptor.unit_name

	fnEventType         = 9  // TrackEvent.type
	fnEventTrackUUID    = 11 // TrackEvent.track_uuid
	fnEventName         = 23 // TrackEvent.name (string variant)
	fnEventCounterValue = 30 // TrackEvent.counter_value (int64 variant)
	fnEventFlowIDs      = 47 // TrackEvent.flow_ids (repeated, one varint tag per id, not packed)
)

// ProcessDescriptor describes a process-rooted track.
type ProcessDescriptor struct {
	PID         int32
	ProcessName string
}

func (p ProcessDescriptor) marshal(b []byte) []byte {
	if p.PID != 0 {
		b = protowire.AppendTag(b, fnProcPID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(p.PID)))
	}
	if p.ProcessName != "" {
		b = protowire.AppendTag(b, fnProcName, protowire.BytesType)
		b = protowire.AppendString(b, p.ProcessName)
	}
	return b
}

// ThreadDescriptor describes a thread-rooted track.
type ThreadDescriptor struct {
	PID int32
	TID int32
}

func (t ThreadDescriptor) marshal(b []byte) []byte {
	if t.PID != 0 {
		b = protowire.AppendTag(b, fnThreadPID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(t.PID)))
	}
	b = protowire.AppendTag(b, fnThreadTID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(t.TID)))
	return b
}

// CounterDescriptor describes counter-track semantics.
type CounterDescriptor struct {
	UnitName string
}

func (c CounterDescriptor) marshal(b []byte) []byte {
	if c.UnitName != "" {
		b = protowire.AppendTag(b, fnCounterUnitName, protowire.BytesType)
		b = protowire.AppendString(b, c.UnitName)
	}
	return b
}

// TrackDescriptor introduces a uid, optionally parented by another uid,
// with one of a bare name, a process identity, a thread identity, or
// counter semantics.
type TrackDescriptor struct {
	UUID       uint64
	ParentUUID uint64 // 0 means "no parent"

	Name    string // mutually exclusive with Process/Thread/Counter
	Process *ProcessDescriptor
	Thread  *ThreadDescriptor
	Counter *CounterDescriptor
}

func (d TrackDescriptor) marshal(b []byte) []byte {
	b = protowire.AppendTag(b, fnDescUUID, protowire.VarintType)
	b = protowire.AppendVarint(b, d.UUID)
	if d.ParentUUID != 0 {
		b = protowire.AppendTag(b, fnDescParentUUID, protowire.VarintType)
		b = protowire.AppendVarint(b, d.ParentUUID)
	}
	switch {
	case d.Process != nil:
		b = protowire.AppendTag(b, fnDescProcess, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Process.marshal(nil))
	case d.Thread != nil:
		b = protowire.AppendTag(b, fnDescThread, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Thread.marshal(nil))
	case d.Counter != nil:
		b = protowire.AppendTag(b, fnDescCounter, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Counter.marshal(nil))
	case d.Name != "":
		b = protowire.AppendTag(b, fnDescName, protowire.BytesType)
		b = protowire.AppendString(b, d.Name)
	}
	return b
}

// TrackEvent is a slice begin/end, instant, or counter sample on a track.
type TrackEvent struct {
	Type         Type
	Name         string
	TrackUUID    uint64
	FlowIDs      []uint64
	CounterValue int64
	hasCounter   bool
}

// WithCounterValue returns a copy of e carrying the given counter value;
// used because a zero counter value is a legitimate sample and must still
// be encoded, unlike the other optional fields here.
func (e TrackEvent) WithCounterValue(v int64) TrackEvent {
	e.CounterValue = v
	e.hasCounter = true
	return e
}

func (e TrackEvent) marshal(b []byte) []byte {
	if e.Type != TypeUnspecified {
		b = protowire.AppendTag(b, fnEventType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Type))
	}
	if e.Name != "" {
		b = protowire.AppendTag(b, fnEventName, protowire.BytesType)
		b = protowire.AppendString(b, e.Name)
	}
	if e.TrackUUID != 0 {
		b = protowire.AppendTag(b, fnEventTrackUUID, protowire.VarintType)
		b = protowire.AppendVarint(b, e.TrackUUID)
	}
	for _, id := range e.FlowIDs {
		b = protowire.AppendTag(b, fnEventFlowIDs, protowire.VarintType)
		b = protowire.AppendVarint(b, id)
	}
	if e.hasCounter {
		b = protowire.AppendTag(b, fnEventCounterValue, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.CounterValue))
	}
	return b
}

// TracePacket is one entry in a Trace: a timestamp plus exactly one of a
// TrackDescriptor or a TrackEvent.
type TracePacket struct {
	Timestamp uint64
	// SeqID is omitted from the wire form when zero: pure descriptor
	// packets carry no trusted_packet_sequence_id (spec §4.5).
	SeqID uint32

	TrackDescriptor *TrackDescriptor
	TrackEvent      *TrackEvent
}

// Marshal appends the packet's wire bytes to b and returns the result.
func (p TracePacket) Marshal(b []byte) []byte {
	if p.Timestamp != 0 || p.TrackEvent != nil {
		b = protowire.AppendTag(b, fnPacketTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, p.Timestamp)
	}
	if p.SeqID != 0 {
		b = protowire.AppendTag(b, fnPacketSeqID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.SeqID))
	}
	switch {
	case p.TrackDescriptor != nil:
		b = protowire.AppendTag(b, fnPacketTrackDescriptor, protowire.BytesType)
		b = protowire.AppendBytes(b, p.TrackDescriptor.marshal(nil))
	case p.TrackEvent != nil:
		b = protowire.AppendTag(b, fnPacketTrackEvent, protowire.BytesType)
		b = protowire.AppendBytes(b, p.TrackEvent.marshal(nil))
	}
	return b
}

// Trace is a length-delimited sequence of TracePackets, matching the
// top-level message the Perfetto trace processor expects.
type Trace struct {
	Packets []TracePacket
}

// Marshal returns the serialized Trace message: each packet encoded as a
// length-delimited field 1 entry, concatenated in order.
func (t Trace) Marshal() []byte {
	var b []byte
	for _, p := range t.Packets {
		b = protowire.AppendTag(b, fnTracePacket, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Marshal(nil))
	}
	return b
}
