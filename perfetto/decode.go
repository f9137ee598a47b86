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
package perfetto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// UnmarshalTrace decodes a single length-delimited-free Trace message (as
// produced by Trace.Marshal) back into its constituent TracePackets. Tests
// use it to round-trip the hand-rolled wire encoding, and the
// ctf2perfetto -verify flag uses it to re-read the written output file;
// the conversion itself never decodes.
func UnmarshalTrace(b []byte) (Trace, error) {
	var t Trace
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Trace{}, fmt.Errorf("trace: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num != fnTracePacket || typ != protowire.BytesType {
			return Trace{}, fmt.Errorf("trace: unexpected field %d type %d", num, typ)
		}
		field, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return Trace{}, fmt.Errorf("trace: bad packet bytes: %w", protowire.ParseError(n))
		}
		b = b[n:]
		p, err := unmarshalPacket(field)
		if err != nil {
			return Trace{}, err
		}
		t.Packets = append(t.Packets, p)
	}
	return t, nil
}

func unmarshalPacket(b []byte) (TracePacket, error) {
	var p TracePacket
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return TracePacket{}, fmt.Errorf("packet: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnPacketTimestamp:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return TracePacket{}, fmt.Errorf("packet: bad timestamp: %w", protowire.ParseError(n))
			}
			p.Timestamp = v
			b = b[n:]
		case fnPacketSeqID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return TracePacket{}, fmt.Errorf("packet: bad seq id: %w", protowire.ParseError(n))
			}
			p.SeqID = uint32(v)
			b = b[n:]
		case fnPacketTrackDescriptor:
			field, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return TracePacket{}, fmt.Errorf("packet: bad descriptor: %w", protowire.ParseError(n))
			}
			d, err := unmarshalDescriptor(field)
			if err != nil {
				return TracePacket{}, err
			}
			p.TrackDescriptor = &d
			b = b[n:]
		case fnPacketTrackEvent:
			field, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return TracePacket{}, fmt.Errorf("packet: bad event: %w", protowire.ParseError(n))
			}
			e, err := unmarshalEvent(field)
			if err != nil {
				return TracePacket{}, err
			}
			p.TrackEvent = &e
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return TracePacket{}, fmt.Errorf("packet: bad unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return p, nil
}

func unmarshalDescriptor(b []byte) (TrackDescriptor, error) {
	var d TrackDescriptor
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return TrackDescriptor{}, fmt.Errorf("descriptor: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnDescUUID:
			v, n := protowire.ConsumeVarint(b)
			d.UUID = v
			b = b[n:]
		case fnDescParentUUID:
			v, n := protowire.ConsumeVarint(b)
			d.ParentUUID = v
			b = b[n:]
		case fnDescName:
			v, n := protowire.ConsumeString(b)
			d.Name = v
			b = b[n:]
		case fnDescProcess:
			field, n := protowire.ConsumeBytes(b)
			proc := unmarshalProcess(field)
			d.Process = &proc
			b = b[n:]
		case fnDescThread:
			field, n := protowire.ConsumeBytes(b)
			th := unmarshalThread(field)
			d.Thread = &th
			b = b[n:]
		case fnDescCounter:
			field, n := protowire.ConsumeBytes(b)
			c := unmarshalCounter(field)
			d.Counter = &c
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			b = b[n:]
		}
	}
	return d, nil
}

func unmarshalProcess(b []byte) ProcessDescriptor {
	var p ProcessDescriptor
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return p
		}
		b = b[n:]
		switch num {
		case fnProcPID:
			v, n := protowire.ConsumeVarint(b)
			p.PID = int32(v)
			b = b[n:]
		case fnProcName:
			v, n := protowire.ConsumeString(b)
			p.ProcessName = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			b = b[n:]
		}
	}
	return p
}

func unmarshalThread(b []byte) ThreadDescriptor {
	var t ThreadDescriptor
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return t
		}
		b = b[n:]
		switch num {
		case fnThreadPID:
			v, n := protowire.ConsumeVarint(b)
			t.PID = int32(v)
			b = b[n:]
		case fnThreadTID:
			v, n := protowire.ConsumeVarint(b)
			t.TID = int32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			b = b[n:]
		}
	}
	return t
}

func unmarshalCounter(b []byte) CounterDescriptor {
	var c CounterDescriptor
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return c
		}
		b = b[n:]
		switch num {
		case fnCounterUnitName:
			v, n := protowire.ConsumeString(b)
			c.UnitName = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			b = b[n:]
		}
	}
	return c
}

func unmarshalEvent(b []byte) (TrackEvent, error) {
	var e TrackEvent
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return TrackEvent{}, fmt.Errorf("event: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fnEventType:
			v, n := protowire.ConsumeVarint(b)
			e.Type = Type(v)
			b = b[n:]
		case fnEventName:
			v, n := protowire.ConsumeString(b)
			e.Name = v
			b = b[n:]
		case fnEventTrackUUID:
			v, n := protowire.ConsumeVarint(b)
			e.TrackUUID = v
			b = b[n:]
		case fnEventFlowIDs:
			v, n := protowire.ConsumeVarint(b)
			e.FlowIDs = append(e.FlowIDs, v)
			b = b[n:]
		case fnEventCounterValue:
			v, n := protowire.ConsumeVarint(b)
			e.CounterValue = int64(v)
			e.hasCounter = true
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			b = b[n:]
		}
	}
	return e, nil
}
