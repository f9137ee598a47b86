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
// Package emitter batches TracePackets into length-bounded Trace messages
// and writes their serialized bytes to an output file, logging progress
// the way trace_to_proto_converter logs its own milestones.
package emitter

import (
	"fmt"
	"io"
	"time"

	log "github.com/golang/glog"

	"github.com/phoenix-rtos/phoenix-rtos-hostutils/perfetto"
)

// SequenceID is the trusted_packet_sequence_id stamped onto every
// non-descriptor packet (spec §4.5). Pure track descriptor packets carry
// no sequence id at all.
const SequenceID = 1111222223

// Emitter accumulates TracePackets and flushes them to w in batches of at
// most batchSize packets, matching the reference converter's incremental
// write strategy rather than holding an entire trace in memory.
type Emitter struct {
	w         io.Writer
	batchSize int

	pending []perfetto.TracePacket
	written int64
	flushes int

	start time.Time
	total int64
}

// New returns an Emitter that writes to w, flushing every batchSize
// packets. A non-positive batchSize is replaced by the default of 100000.
func New(w io.Writer, batchSize int) *Emitter {
	if batchSize <= 0 {
		batchSize = 100000
	}
	return &Emitter{w: w, batchSize: batchSize, start: time.Now()}
}

// Descriptor appends a packet that carries no sequence id: track
// descriptors are pure metadata and are never attributed to a trusted
// packet sequence (spec §4.5).
func (e *Emitter) Descriptor(p perfetto.TracePacket) error {
	p.SeqID = 0
	return e.add(p)
}

// Event appends a packet carrying the emitter's fixed sequence id: every
// TrackEvent (slice begin/end, counter sample) packet is attributed to
// the same synthetic sequence, since this converter has exactly one
// logical writer.
func (e *Emitter) Event(p perfetto.TracePacket) error {
	p.SeqID = SequenceID
	return e.add(p)
}

func (e *Emitter) add(p perfetto.TracePacket) error {
	e.pending = append(e.pending, p)
	e.total++
	if len(e.pending) >= e.batchSize {
		return e.Flush()
	}
	return nil
}

// Flush writes any pending packets to the underlying writer as a single
// serialized Trace message and resets the pending batch. It is a no-op
// if there is nothing pending. Alongside the batch's packet/byte counts,
// it logs a human-readable rate line — events and events/second since
// the emitter was created — matching the reference converter's own
// `emitted {total} events ({rate:.2f} events/s)` diagnostic (spec §4.5).
func (e *Emitter) Flush() error {
	if len(e.pending) == 0 {
		return nil
	}
	t := perfetto.Trace{Packets: e.pending}
	b := t.Marshal()
	n, err := e.w.Write(b)
	if err != nil {
		return fmt.Errorf("writing trace batch: %w", err)
	}
	e.written += int64(n)
	e.flushes++

	elapsed := time.Since(e.start).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(e.total) / elapsed
	}
	log.Infof("wrote batch %d: %d packets, %d bytes (%d bytes total); emitted %d events (%.2f events/s)",
		e.flushes, len(e.pending), n, e.written, e.total, rate)
	e.pending = e.pending[:0]
	return nil
}

// Close flushes any remaining packets. It does not close the underlying
// writer: ownership of w stays with the caller.
func (e *Emitter) Close() error {
	return e.Flush()
}

// BytesWritten returns the total number of serialized bytes flushed so
// far.
func (e *Emitter) BytesWritten() int64 {
	return e.written
}
