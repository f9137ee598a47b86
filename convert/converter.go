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
// Package convert wires clocknorm, identity, synthslice, and emitter
// together into the converter's per-event dispatch loop.
package convert

import (
	"context"
	"fmt"
	"io"
	"strings"

	log "github.com/golang/glog"

	"github.com/phoenix-rtos/phoenix-rtos-hostutils/clocknorm"
	"github.com/phoenix-rtos/phoenix-rtos-hostutils/ctfsource"
	"github.com/phoenix-rtos/phoenix-rtos-hostutils/emitter"
	"github.com/phoenix-rtos/phoenix-rtos-hostutils/identity"
	"github.com/phoenix-rtos/phoenix-rtos-hostutils/perfetto"
	"github.com/phoenix-rtos/phoenix-rtos-hostutils/stringbank"
	"github.com/phoenix-rtos/phoenix-rtos-hostutils/synthslice"
)

// Options configures a Converter.
type Options struct {
	// MergePriorities parents each thread's prio track directly under its
	// own root track when true; when false, under a shared per-pid
	// sub-track of a global Priorities parent.
	MergePriorities bool
}

// cpuRunState is the currently-running thread rendered on a CPU's virtual
// track, if any. name is the exact "<thread name> <tid>" string rendered
// on the CPU's virtual track, used to detect when a runnable END repeats
// for the thread already shown running there (spec §4.6 step 5).
type cpuRunState struct {
	tid  identity.TID
	name string
	open bool
}

// Converter consumes a ctfsource.Reader to completion, emitting a
// Perfetto trace through its Emitter. A Converter is single-use: call Run
// exactly once.
type Converter struct {
	reg    *identity.Registry
	clock  *clocknorm.Normalizer
	slices *synthslice.Builder
	emit   *emitter.Emitter

	names     *stringbank.Bank
	joinCache *stringbank.JoinCache

	lockNames map[int64]string
	cpuRun    map[identity.CPUID]cpuRunState

	haveFirstEvent bool
}

// New returns a Converter that writes through emit.
func New(emit *emitter.Emitter, opts Options, names *stringbank.Bank) *Converter {
	return &Converter{
		reg:       identity.New(opts.MergePriorities, names),
		clock:     clocknorm.New(),
		slices:    synthslice.New(),
		emit:      emit,
		names:     names,
		joinCache: stringbank.NewJoinCache(names),
		lockNames: make(map[int64]string),
		cpuRun:    make(map[identity.CPUID]cpuRunState),
	}
}

// Run drains r to completion (io.EOF) or until ctx is cancelled,
// dispatching every message and finally flushing the emitter. It is the
// converter's only entry point (spec §4.6).
func (c *Converter) Run(ctx context.Context, r ctfsource.Reader) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading next event: %w", err)
		}
		if err := c.handle(msg); err != nil {
			return fmt.Errorf("handling event %v: %w", msg, err)
		}
	}

	if c.reg.WarnUnknownThread() {
		log.Warning("one or more events referenced a tid never announced by thread_create; attributed to UNKNOWN")
	}
	return c.emit.Close()
}

func (c *Converter) handle(msg ctfsource.Message) error {
	tsNS, err := c.clock.ToOutputNS(msg.Clock)
	if err != nil {
		return err
	}

	if !c.haveFirstEvent {
		c.haveFirstEvent = true
		for _, p := range c.reg.EmitInitialMetadata() {
			if err := c.emit.Descriptor(p); err != nil {
				return err
			}
		}
	}

	switch msg.Name {
	case "thread_create":
		return c.onThreadCreate(msg, tsNS)
	case "thread_priority":
		return c.onThreadPriority(msg, tsNS)
	case "thread_end":
		return c.onThreadEnd(msg, tsNS)
	case "lock_name":
		return c.onLockName(msg)
	default:
		return c.onSliceEvent(msg, tsNS)
	}
}

func (c *Converter) onThreadCreate(msg ctfsource.Message, tsNS uint64) error {
	tid, err := msg.Int("tid")
	if err != nil {
		return err
	}
	pid, err := msg.Int("pid")
	if err != nil {
		return err
	}
	name, err := msg.Str("name")
	if err != nil {
		return err
	}
	prio, err := msg.Int("prio")
	if err != nil {
		return err
	}
	c.reg.RecordThreadCreate(identity.TID(tid), identity.PID(pid), name, prio, tsNS)
	return nil
}

func (c *Converter) onThreadPriority(msg ctfsource.Message, tsNS uint64) error {
	tidN, err := msg.Int("tid")
	if err != nil {
		return err
	}
	prio, err := msg.Int("priority")
	if err != nil {
		return err
	}
	tid := identity.TID(tidN)
	c.reg.SetPriority(tid, prio)
	if !c.reg.HasThreadTracks(tid) {
		// The track descriptors (and so the prio counter track) have not
		// been emitted yet; the cached priority will back-fill the first
		// sample once EnsureThreadTracks runs.
		return nil
	}
	_, tracks := c.reg.EnsureThreadTracks(tid)
	ev := perfetto.TrackEvent{Type: perfetto.TypeCounter, TrackUUID: uint64(tracks.Prio)}.WithCounterValue(prio)
	return c.emit.Event(perfetto.TracePacket{
		Timestamp:  tsNS,
		TrackEvent: &ev,
	})
}

func (c *Converter) onThreadEnd(msg ctfsource.Message, tsNS uint64) error {
	tidN, err := msg.Int("tid")
	if err != nil {
		return err
	}
	tid := identity.TID(tidN)
	for _, closed := range c.slices.ForceClose(tid) {
		trackUUID, err := c.trackUUIDFor(tid, closed.Track, tsNS)
		if err != nil {
			return err
		}
		if err := c.emit.Event(perfetto.TracePacket{
			Timestamp:  tsNS,
			TrackEvent: &perfetto.TrackEvent{Type: perfetto.TypeSliceEnd, TrackUUID: uint64(trackUUID)},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Converter) onLockName(msg ctfsource.Message) error {
	lid, err := msg.Int("lid")
	if err != nil {
		return err
	}
	name, err := msg.Str("name")
	if err != nil {
		return err
	}
	c.lockNames[lid] = name
	return nil
}

// lockName renders the display name for a lock id, falling back to a
// synthetic "lock<id>" label if lock_name was never observed for it
// (spec §4.4's permissive handling of unresolved lock ids).
func (c *Converter) lockName(lid int64) string {
	if name, ok := c.lockNames[lid]; ok {
		return name
	}
	return fmt.Sprintf("lock%d", lid)
}

// trackUUIDFor returns the track uuid a synthesized slice should render
// on for the given tid and track, allocating thread track descriptors if
// this is the first reference to tid. On that first reference it also
// emits the thread's first prio counter sample, at tsNS, from the cached
// current priority.
func (c *Converter) trackUUIDFor(tid identity.TID, track synthslice.Track, tsNS uint64) (identity.UID, error) {
	packets, tracks := c.reg.EnsureThreadTracks(tid)
	for _, p := range packets {
		if err := c.emit.Descriptor(p); err != nil {
			return 0, err
		}
	}
	if len(packets) > 0 {
		ev := perfetto.TrackEvent{Type: perfetto.TypeCounter, TrackUUID: uint64(tracks.Prio)}.WithCounterValue(c.reg.CurrentPriority(tid))
		if err := c.emit.Event(perfetto.TracePacket{Timestamp: tsNS, TrackEvent: &ev}); err != nil {
			return 0, err
		}
	}
	if track == synthslice.TrackSched {
		return tracks.Sched, nil
	}
	return tracks.Events, nil
}

func (c *Converter) onSliceEvent(msg ctfsource.Message, tsNS uint64) error {
	var syscallName string
	if msg.Name == "syscall_enter" || msg.Name == "syscall_exit" {
		n, err := msg.Int("n")
		if err != nil {
			return err
		}
		if n < 0 || int(n) >= len(ctfsource.Syscalls) {
			syscallName = fmt.Sprintf("sys_unknown_%d", n)
		} else {
			syscallName = ctfsource.Syscalls[n]
		}
	}

	role, track, sliceName := synthslice.Classify(msg.Name, syscallName)
	if role == synthslice.RoleNone {
		// Any other event is passed through as an instant on the events
		// track; a name containing "lock_" gets the lock's name appended.
		track, sliceName = synthslice.TrackEvents, msg.Name
		if lid, ok := msg.OptInt("lid"); ok && strings.Contains(msg.Name, "lock_") {
			sliceName += "(" + c.lockName(lid) + ")"
		}
	}
	baseName := sliceName
	sliceName = c.qualify(msg, sliceName)

	// The "locked" synthetic carries flow_id = payload.lid so the viewer
	// can correlate held spans to the context that acquired them (spec
	// §4.4); no other synthetic kind carries a flow id here.
	var flowIDs []uint64
	if baseName == "locked" {
		if lid, ok := msg.OptInt("lid"); ok {
			flowIDs = []uint64{uint64(lid)}
		}
	}

	cpuN, err := msg.CPU()
	if err != nil {
		return err
	}
	cpu := identity.CPUID(cpuN)

	tidN, hasTID := msg.TID()
	var tid identity.TID
	var trackUUID identity.UID
	if hasTID {
		tid = identity.TID(tidN)
		if trackUUID, err = c.trackUUIDFor(tid, track, tsNS); err != nil {
			return err
		}
	} else {
		tid = identity.KernelTID
		packets, kUUID := c.reg.EnsureKernelCPU(cpu)
		for _, p := range packets {
			if err := c.emit.Descriptor(p); err != nil {
				return err
			}
		}
		trackUUID = kUUID
	}

	if role == synthslice.RoleNone {
		return c.emit.Event(perfetto.TracePacket{
			Timestamp:  tsNS,
			TrackEvent: &perfetto.TrackEvent{Type: perfetto.TypeInstant, Name: sliceName, TrackUUID: uint64(trackUUID)},
		})
	}
	return c.emitSlice(tid, cpu, track, trackUUID, role, sliceName, msg.Name, tsNS, flowIDs)
}

// qualify appends the event-specific discriminator a bare synthetic slice
// name needs: the lock's resolved name for lockSet/locked, the irq number
// for interrupt. syscall names are already fully resolved by Classify.
func (c *Converter) qualify(msg ctfsource.Message, sliceName string) string {
	switch sliceName {
	case "lockSet", "locked":
		if lid, ok := msg.OptInt("lid"); ok {
			return c.joinCache.Join(sliceName+":", c.lockName(lid))
		}
	case "interrupt":
		if irq, ok := msg.OptInt("irq"); ok {
			return c.joinCache.Join(sliceName+":", fmt.Sprintf("%d", irq))
		}
	}
	return sliceName
}

func (c *Converter) emitSlice(tid identity.TID, cpu identity.CPUID, track synthslice.Track, trackUUID identity.UID, role synthslice.Role, sliceName, rawName string, tsNS uint64, flowIDs []uint64) error {
	switch role {
	case synthslice.RoleBegin:
		beginTS := c.slices.Begin(tid, track, sliceName, tsNS)
		return c.emit.Event(perfetto.TracePacket{
			Timestamp:  beginTS,
			TrackEvent: &perfetto.TrackEvent{Type: perfetto.TypeSliceBegin, Name: sliceName, TrackUUID: uint64(trackUUID), FlowIDs: flowIDs},
		})
	case synthslice.RoleEnd:
		_, ok := c.slices.End(tid, track, sliceName, tsNS)
		if !ok {
			// Orphan end: no matching open frame, silently dropped (spec §4.4).
			return nil
		}
		if err := c.emit.Event(perfetto.TracePacket{
			Timestamp:  tsNS,
			TrackEvent: &perfetto.TrackEvent{Type: perfetto.TypeSliceEnd, TrackUUID: uint64(trackUUID), FlowIDs: flowIDs},
		}); err != nil {
			return err
		}
		if rawName == "thread_scheduling" {
			return c.onThreadStartedRunning(tid, cpu, tsNS)
		}
	}
	return nil
}

// runningOnCPUSlice is the name of the slice a thread's own sched track
// carries while it is the thread shown running on cpu (spec §4.6 step 5).
func runningOnCPUSlice(cpu identity.CPUID) string {
	return fmt.Sprintf("running:cpu%d", cpu)
}

// onThreadStartedRunning renders the CPU virtual track's own "who is
// running" slice: the end of a thread's "runnable" window is exactly the
// instant it starts running on its CPU (spec §4.6 step 5). If the thread
// already shown running there hasn't changed, nothing is emitted — two
// consecutive thread_scheduling events for the same thread with no
// intervening other-thread schedule must not churn out a zero-duration
// END/BEGIN pair. When the running thread does change, the previous
// slice is closed (on both the CPU's virtual track and the outgoing
// thread's own sched track) before the new one opens, and both the new
// CPU slice and the new thread-local "running:cpu<cpu>" slice carry the
// cpu's flow id so a viewer can correlate the two timelines.
func (c *Converter) onThreadStartedRunning(tid identity.TID, cpu identity.CPUID, tsNS uint64) error {
	packets, cpuUUID, flowID := c.reg.EnsureCPU(cpu)
	for _, p := range packets {
		if err := c.emit.Descriptor(p); err != nil {
			return err
		}
	}

	meta := c.reg.ThreadOf(tid)
	newName := fmt.Sprintf("%s %d", meta.Name, tid)
	flowIDs := []uint64{uint64(flowID)}

	prev := c.cpuRun[cpu]
	if prev.open && prev.name == newName {
		return nil
	}

	if prev.open {
		if err := c.emit.Event(perfetto.TracePacket{
			Timestamp:  tsNS,
			TrackEvent: &perfetto.TrackEvent{Type: perfetto.TypeSliceEnd, TrackUUID: uint64(cpuUUID), FlowIDs: flowIDs},
		}); err != nil {
			return err
		}
		prevTrackUUID, err := c.trackUUIDFor(prev.tid, synthslice.TrackSched, tsNS)
		if err != nil {
			return err
		}
		runningName := runningOnCPUSlice(cpu)
		if _, ok := c.slices.End(prev.tid, synthslice.TrackSched, runningName, tsNS); ok {
			if err := c.emit.Event(perfetto.TracePacket{
				Timestamp:  tsNS,
				TrackEvent: &perfetto.TrackEvent{Type: perfetto.TypeSliceEnd, TrackUUID: uint64(prevTrackUUID), FlowIDs: flowIDs},
			}); err != nil {
				return err
			}
		}
	}

	if err := c.emit.Event(perfetto.TracePacket{
		Timestamp:  tsNS,
		TrackEvent: &perfetto.TrackEvent{Type: perfetto.TypeSliceBegin, Name: newName, TrackUUID: uint64(cpuUUID), FlowIDs: flowIDs},
	}); err != nil {
		return err
	}

	threadTrackUUID, err := c.trackUUIDFor(tid, synthslice.TrackSched, tsNS)
	if err != nil {
		return err
	}
	runningName := runningOnCPUSlice(cpu)
	beginTS := c.slices.Begin(tid, synthslice.TrackSched, runningName, tsNS)
	if err := c.emit.Event(perfetto.TracePacket{
		Timestamp:  beginTS,
		TrackEvent: &perfetto.TrackEvent{Type: perfetto.TypeSliceBegin, Name: runningName, TrackUUID: uint64(threadTrackUUID), FlowIDs: flowIDs},
	}); err != nil {
		return err
	}

	c.cpuRun[cpu] = cpuRunState{tid: tid, name: newName, open: true}
	return nil
}
