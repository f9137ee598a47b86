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
// Package identity assigns and caches stable track uids for processes,
// threads, CPUs, and kernel-per-CPU tracks, and records thread metadata.
// It is the single owner of the converter's uid generator and of every
// tid/pid/cpu-keyed registry: spec §9's "stateful generators disguised as
// methods" note is addressed by making all of that state fields of one
// Registry value rather than package-level maps.
package identity

import (
	"fmt"

	"github.com/phoenix-rtos/phoenix-rtos-hostutils/perfetto"
	"github.com/phoenix-rtos/phoenix-rtos-hostutils/stringbank"
)

// TID identifies a thread. KernelTID denotes "any kernel-mode event";
// UnknownTID is the sentinel used for events referencing a tid never
// announced via thread_create (matching the original Python's
// UNKNOWN_TID = 999999999).
type TID int64

// KernelTID is the distinguished tid for kernel-mode events (spec §3).
const KernelTID TID = -1

// UnknownTID is the sentinel thread events are attributed to when they
// reference a tid that was never announced via thread_create.
const UnknownTID TID = 999999999

// PID identifies a process.
type PID int64

// CPUID identifies a CPU.
type CPUID int64

// UID is a track uid: a monotonically increasing 64-bit integer starting
// at 42 (spec §3), allocated from a single generator owned by a Registry.
type UID uint64

const firstUID UID = 42

// ThreadMeta is the metadata recorded for a thread at thread_create time.
type ThreadMeta struct {
	PID         PID
	Name        string
	Priority    int64
	CreatedAtNS uint64
}

// ThreadTracks holds the four per-thread track uids allocated the first
// time a thread is referenced by a non-meta event (spec §4.3).
type ThreadTracks struct {
	Root   UID
	Sched  UID
	Events UID
	Prio   UID
}

// Registry is the single owner of every tid/pid/cpu-keyed identity table
// and of the uid generator. It is not safe for concurrent use; the
// converter is single-threaded (spec §5).
type Registry struct {
	mergePriorities bool
	names           *stringbank.Bank

	nextUID UID

	threads      map[TID]*ThreadMeta
	threadTracks map[TID]ThreadTracks
	curPriority  map[TID]int64

	pidUID     map[PID]UID
	pidPrioUID map[PID]UID

	cpuVirtualUID map[CPUID]UID
	cpuFlowID     map[CPUID]UID
	kernelCPUUID  map[CPUID]UID

	cpusUID       UID
	kernelUID     UID
	prioritiesUID UID

	warnUnknownThread bool
}

// New returns a Registry. mergePriorities controls whether each thread's
// prio track is parented directly under that thread's root track (true,
// the original source's default) or under a shared per-pid priority
// sub-track of a global "Priorities" parent (false). names is used to
// intern repeated process/thread names; pass stringbank.New() if the
// caller has no shared bank.
func New(mergePriorities bool, names *stringbank.Bank) *Registry {
	return &Registry{
		mergePriorities: mergePriorities,
		names:           names,
		nextUID:         firstUID,
		threads:         make(map[TID]*ThreadMeta),
		threadTracks:    make(map[TID]ThreadTracks),
		curPriority:     make(map[TID]int64),
		pidUID:          make(map[PID]UID),
		pidPrioUID:      make(map[PID]UID),
		cpuVirtualUID:   make(map[CPUID]UID),
		cpuFlowID:       make(map[CPUID]UID),
		kernelCPUUID:    make(map[CPUID]UID),
	}
}

func (r *Registry) allocUID() UID {
	id := r.nextUID
	r.nextUID++
	return id
}

// EmitInitialMetadata emits the one-shot packets spec §3 invariant 4
// requires before any other packet can reference the CPUs/KERNEL/
// Priorities uids: the "CPUs" parent, the "KERNEL" parent, and (if
// mergePriorities is false) the "Priorities" parent. It also registers the
// UNKNOWN pseudo-thread used by ThreadOf's fallback. Must be called
// exactly once, before processing the first event.
func (r *Registry) EmitInitialMetadata() []perfetto.TracePacket {
	var packets []perfetto.TracePacket

	r.cpusUID = r.allocUID()
	packets = append(packets, perfetto.TracePacket{
		TrackDescriptor: &perfetto.TrackDescriptor{UUID: uint64(r.cpusUID), Name: "CPUs"},
	})

	r.kernelUID = r.allocUID()
	packets = append(packets, perfetto.TracePacket{
		TrackDescriptor: &perfetto.TrackDescriptor{UUID: uint64(r.kernelUID), Name: "KERNEL"},
	})

	if !r.mergePriorities {
		r.prioritiesUID = r.allocUID()
		packets = append(packets, perfetto.TracePacket{
			TrackDescriptor: &perfetto.TrackDescriptor{UUID: uint64(r.prioritiesUID), Name: "Priorities"},
		})
	}

	r.threads[UnknownTID] = &ThreadMeta{PID: PID(UnknownTID), Name: "UNKNOWN", Priority: 999}

	return packets
}

// RecordThreadCreate stores the metadata announced by a thread_create
// event. It never emits packets on its own: track descriptors are only
// emitted lazily, the first time the thread is referenced by a
// non-meta event (EnsureThreadTracks).
func (r *Registry) RecordThreadCreate(tid TID, pid PID, name string, prio int64, tsNS uint64) {
	r.threads[tid] = &ThreadMeta{PID: pid, Name: name, Priority: prio, CreatedAtNS: tsNS}
	r.curPriority[tid] = prio
}

// SetPriority updates the cached current priority for tid, used to
// back-fill the first prio counter sample for a thread that has not yet
// had its track descriptors emitted (spec §4.3).
func (r *Registry) SetPriority(tid TID, prio int64) {
	r.curPriority[tid] = prio
}

// CurrentPriority returns the most recently recorded priority for tid.
func (r *Registry) CurrentPriority(tid TID) int64 {
	return r.curPriority[tid]
}

// ThreadOf returns the recorded metadata for tid, falling back to the
// UNKNOWN sentinel (and recording that a warning should be printed at
// end-of-run) if tid was never announced via thread_create.
func (r *Registry) ThreadOf(tid TID) *ThreadMeta {
	if t, ok := r.threads[tid]; ok {
		return t
	}
	r.warnUnknownThread = true
	return r.threads[UnknownTID]
}

// WarnUnknownThread reports whether any event has referenced an
// unregistered tid since construction (spec §7 "recoverable omission").
func (r *Registry) WarnUnknownThread() bool {
	return r.warnUnknownThread
}

// HasThreadTracks reports whether EnsureThreadTracks has already run for
// tid.
func (r *Registry) HasThreadTracks(tid TID) bool {
	_, ok := r.threadTracks[tid]
	return ok
}

// EnsureThreadTracks is idempotent per tid: the first time it is called
// for a given tid it emits, in order, a per-pid process descriptor (only
// if the pid is new), an optional per-pid priority parent (only if
// mergePriorities is false and the pid is new), and the four per-thread
// descriptors (root, sched, events, prio), returning the resulting track
// uids. Later calls for the same tid return the cached uids and no
// packets.
func (r *Registry) EnsureThreadTracks(tid TID) ([]perfetto.TracePacket, ThreadTracks) {
	if tt, ok := r.threadTracks[tid]; ok {
		return nil, tt
	}

	meta := r.ThreadOf(tid)
	var packets []perfetto.TracePacket

	pidUID, pidNew := r.pidUID[meta.PID]
	if !pidNew {
		pidUID = r.allocUID()
		r.pidUID[meta.PID] = pidUID
		packets = append(packets, perfetto.TracePacket{
			TrackDescriptor: &perfetto.TrackDescriptor{
				UUID: uint64(pidUID),
				Process: &perfetto.ProcessDescriptor{
					PID:         int32(meta.PID),
					ProcessName: fmt.Sprintf("'%s'", meta.Name),
				},
			},
		})
		r.names.Intern(meta.Name)

		if !r.mergePriorities {
			pidPrioUID := r.allocUID()
			r.pidPrioUID[meta.PID] = pidPrioUID
			packets = append(packets, perfetto.TracePacket{
				TrackDescriptor: &perfetto.TrackDescriptor{
					UUID:       uint64(pidPrioUID),
					ParentUUID: uint64(r.prioritiesUID),
					Name:       fmt.Sprintf("'%s' %d", meta.Name, meta.PID),
				},
			})
		}
	}

	tt := ThreadTracks{
		Root:   r.allocUID(),
		Sched:  r.allocUID(),
		Events: r.allocUID(),
		Prio:   r.allocUID(),
	}
	packets = append(packets,
		perfetto.TracePacket{TrackDescriptor: &perfetto.TrackDescriptor{
			UUID: uint64(tt.Root),
			Thread: &perfetto.ThreadDescriptor{
				PID: int32(meta.PID),
				TID: int32(tid),
			},
		}},
		perfetto.TracePacket{TrackDescriptor: &perfetto.TrackDescriptor{
			UUID: uint64(tt.Sched), ParentUUID: uint64(tt.Root), Name: "sched",
		}},
		perfetto.TracePacket{TrackDescriptor: &perfetto.TrackDescriptor{
			UUID: uint64(tt.Events), ParentUUID: uint64(tt.Root), Name: "events",
		}},
	)

	prioParent := tt.Root
	if !r.mergePriorities {
		prioParent = r.pidPrioUID[meta.PID]
	}
	packets = append(packets, perfetto.TracePacket{
		TrackDescriptor: &perfetto.TrackDescriptor{
			UUID:       uint64(tt.Prio),
			ParentUUID: uint64(prioParent),
			Name:       "prio",
			Counter:    &perfetto.CounterDescriptor{UnitName: "prio"},
		},
	})

	r.threadTracks[tid] = tt
	return packets, tt
}

// EnsureCPU is idempotent per cpu: on first sight it emits a descriptor
// parented under the global CPUs track and allocates a flow id for
// correlating spans across the CPU and thread timelines.
func (r *Registry) EnsureCPU(cpu CPUID) ([]perfetto.TracePacket, UID, UID) {
	if uid, ok := r.cpuVirtualUID[cpu]; ok {
		return nil, uid, r.cpuFlowID[cpu]
	}
	uid := r.allocUID()
	flow := r.allocUID()
	r.cpuVirtualUID[cpu] = uid
	r.cpuFlowID[cpu] = flow
	packets := []perfetto.TracePacket{{
		TrackDescriptor: &perfetto.TrackDescriptor{
			UUID: uint64(uid), ParentUUID: uint64(r.cpusUID), Name: fmt.Sprintf("CPU %d", cpu),
		},
	}}
	return packets, uid, flow
}

// EnsureKernelCPU is idempotent per cpu: on first sight it emits a
// descriptor parented under the global KERNEL track.
func (r *Registry) EnsureKernelCPU(cpu CPUID) ([]perfetto.TracePacket, UID) {
	if uid, ok := r.kernelCPUUID[cpu]; ok {
		return nil, uid
	}
	uid := r.allocUID()
	r.kernelCPUUID[cpu] = uid
	packets := []perfetto.TracePacket{{
		TrackDescriptor: &perfetto.TrackDescriptor{
			UUID: uint64(uid), ParentUUID: uint64(r.kernelUID), Name: fmt.Sprintf("CPU %d", cpu),
		},
	}}
	return packets, uid
}
