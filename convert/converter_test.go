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
package convert

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/phoenix-rtos/phoenix-rtos-hostutils/ctfsource"
	"github.com/phoenix-rtos/phoenix-rtos-hostutils/emitter"
	"github.com/phoenix-rtos/phoenix-rtos-hostutils/perfetto"
	"github.com/phoenix-rtos/phoenix-rtos-hostutils/stringbank"
	"github.com/phoenix-rtos/phoenix-rtos-hostutils/tracecheck"
)

// fakeReader replays a fixed slice of Messages, implementing
// ctfsource.Reader without needing an on-disk *.jsonl fixture.
type fakeReader struct {
	msgs []ctfsource.Message
	pos  int
}

func (f *fakeReader) Next() (ctfsource.Message, error) {
	if f.pos >= len(f.msgs) {
		return ctfsource.Message{}, io.EOF
	}
	m := f.msgs[f.pos]
	f.pos++
	return m, nil
}

func (f *fakeReader) Close() error { return nil }

func clock(us uint64) ctfsource.ClockSnapshot {
	return ctfsource.ClockSnapshot{Value: us, ClockClass: "monotonic", FrequencyHz: 1_000_000}
}

// sysReadNum is the index of "sys_read" in ctfsource.Syscalls.
var sysReadNum = func() int64 {
	for i, name := range ctfsource.Syscalls {
		if name == "sys_read" {
			return int64(i)
		}
	}
	panic("sys_read not found in ctfsource.Syscalls")
}()

func runConverter(t *testing.T, msgs []ctfsource.Message) perfetto.Trace {
	t.Helper()
	var buf bytes.Buffer
	em := emitter.New(&buf, 100000)
	conv := New(em, Options{MergePriorities: true}, stringbank.New())
	if err := conv.Run(context.Background(), &fakeReader{msgs: msgs}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	trace, err := perfetto.UnmarshalTrace(buf.Bytes())
	if err != nil {
		t.Fatalf("UnmarshalTrace: %v", err)
	}
	return trace
}

func TestConvertBasicSyscallSlice(t *testing.T) {
	msgs := []ctfsource.Message{
		ctfsource.NewMessage("thread_create", clock(1000),
			map[string]int64{"tid": 1, "pid": 100, "prio": 5}, map[string]string{"name": "main"}),
		ctfsource.NewMessage("syscall_enter", clock(1010),
			map[string]int64{"cpu": 0, "tid": 1, "n": sysReadNum}, nil),
		ctfsource.NewMessage("syscall_exit", clock(1020),
			map[string]int64{"cpu": 0, "tid": 1, "n": sysReadNum}, nil),
		ctfsource.NewMessage("thread_end", clock(1030), map[string]int64{"tid": 1}, nil),
	}

	trace := runConverter(t, msgs)
	if violations := tracecheck.Verify(trace.Packets); len(violations) != 0 {
		t.Errorf("converted trace has invariant violations: %v", violations)
	}

	var sawBegin, sawEnd bool
	for _, p := range trace.Packets {
		if p.TrackEvent == nil {
			continue
		}
		switch p.TrackEvent.Type {
		case perfetto.TypeSliceBegin:
			if p.TrackEvent.Name == "syscall:sys_read" {
				sawBegin = true
				if p.Timestamp != 10000 {
					t.Errorf("syscall begin timestamp = %d, want 10000 (10us after base)", p.Timestamp)
				}
			}
		case perfetto.TypeSliceEnd:
			sawEnd = true
		}
	}
	if !sawBegin {
		t.Errorf("expected a syscall:sys_read slice begin in the output")
	}
	if !sawEnd {
		t.Errorf("expected at least one slice end in the output")
	}
}

func TestConvertOrphanEndIsDropped(t *testing.T) {
	msgs := []ctfsource.Message{
		ctfsource.NewMessage("thread_create", clock(1000),
			map[string]int64{"tid": 1, "pid": 100, "prio": 5}, map[string]string{"name": "main"}),
		// An end with no preceding begin: the capture started mid-slice.
		ctfsource.NewMessage("syscall_exit", clock(1010),
			map[string]int64{"cpu": 0, "tid": 1, "n": sysReadNum}, nil),
	}
	trace := runConverter(t, msgs)
	if violations := tracecheck.Verify(trace.Packets); len(violations) != 0 {
		t.Errorf("orphan end should be dropped cleanly, found violations: %v", violations)
	}
	for _, p := range trace.Packets {
		if p.TrackEvent != nil && p.TrackEvent.Type == perfetto.TypeSliceEnd {
			t.Errorf("orphan end should not be emitted, got %+v", p.TrackEvent)
		}
	}
}

func TestConvertThreadEndForceClosesOpenSlices(t *testing.T) {
	msgs := []ctfsource.Message{
		ctfsource.NewMessage("thread_create", clock(1000),
			map[string]int64{"tid": 1, "pid": 100, "prio": 5}, map[string]string{"name": "main"}),
		ctfsource.NewMessage("syscall_enter", clock(1010),
			map[string]int64{"cpu": 0, "tid": 1, "n": sysReadNum}, nil),
		ctfsource.NewMessage("thread_end", clock(1020), map[string]int64{"tid": 1}, nil),
	}
	trace := runConverter(t, msgs)
	if violations := tracecheck.Verify(trace.Packets); len(violations) != 0 {
		t.Errorf("thread_end should force-close any open slice, found violations: %v", violations)
	}
}

func TestConvertLockSetStraddlingSyscallClosesIndependently(t *testing.T) {
	// A lockSet/locked pair that opens and closes entirely inside an outer
	// syscall slice must not be treated as an orphan just because the
	// syscall frame is still open on the same (tid, events) track.
	msgs := []ctfsource.Message{
		ctfsource.NewMessage("thread_create", clock(1000),
			map[string]int64{"tid": 1, "pid": 100, "prio": 5}, map[string]string{"name": "main"}),
		ctfsource.NewMessage("syscall_enter", clock(1010),
			map[string]int64{"cpu": 0, "tid": 1, "n": sysReadNum}, nil),
		ctfsource.NewMessage("lock_set_enter", clock(1020), map[string]int64{"cpu": 0, "tid": 1, "lid": 7}, nil),
		ctfsource.NewMessage("lock_set_exit", clock(1030), map[string]int64{"cpu": 0, "tid": 1, "lid": 7}, nil),
		ctfsource.NewMessage("syscall_exit", clock(1040),
			map[string]int64{"cpu": 0, "tid": 1, "n": sysReadNum}, nil),
	}
	trace := runConverter(t, msgs)
	if violations := tracecheck.Verify(trace.Packets); len(violations) != 0 {
		t.Errorf("nested lockSet inside syscall produced invariant violations: %v", violations)
	}

	var sawLockSetBegin, sawLockSetEnd, sawSyscallEnd bool
	for _, p := range trace.Packets {
		if p.TrackEvent == nil {
			continue
		}
		switch {
		case p.TrackEvent.Type == perfetto.TypeSliceBegin && p.TrackEvent.Name == "lockSet:lock7":
			sawLockSetBegin = true
		case p.TrackEvent.Type == perfetto.TypeSliceEnd && p.Timestamp == 30000:
			sawLockSetEnd = true
		case p.TrackEvent.Type == perfetto.TypeSliceEnd && p.Timestamp == 40000:
			sawSyscallEnd = true
		}
	}
	if !sawLockSetBegin {
		t.Errorf("expected a lockSet:lock7 slice begin in the output")
	}
	if !sawLockSetEnd {
		t.Errorf("expected the inner lockSet slice to close at its own end event, not be dropped as an orphan")
	}
	if !sawSyscallEnd {
		t.Errorf("expected the outer syscall slice to also close once the inner lockSet has closed")
	}
}

func TestConvertLockedSyntheticCarriesLockIDAsFlowID(t *testing.T) {
	msgs := []ctfsource.Message{
		ctfsource.NewMessage("thread_create", clock(1000),
			map[string]int64{"tid": 1, "pid": 100, "prio": 5}, map[string]string{"name": "main"}),
		ctfsource.NewMessage("lock_set_acquired", clock(1010), map[string]int64{"cpu": 0, "tid": 1, "lid": 42}, nil),
		ctfsource.NewMessage("lock_clear", clock(1020), map[string]int64{"cpu": 0, "tid": 1, "lid": 42}, nil),
	}
	trace := runConverter(t, msgs)
	if violations := tracecheck.Verify(trace.Packets); len(violations) != 0 {
		t.Errorf("locked synthetic produced invariant violations: %v", violations)
	}

	var sawFlowID bool
	for _, p := range trace.Packets {
		if p.TrackEvent != nil && p.TrackEvent.Type == perfetto.TypeSliceBegin && p.TrackEvent.Name == "locked:lock42" {
			if len(p.TrackEvent.FlowIDs) != 1 || p.TrackEvent.FlowIDs[0] != 42 {
				t.Errorf("locked begin FlowIDs = %v, want [42]", p.TrackEvent.FlowIDs)
			}
			sawFlowID = true
		}
	}
	if !sawFlowID {
		t.Errorf("expected a locked:lock42 slice begin in the output")
	}
}

func TestConvertCPUAttributionTracksRunningThread(t *testing.T) {
	// S5: two runnable ends on the same CPU for different tids produce one
	// closing of the CPU's prior slice, one opening of the new one, and a
	// running:cpu0 slice on each thread's own sched track carrying the
	// cpu-0 flow id.
	msgs := []ctfsource.Message{
		ctfsource.NewMessage("thread_create", clock(500),
			map[string]int64{"tid": 1, "pid": 100, "prio": 5}, map[string]string{"name": "alpha"}),
		ctfsource.NewMessage("thread_create", clock(500),
			map[string]int64{"tid": 2, "pid": 100, "prio": 5}, map[string]string{"name": "beta"}),
		ctfsource.NewMessage("thread_waking", clock(900), map[string]int64{"cpu": 0, "tid": 1}, nil),
		ctfsource.NewMessage("thread_scheduling", clock(1000), map[string]int64{"cpu": 0, "tid": 1}, nil),
		ctfsource.NewMessage("thread_waking", clock(1900), map[string]int64{"cpu": 0, "tid": 2}, nil),
		ctfsource.NewMessage("thread_scheduling", clock(2000), map[string]int64{"cpu": 0, "tid": 2}, nil),
	}
	trace := runConverter(t, msgs)
	if violations := tracecheck.Verify(trace.Packets); len(violations) != 0 {
		t.Errorf("CPU attribution produced invariant violations: %v", violations)
	}

	var cpuBegins, cpuEnds, runningBegins int
	var sawFlowID bool
	for _, p := range trace.Packets {
		if p.TrackEvent == nil {
			continue
		}
		switch p.TrackEvent.Type {
		case perfetto.TypeSliceBegin:
			if p.TrackEvent.Name == "alpha 1" || p.TrackEvent.Name == "beta 2" {
				cpuBegins++
			}
			if p.TrackEvent.Name == "running:cpu0" {
				runningBegins++
				if len(p.TrackEvent.FlowIDs) == 1 {
					sawFlowID = true
				}
			}
		case perfetto.TypeSliceEnd:
			cpuEnds++
		}
	}
	if cpuBegins != 2 {
		t.Errorf("got %d CPU virtual track slice begins, want 2 (one per thread)", cpuBegins)
	}
	if runningBegins != 2 {
		t.Errorf("got %d running:cpu0 slice begins, want 2 (one per thread's sched track)", runningBegins)
	}
	if !sawFlowID {
		t.Errorf("expected at least one running:cpu0 slice begin to carry the cpu-0 flow id")
	}
	if cpuEnds == 0 {
		t.Errorf("expected at least one slice end from closing alpha's running window when beta starts")
	}
}

func TestConvertRepeatedSchedulingForSameThreadDoesNotChurn(t *testing.T) {
	// Two consecutive thread_scheduling events for the same thread with no
	// intervening other-thread schedule must not emit a spurious
	// zero-duration END/BEGIN pair on the CPU's virtual track.
	msgs := []ctfsource.Message{
		ctfsource.NewMessage("thread_create", clock(500),
			map[string]int64{"tid": 1, "pid": 100, "prio": 5}, map[string]string{"name": "alpha"}),
		ctfsource.NewMessage("thread_waking", clock(900), map[string]int64{"cpu": 0, "tid": 1}, nil),
		ctfsource.NewMessage("thread_scheduling", clock(1000), map[string]int64{"cpu": 0, "tid": 1}, nil),
		ctfsource.NewMessage("thread_waking", clock(1900), map[string]int64{"cpu": 0, "tid": 1}, nil),
		ctfsource.NewMessage("thread_scheduling", clock(2000), map[string]int64{"cpu": 0, "tid": 1}, nil),
	}
	trace := runConverter(t, msgs)
	if violations := tracecheck.Verify(trace.Packets); len(violations) != 0 {
		t.Errorf("repeated scheduling produced invariant violations: %v", violations)
	}

	var cpuBegins, cpuEnds int
	var cpuTrack uint64
	for _, p := range trace.Packets {
		if p.TrackEvent == nil {
			continue
		}
		switch p.TrackEvent.Type {
		case perfetto.TypeSliceBegin:
			if p.TrackEvent.Name == "alpha 1" {
				cpuBegins++
				cpuTrack = p.TrackEvent.TrackUUID
			}
		case perfetto.TypeSliceEnd:
			// Only ends on the CPU's virtual track count; each
			// thread_scheduling still legitimately ends the thread's own
			// runnable slice on its sched track.
			if cpuTrack != 0 && p.TrackEvent.TrackUUID == cpuTrack {
				cpuEnds++
			}
		}
	}
	if cpuBegins != 1 {
		t.Errorf("got %d CPU virtual track slice begins for the unchanged thread, want 1 (no churn)", cpuBegins)
	}
	if cpuEnds != 0 {
		t.Errorf("got %d CPU virtual track slice ends, want 0: repeated scheduling of the same thread should not close/reopen anything", cpuEnds)
	}
}

func TestConvertKernelEventUsesKernelTrack(t *testing.T) {
	msgs := []ctfsource.Message{
		ctfsource.NewMessage("interrupt_enter", clock(1000), map[string]int64{"cpu": 0, "irq": 7}, nil),
		ctfsource.NewMessage("interrupt_exit", clock(1010), map[string]int64{"cpu": 0, "irq": 7}, nil),
	}
	trace := runConverter(t, msgs)
	if violations := tracecheck.Verify(trace.Packets); len(violations) != 0 {
		t.Errorf("kernel interrupt slice produced invariant violations: %v", violations)
	}
	var sawInterrupt bool
	for _, p := range trace.Packets {
		if p.TrackEvent != nil && p.TrackEvent.Name == "interrupt:7" {
			sawInterrupt = true
		}
	}
	if !sawInterrupt {
		t.Errorf("expected an interrupt:7 slice in the output")
	}
}
