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

import (
	"bufio"
	"container/heap"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Reader is the interface satisfied by the external CTF-reader
// collaborator this package adapts. Real CTF container decoding is
// delegated to that collaborator and is out of scope here (spec §1
// Non-goals); Reader only requires that events arrive in non-decreasing
// timestamp order, matching the guarantee spec §4.1 places on the real
// source.
type Reader interface {
	// Next returns the next event, or io.EOF when the trace is exhausted.
	// Any other error is fatal: spec §5 treats failure during iteration as
	// unrecoverable.
	Next() (Message, error)
	Close() error
}

// rawEvent is the on-disk shape of one decoded CTF event in a *.jsonl
// stream file. This is the stand-in wire format for "a completed on-disk
// CTF trace directory" (spec §1): the real CTF binary container format is
// explicitly out of scope, and no decoder for it is vendored in this
// repository.
type rawEvent struct {
	Name          string            `json:"name"`
	TimestampUs   uint64            `json:"ts_us"`
	ClockClass    string            `json:"clock_class"`
	FrequencyHz   uint64            `json:"frequency_hz"`
	IntFields     map[string]int64  `json:"int_fields"`
	StringFields  map[string]string `json:"string_fields"`
}

func (r rawEvent) toMessage() Message {
	return NewMessage(r.Name, ClockSnapshot{
		Value:       r.TimestampUs,
		ClockClass:  r.ClockClass,
		FrequencyHz: r.FrequencyHz,
	}, r.IntFields, r.StringFields)
}

// streamDecoder lazily decodes one *.jsonl stream file.
type streamDecoder struct {
	f   *os.File
	dec *json.Decoder
}

func newStreamDecoder(path string) (*streamDecoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &streamDecoder{f: f, dec: json.NewDecoder(bufio.NewReader(f))}, nil
}

func (s *streamDecoder) next() (Message, error) {
	var re rawEvent
	if err := s.dec.Decode(&re); err != nil {
		if err == io.EOF {
			return Message{}, io.EOF
		}
		return Message{}, fmt.Errorf("decoding stream: %w", err)
	}
	return re.toMessage(), nil
}

func (s *streamDecoder) close() error {
	return s.f.Close()
}

// heapItem is one stream's next not-yet-consumed message, for the k-way
// timestamp merge below.
type heapItem struct {
	msg    Message
	stream int
}

type msgHeap []heapItem

func (h msgHeap) Len() int { return len(h) }
func (h msgHeap) Less(i, j int) bool {
	return h[i].msg.Clock.Value < h[j].msg.Clock.Value
}
func (h msgHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *msgHeap) Push(x interface{}) {
	*h = append(*h, x.(heapItem))
}
func (h *msgHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// DirReader is the bundled Reader implementation: it opens every *.jsonl
// file directly under a trace directory (one per CTF stream, mirroring the
// per-CPU file layout traceparser.ParseTrace consumes for ftrace's binary
// ring buffer, adapted here to whole decoded JSON messages rather than
// fixed-width pages) and merges them into one globally timestamp-ordered
// sequence with a k-way heap merge.
type DirReader struct {
	streams []*streamDecoder
	heap    msgHeap
}

// NewDirReader opens every *.jsonl file in dir and returns a Reader that
// merges them in non-decreasing timestamp order.
func NewDirReader(dir string) (*DirReader, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading trace directory %q: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no *.jsonl stream files found under %q", dir)
	}

	dr := &DirReader{}
	for _, p := range paths {
		sd, err := newStreamDecoder(p)
		if err != nil {
			dr.Close()
			return nil, fmt.Errorf("opening stream %q: %w", p, err)
		}
		dr.streams = append(dr.streams, sd)
	}
	for i, sd := range dr.streams {
		msg, err := sd.next()
		if err == io.EOF {
			continue
		}
		if err != nil {
			dr.Close()
			return nil, err
		}
		dr.heap = append(dr.heap, heapItem{msg: msg, stream: i})
	}
	heap.Init(&dr.heap)
	return dr, nil
}

// Next implements Reader.
func (dr *DirReader) Next() (Message, error) {
	if len(dr.heap) == 0 {
		return Message{}, io.EOF
	}
	item := heap.Pop(&dr.heap).(heapItem)
	next, err := dr.streams[item.stream].next()
	if err == nil {
		heap.Push(&dr.heap, heapItem{msg: next, stream: item.stream})
	} else if err != io.EOF {
		return Message{}, err
	}
	return item.msg, nil
}

// Close implements Reader.
func (dr *DirReader) Close() error {
	var firstErr error
	for _, s := range dr.streams {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
