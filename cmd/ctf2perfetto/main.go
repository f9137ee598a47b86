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
// Binary ctf2perfetto converts a decoded Phoenix-RTOS CTF trace directory
// into a Perfetto trace file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	log "github.com/golang/glog"

	"github.com/phoenix-rtos/phoenix-rtos-hostutils/convert"
	"github.com/phoenix-rtos/phoenix-rtos-hostutils/ctfsource"
	"github.com/phoenix-rtos/phoenix-rtos-hostutils/emitter"
	"github.com/phoenix-rtos/phoenix-rtos-hostutils/perfetto"
	"github.com/phoenix-rtos/phoenix-rtos-hostutils/stringbank"
	"github.com/phoenix-rtos/phoenix-rtos-hostutils/tracecheck"
)

var (
	mergePriorities = flag.Bool("merge_priorities", true, "Parent each thread's prio track directly under its own track rather than under a shared per-process Priorities track.")
	batchSize       = flag.Int("batch_size", 100000, "Number of packets buffered before each write to the output file.")
	verify          = flag.Bool("verify", false, "Validate the produced trace's structural invariants before exiting; a violation is itself a fatal condition and exits non-zero.")
)

const usage = "usage: ctf2perfetto [flags] <ctf_trace_dir> <output_path>\n"

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	ctfDir, outputPath := args[0], args[1]

	reader, err := ctfsource.NewDirReader(ctfDir)
	if err != nil {
		log.Exitf("opening trace directory %q: %v", ctfDir, err)
	}
	defer reader.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		log.Exitf("creating output file %q: %v", outputPath, err)
	}
	defer out.Close()

	names := stringbank.New()
	em := emitter.New(out, *batchSize)
	conv := convert.New(em, convert.Options{MergePriorities: *mergePriorities}, names)

	if err := conv.Run(context.Background(), reader); err != nil {
		log.Exitf("converting trace: %v", err)
	}

	if *verify {
		runVerify(outputPath)
	}
}

// runVerify re-reads the just-written trace file and checks its
// structural invariants. A violation is itself a fatal condition
// (spec §6): it is logged and the process exits non-zero, since a
// converter whose own output fails invariant checking must not be
// reported as a successful run.
func runVerify(outputPath string) {
	b, err := os.ReadFile(outputPath)
	if err != nil {
		log.Exitf("verify: re-reading output file: %v", err)
	}
	trace, err := perfetto.UnmarshalTrace(b)
	if err != nil {
		log.Exitf("verify: decoding written trace: %v", err)
	}
	violations := tracecheck.Verify(trace.Packets)
	if len(violations) == 0 {
		log.Info("verify: no invariant violations found")
		return
	}
	for _, v := range violations {
		log.Error("verify: " + v.String())
	}
	log.Exitf("verify: found %d invariant violation(s)", len(violations))
}
