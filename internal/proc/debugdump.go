/*************************************************************************
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package proc

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"
)

const (
	cpuProfileSleep = 10 * time.Second
	maxStackSize    = 256 * 1024 * 1024
)

// DumpDebugFiles writes a goroutine stack trace, a heap profile, and a
// short CPU profile into dir. The daemon wires this to SIGUSR1 (see
// ReloadChannel) so an operator can pull a live profile out of a
// running process without restarting it, adapted from the ingester
// tree's debug package.
func DumpDebugFiles(dir string) {
	generateStackTrace(dir)
	generateMemoryProfile(dir)
	generateCPUProfile(dir)
}

func generateStackTrace(dir string) {
	st, err := os.Create(filepath.Join(dir, "stack"))
	if err != nil {
		return
	}
	defer st.Close()

	size := 1024 * 1024
	var buf []byte
	var n int
	for {
		buf = make([]byte, size)
		n = runtime.Stack(buf, true)
		if n < size {
			break
		}
		size *= 2
		if size >= maxStackSize {
			return
		}
	}
	st.Write(buf[:n])
}

func generateMemoryProfile(dir string) {
	mem, err := os.Create(filepath.Join(dir, "mem.prof"))
	if err != nil {
		return
	}
	defer mem.Close()

	membuf := &bytes.Buffer{}
	runtime.GC()
	if err := pprof.WriteHeapProfile(membuf); err == nil {
		mem.Write(membuf.Bytes())
	}
}

func generateCPUProfile(dir string) {
	cpu, err := os.Create(filepath.Join(dir, "cpu.prof"))
	if err != nil {
		return
	}
	defer cpu.Close()

	cpubuf := &bytes.Buffer{}
	if err := pprof.StartCPUProfile(cpubuf); err == nil {
		time.Sleep(cpuProfileSleep)
		pprof.StopCPUProfile()
		cpu.Write(cpubuf.Bytes())
	}
}
