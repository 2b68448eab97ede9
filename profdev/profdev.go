// Package profdev implements the D_PROF devfs node SPEC_FULL.md §2.2
// names: a pprof-format snapshot of syscall dispatch latency and IRQ
// delivery counts, readable with any standard pprof consumer. The
// teacher has no profiling surface of its own (biscuit's profiling, if
// any, is the patched Go runtime's built-in pprof endpoint, out of
// SPEC_FULL.md's scope); this package is grounded directly on
// github.com/google/pprof/profile's proto-compatible Profile builder,
// the same way the retrieval pack's tooling repos emit profiles for
// offline analysis rather than serving them over net/http/pprof.
package profdev

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/google/pprof/profile"

	"grinch/devfs"
	"grinch/stats"
	"grinch/syscall"
)

// Install wires syscall latency recording into this package and
// registers the D_PROF/D_STAT devfs nodes on fs, so boot need only call
// profdev.Install(fs) once after devfs.New.
func Install(fs *devfs.FS) {
	syscall.RecordLatency = RecordSyscall
	fs.RegisterReader("prof", Snapshot)
	fs.RegisterReader("stat", StatText)
}

// StatText renders stats.Irqs/Nirqs as text for the D_STAT node.
// stats.Nirqs/Irqs are plain counters rather than the Stats/Timing-gated
// Counter_t/Cycles_t fields Stats2String walks by reflection, so this
// package formats them directly instead of routing through
// Stats2String, which would see no matching fields here at all.
func StatText() []byte {
	var buf bytes.Buffer
	buf.WriteString("irqs: ")
	buf.WriteString(itoa(stats.Irqs))
	buf.WriteByte('\n')
	for irq, n := range stats.Nirqs {
		if n == 0 {
			continue
		}
		buf.WriteString(irqName(irq))
		buf.WriteString(": ")
		buf.WriteString(itoa(n))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

var (
	mu       sync.Mutex
	syscalls = map[int]*latency{}
)

type latency struct {
	count int64
	nanos int64
}

// RecordSyscall accumulates one syscall dispatch's elapsed time into the
// per-number latency histogram (spec.md §4.12's dispatch table, keyed the
// same way syscall.table is).
func RecordSyscall(num int, d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	l, ok := syscalls[num]
	if !ok {
		l = &latency{}
		syscalls[num] = l
	}
	l.count++
	l.nanos += int64(d)
}

// Snapshot renders the current syscall-latency histogram and irqchip's
// stats.Nirqs delivery counts as a gzip-compressed pprof profile
// (two sample types: syscall count/total-nanos, irq count).
func Snapshot() []byte {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "syscalls", Unit: "count"},
			{Type: "cpu", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
		Period:     1,
	}

	mu.Lock()
	nums := make([]int, 0, len(syscalls))
	for n := range syscalls {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	var fid, lid uint64
	for _, n := range nums {
		l := syscalls[n]
		fid++
		fn := &profile.Function{ID: fid, Name: syscallName(n), SystemName: syscallName(n)}
		p.Function = append(p.Function, fn)
		lid++
		loc := &profile.Location{ID: lid, Line: []profile.Line{{Function: fn, Line: int64(n)}}}
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{l.count, l.nanos},
		})
	}
	mu.Unlock()

	for irq, n := range stats.Nirqs {
		if n == 0 {
			continue
		}
		fid++
		fn := &profile.Function{ID: fid, Name: irqName(irq), SystemName: irqName(irq)}
		p.Function = append(p.Function, fn)
		lid++
		loc := &profile.Location{ID: lid, Line: []profile.Line{{Function: fn, Line: int64(irq)}}}
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(n), 0},
		})
	}

	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return nil
	}
	return buf.Bytes()
}

func syscallName(n int) string { return "syscall#" + itoa(n) }
func irqName(n int) string     { return "irq#" + itoa(n) }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
