// Package stats implements the lightweight, compile-time-toggled counters
// the teacher scatters through hot paths (IRQ counts, cycle timings).
// Grinch keeps the same on/off-at-compile-time shape but swaps the
// teacher's runtime.Rdtsc() (available only because biscuit's Go runtime
// is itself patched for bare metal) for a portable monotonic clock reading,
// since Grinch's core has no such runtime fork to lean on.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Stats and Timing gate whether counters actually accumulate; flipping
// them to true costs an atomic add per increment, same tradeoff the
// teacher makes.
const Stats = false
const Timing = false

// Nirqs counts deliveries per IRQ source; Irqs is the running total.
// Indexed by the irqchip source number (spec.md §4.5).
var Nirqs [128]int
var Irqs int

// Nowns returns a monotonic nanosecond timestamp usable as a cycle-count
// surrogate when Timing is enabled.
func Nowns() uint64 {
	if Timing {
		return uint64(time.Now().UnixNano())
	}
	return 0
}

// Counter_t is a statistical counter.
type Counter_t int64

// Cycles_t holds an elapsed-time accumulator, in nanoseconds.
type Cycles_t int64

// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		atomic.AddInt64((*int64)(c), 1)
	}
}

// Add adds the elapsed time since mark (an earlier Nowns() reading) to the
// accumulator.
func (c *Cycles_t) Add(mark uint64) {
	if Timing {
		atomic.AddInt64((*int64)(c), int64(Nowns()-mark))
	}
}

// Stats2String renders every Counter_t/Cycles_t field of st as text, for
// the D_STAT devfs node (spec.md §6).
func Stats2String(st interface{}) string {
	if !Stats && !Timing {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}
