// Package affinity pins a goroutine's OS thread to a single CPU core,
// so a simulated per-CPU dispatch loop actually runs on the CPU its
// PerCPUContext claims to represent.
package affinity

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin locks the calling goroutine to its current OS thread and sets
// that thread's CPU affinity mask to exactly cpu. It returns an
// unpin function that restores the thread to the full affinity mask
// and unlocks the goroutine; callers should defer it.
//
// Pin must be called from the goroutine that will run the per-CPU
// loop, before any work on that loop begins -- matching the teacher's
// ioLoop, which pins before its first kernel command is submitted.
// Affinity failures are not fatal (a container or restrictive cgroup
// may forbid it); the loop still runs, just without the pin.
func Pin(cpu int) (unpin func(), err error) {
	runtime.LockOSThread()

	var mask unix.CPUSet
	mask.Set(cpu)
	setErr := unix.SchedSetaffinity(0, &mask)

	return func() {
		var full unix.CPUSet
		for i := 0; i < runtime.NumCPU(); i++ {
			full.Set(i)
		}
		_ = unix.SchedSetaffinity(0, &full)
		runtime.UnlockOSThread()
	}, setErr
}
