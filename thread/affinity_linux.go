//go:build linux

package thread

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// maxCPUs is the size of the kernel's default cpu_set_t.
const maxCPUs = 1024

// SetCurrentThreadAffinity pins the calling OS thread to a single core.
// The caller must have locked its goroutine to the thread.
func SetCurrentThreadAffinity(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity(%d): %w", core, err)
	}
	return nil
}

// CurrentThreadAffinity returns the cores the calling OS thread may run on.
func CurrentThreadAffinity() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("sched_getaffinity: %w", err)
	}
	cores := make([]int, 0, set.Count())
	for i := 0; i < maxCPUs && len(cores) < set.Count(); i++ {
		if set.IsSet(i) {
			cores = append(cores, i)
		}
	}
	return cores, nil
}

// AffinitySupported reports whether pinning is implemented on this platform.
func AffinitySupported() bool { return true }
