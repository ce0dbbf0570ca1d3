//go:build !linux

package thread

// SetCurrentThreadAffinity is a no-op where pinning is not implemented.
func SetCurrentThreadAffinity(core int) error {
	return nil
}

// CurrentThreadAffinity is not available on this platform.
func CurrentThreadAffinity() ([]int, error) {
	return nil, ErrUnsupported
}

// AffinitySupported reports whether pinning is implemented on this platform.
func AffinitySupported() bool { return false }
