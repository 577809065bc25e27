//go:build !windows

package runner

import "golang.org/x/sys/unix"

// sendInterrupt raises SIGINT against ourselves so signal.NotifyContext sees it.
func sendInterrupt() {
	_ = unix.Kill(unix.Getpid(), unix.SIGINT)
}
