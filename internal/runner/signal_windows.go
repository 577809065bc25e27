//go:build windows

package runner

import "golang.org/x/sys/windows"

// sendInterrupt raises CTRL_C_EVENT for the current console process group.
func sendInterrupt() {
	_ = windows.GenerateConsoleCtrlEvent(windows.CTRL_C_EVENT, 0)
}
