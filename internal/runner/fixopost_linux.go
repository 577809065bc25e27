//go:build linux

package runner

import "golang.org/x/sys/unix"

// fixOutputProcessing turns OPOST back on after term.MakeRaw so progress
// redraws and result lines keep their \r\n translation.
func fixOutputProcessing(fd int) {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return
	}
	t.Oflag |= unix.OPOST
	_ = unix.IoctlSetTermios(fd, unix.TCSETS, t)
}
