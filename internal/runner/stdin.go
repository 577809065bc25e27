package runner

import (
	"fmt"
	"io"
	"os"

	"github.com/maxvaer/pathhunter/internal/scanner"
	"golang.org/x/term"
)

const keyCtrlC = 0x03

// startStdinToggle puts the terminal in raw mode and lets Enter or Space
// pause and resume every worker of the running session. When stdin is not a
// terminal it returns a nil pauser and a no-op cleanup.
func startStdinToggle(quiet bool) (pauser *scanner.Pauser, cleanup func()) {
	fd := int(os.Stdin.Fd())

	if !term.IsTerminal(fd) {
		return nil, func() {}
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		if !quiet {
			fmt.Fprintf(os.Stderr, "[!] Could not enable raw terminal: %v\n", err)
		}
		return nil, func() {}
	}

	// Raw mode also switches off output processing; only input needs it.
	fixOutputProcessing(fd)

	pauser = scanner.NewPauser()
	restore := func() { _ = term.Restore(fd, oldState) }

	go readKeys(os.Stdin, pauser, statusWriter(quiet), func() {
		// Hand Ctrl+C back to the signal handler with the terminal restored.
		restore()
		sendInterrupt()
	})

	return pauser, restore
}

// readKeys toggles pauser for every Enter or Space read from r until r fails
// or Ctrl+C is pressed, in which case interrupt is called.
func readKeys(r io.Reader, pauser *scanner.Pauser, status io.Writer, interrupt func()) {
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}

		switch buf[0] {
		case keyCtrlC:
			interrupt()
			return
		case '\r', '\n', ' ':
			if pauser.Toggle() {
				fmt.Fprint(status, "\r\033[K[*] Scan PAUSED, press Enter or Space to resume\n")
			} else {
				fmt.Fprint(status, "\r\033[K[*] Scan RESUMED\n")
			}
		}
	}
}

func statusWriter(quiet bool) io.Writer {
	if quiet {
		return io.Discard
	}
	return os.Stderr
}
