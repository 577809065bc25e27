// Package hook runs a user-supplied shell command for every finding.
package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/maxvaer/pathhunter/internal/scanner"
)

const defaultTimeout = 30 * time.Second

// findingJSON is the JSON payload sent to the hook command via stdin.
type findingJSON struct {
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	Path        string    `json:"path"`
	StatusCode  int       `json:"status"`
	Size        int64     `json:"size"`
	RedirectURL string    `json:"redirect,omitempty"`
	WordCount   int       `json:"words"`
	LineCount   int       `json:"lines"`
	FoundAt     time.Time `json:"found_at"`
}

// Runner executes a shell command for each finding.
type Runner struct {
	cmd     string
	quiet   bool
	timeout time.Duration
	out     io.Writer
}

// NewRunner creates a hook runner. cmd is the shell command to execute.
func NewRunner(cmd string, quiet bool) *Runner {
	return &Runner{cmd: cmd, quiet: quiet, timeout: defaultTimeout, out: os.Stderr}
}

// Follow runs the hook for every finding received on findings, one at a
// time, until the channel is closed. The returned channel is closed after
// the last hook has finished.
func (r *Runner) Follow(findings <-chan scanner.Finding) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for f := range findings {
			r.Run(&f)
		}
	}()
	return done
}

// Run executes the hook command with the finding as JSON on stdin. Errors
// are reported but do not halt the scan.
func (r *Runner) Run(f *scanner.Finding) {
	data, err := json.Marshal(findingJSON{
		Method:      f.Method,
		URL:         f.URL,
		Path:        f.Path,
		StatusCode:  f.StatusCode,
		Size:        f.Size,
		RedirectURL: f.RedirectURL,
		WordCount:   f.WordCount,
		LineCount:   f.LineCount,
		FoundAt:     f.FoundAt,
	})
	if err != nil {
		fmt.Fprintf(r.out, "[hook] marshal error: %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	shell, args := shellCommand()
	cmd := exec.CommandContext(ctx, shell, append(args, r.expand(f))...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stderr = r.out
	cmd.WaitDelay = time.Second

	output, err := cmd.Output()
	if err != nil {
		if !r.quiet {
			fmt.Fprintf(r.out, "[hook] error: %v\n", err)
		}
		return
	}

	if len(output) > 0 && !r.quiet {
		fmt.Fprintf(r.out, "[hook] %s", output)
	}
}

// expand replaces the {url}, {path}, {status}, {size}, {method} and
// {redirect} placeholders in the command.
func (r *Runner) expand(f *scanner.Finding) string {
	return strings.NewReplacer(
		"{url}", f.URL,
		"{path}", f.Path,
		"{status}", strconv.Itoa(f.StatusCode),
		"{size}", strconv.FormatInt(f.Size, 10),
		"{method}", f.Method,
		"{redirect}", f.RedirectURL,
	).Replace(r.cmd)
}

func shellCommand() (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C"}
	}
	return "sh", []string{"-c"}
}
