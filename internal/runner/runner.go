package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/maxvaer/pathhunter/internal/config"
	"github.com/maxvaer/pathhunter/internal/engine"
	"github.com/maxvaer/pathhunter/internal/hook"
	"github.com/maxvaer/pathhunter/internal/metrics"
	"github.com/maxvaer/pathhunter/internal/output"
	"github.com/maxvaer/pathhunter/internal/scanner"
	"github.com/maxvaer/pathhunter/internal/wordlist"
	"github.com/maxvaer/pathhunter/pkg/version"
)

// Run executes the full scan pipeline. Multiple targets (-u plus -l) are
// scanned one after another, each in its own session.
func Run(ctx context.Context, opts *config.Options) error {
	targets, err := resolveTargets(opts)
	if err != nil {
		return err
	}

	if len(opts.Wordlists) == 0 {
		opts.Wordlists = []wordlist.Source{wordlist.Embedded()}
	}

	logger := newLogger(opts)
	eng := engine.New(logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.Timeout+time.Second)
		defer cancel()
		_ = eng.Close(closeCtx)
	}()

	if opts.MetricsAddr != "" {
		ms, err := metrics.Serve(opts.MetricsAddr, eng, logger)
		if err != nil {
			return err
		}
		if !opts.Quiet {
			fmt.Fprintf(os.Stderr, "[*] Metrics at %s\n", ms.URL())
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			_ = ms.Close(closeCtx)
		}()
	}

	pauser, cleanup := startStdinToggle(opts.Quiet)
	defer cleanup()

	out, err := output.New(opts)
	if err != nil {
		return err
	}
	defer out.Close()

	if err := out.WriteHeader(); err != nil {
		return err
	}

	var summary output.Summary
	for idx, target := range targets {
		if ctx.Err() != nil {
			break
		}
		if len(targets) > 1 && !opts.Quiet {
			fmt.Fprintf(os.Stderr, "\n[*] Target %d/%d: %s\n", idx+1, len(targets), target)
		}
		opts.URL = target

		p, err := runSingleTarget(ctx, eng, opts, out, pauser)
		if p.State.Terminal() {
			summary.Add(p)
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if isFatal(err) {
				return err
			}
			fmt.Fprintf(os.Stderr, "[!] Error scanning %s: %v\n", target, err)
		}
	}

	// Interrupted scans still get a footer so partial reports stay valid.
	if err := out.WriteFooter(summary); err != nil {
		return err
	}
	return ctx.Err()
}

var errOutput = errors.New("writing output")

// isFatal reports errors that would repeat for every target.
func isFatal(err error) bool {
	return errors.Is(err, config.ErrInvalidConfiguration) ||
		errors.Is(err, wordlist.ErrSourceUnreadable) ||
		errors.Is(err, wordlist.ErrEmptyWordlist) ||
		errors.Is(err, errOutput)
}

func runSingleTarget(
	ctx context.Context,
	eng *engine.Engine,
	opts *config.Options,
	out output.Writer,
	pauser *scanner.Pauser,
) (engine.Progress, error) {
	_, s, err := eng.Create(*opts, engine.WithPauser(pauser))
	if err != nil {
		return engine.Progress{}, err
	}

	findings := s.Subscribe()

	hookDone := closedChan()
	if opts.OnResultCmd != "" {
		hookDone = hook.NewRunner(opts.OnResultCmd, opts.Quiet).Follow(s.Subscribe())
	}

	if !opts.Quiet {
		printBanner(opts, s.Total())
		if opts.SmartFilter {
			fmt.Fprintf(os.Stderr, "[*] Calibrating smart filter against %s ...\n", opts.URL)
		}
	}

	if err := s.Start(ctx); err != nil {
		<-hookDone
		return s.Progress(), err
	}

	var paused func() bool
	if pauser != nil {
		paused = pauser.IsPaused
	}
	progress := output.NewProgress(s, paused, opts.Quiet)
	progress.Start()

	var writeErr error
	for f := range findings {
		if writeErr != nil {
			continue
		}
		progress.ClearLine()
		if err := out.WriteFinding(&f); err != nil {
			writeErr = fmt.Errorf("%w: %v", errOutput, err)
			s.Cancel()
		}
		progress.Redraw()
	}

	progress.Stop()
	<-hookDone

	p := s.Progress()
	if opts.Tree && !opts.Quiet {
		output.PrintTree(os.Stderr, opts.URL, s.Findings())
	}

	switch {
	case writeErr != nil:
		return p, writeErr
	case p.State == engine.StateFailed:
		return p, p.Err
	case p.State == engine.StateCancelled && ctx.Err() != nil:
		return p, ctx.Err()
	}
	return p, nil
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// newLogger builds the engine logger. The CLI's own status lines cover the
// normal flow, so the engine only speaks up for warnings unless -v is set.
func newLogger(opts *config.Options) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// resolveTargets builds the list of URLs to scan from -u and -l.
func resolveTargets(opts *config.Options) ([]string, error) {
	var targets []string

	if opts.URL != "" {
		targets = append(targets, normalizeTarget(opts.URL))
	}

	if opts.URLsFile != "" {
		f, err := os.Open(opts.URLsFile)
		if err != nil {
			return nil, fmt.Errorf("opening URLs file: %w", err)
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line != "" && !strings.HasPrefix(line, "#") {
				targets = append(targets, normalizeTarget(line))
			}
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("reading URLs file: %w", err)
		}
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no targets specified (-u or -l)", config.ErrInvalidConfiguration)
	}
	return targets, nil
}

func normalizeTarget(target string) string {
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return "http://" + target
	}
	return target
}

func printBanner(opts *config.Options, candidates int) {
	cyan := color.New(color.FgCyan)
	white := color.New(color.FgHiWhite)
	dim := color.New(color.Faint)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	if opts.NoColor {
		for _, c := range []*color.Color{cyan, white, dim, green, red, yellow} {
			c.DisableColor()
		}
	}

	w := os.Stderr
	fmt.Fprintln(w)
	cyan.Fprintln(w, "    ┌─┐┌─┐┌┬┐┬ ┬┬ ┬┬ ┬┌┐┌┌┬┐┌─┐┬─┐")
	cyan.Fprintln(w, "    ├─┘├─┤ │ ├─┤├─┤│ ││││ │ ├┤ ├┬┘")
	cyan.Fprint(w, "    ┴  ┴ ┴ ┴ ┴ ┴┴ ┴└─┘┘└┘ ┴ └─┘┴└─")
	dim.Fprintf(w, "  v%s\n", version.Version)
	white.Fprintln(w, "    Web Path Scanner")
	fmt.Fprintln(w)

	onOff := func(on bool) string {
		if on {
			return green.Sprint("ON")
		}
		return red.Sprint("OFF")
	}
	row := func(label string, value string) {
		fmt.Fprintf(w, "  %s %s\n", dim.Sprintf("%-14s", label+":"), value)
	}

	dim.Fprintln(w, "  ──────────────────────────────────────")
	row("Target", white.Sprint(opts.URL))
	row("Threads", yellow.Sprint(opts.Threads))
	row("Candidates", white.Sprint(candidates))
	if len(opts.Extensions) > 0 {
		row("Extensions", white.Sprint(strings.Join(opts.Extensions, ", ")))
	}
	if opts.Encodings != 0 {
		row("Encodings", white.Sprint(opts.Encodings))
	}
	if opts.Method != "" && !strings.EqualFold(opts.Method, "GET") {
		row("Method", white.Sprint(strings.ToUpper(opts.Method)))
	}
	if opts.RateLimit > 0 {
		row("Rate limit", yellow.Sprintf("%d req/s", opts.RateLimit))
	}
	row("Fuzz", onOff(opts.Fuzz))
	row("Smart filter", onOff(opts.SmartFilter))
	dim.Fprintln(w, "  ──────────────────────────────────────")
	fmt.Fprintln(w)
}
