package cmd

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/maxvaer/pathhunter/internal/config"
	"github.com/maxvaer/pathhunter/internal/reqparse"
	"github.com/maxvaer/pathhunter/internal/runner"
	"github.com/maxvaer/pathhunter/internal/wordlist"
	"github.com/maxvaer/pathhunter/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	opts          = config.Defaults()
	wordlistPaths []string
	encodingNames []string
	headerValues  []string
	requestFile   string
)

type flagGroup struct {
	title string
	flags []string
}

var helpGroups = []flagGroup{
	{"TARGET", []string{"url", "urls-file", "request-file", "wordlist", "extensions"}},
	{"CANDIDATES", []string{"encode", "fuzz", "fuzz-patterns"}},
	{"MATCHERS", []string{"include-status", "interesting"}},
	{"FILTERS", []string{"exclude-status", "exclude-size", "smart-filter", "smart-filter-threshold"}},
	{"RATE-LIMIT", []string{"threads", "timeout", "delay", "rate-limit", "adaptive-throttle"}},
	{"HTTP", []string{"method", "header", "user-agent", "proxy", "follow-redirects"}},
	{"OUTPUT", []string{"output", "format", "sort", "quiet", "no-color", "tree", "verbose"}},
	{"INTEGRATIONS", []string{"on-result", "metrics-addr"}},
}

var rootCmd = &cobra.Command{
	Use:     "pathhunter -u <url> [flags]",
	Short:   "Concurrent web path discovery with soft-404 detection",
	Version: version.Version,
	Long: `pathhunter probes a web server for hidden paths and files. Candidates are
built from wordlists, extensions, encodings and traversal fuzz patterns,
and pages that answer every request with the same "not found" body are
filtered out automatically.`,
	Example: `  pathhunter -u https://example.com
  pathhunter -u https://example.com -e php,html -t 25
  pathhunter -u https://example.com -w small.txt -w extra.txt --encode url,null-byte
  pathhunter -u https://example.com --fuzz --interesting
  pathhunter -u https://example.com -x 403,500 -o results.json --format json --sort status
  pathhunter -l urls.txt --rate-limit 50
  pathhunter -r burp-request.txt -e php
  pathhunter -u https://example.com --metrics-addr 127.0.0.1:9090
  pathhunter -u https://example.com --on-result "notify-send {url}"`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if requestFile != "" {
			tmpl, err := reqparse.ParseFile(requestFile)
			if err != nil {
				return err
			}
			mergeRequestTemplate(&opts, tmpl, cmd.Flags().Changed)
		}
		if opts.URL == "" && opts.URLsFile == "" {
			_ = cmd.Help()
			fmt.Fprintln(os.Stderr)
			return fmt.Errorf("target required: use -u, -l or -r")
		}
		for _, p := range wordlistPaths {
			opts.Wordlists = append(opts.Wordlists, wordlist.File(p))
		}
		enc, err := config.ParseEncodings(encodingNames)
		if err != nil {
			return err
		}
		opts.Encodings = enc
		switch opts.OutputFormat {
		case "text", "json", "csv":
		default:
			return fmt.Errorf("--format must be one of: text, json, csv")
		}
		if opts.SortBy != "" && opts.SortBy != "status" && opts.SortBy != "path" && opts.SortBy != "size" {
			return fmt.Errorf("--sort must be one of: status, path, size")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runner.Run(ctx, &opts)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.Flags()

	// Target
	f.StringVarP(&opts.URL, "url", "u", "", "Target base URL, no query string (paths are appended)")
	f.StringVarP(&opts.URLsFile, "urls-file", "l", "", "File with one URL per line")
	f.StringVarP(&requestFile, "request-file", "r", "", "Raw HTTP request (e.g. Burp export) to take target, method and headers from")
	f.StringArrayVarP(&wordlistPaths, "wordlist", "w", nil, "Wordlist path, repeatable (default: built-in)")
	f.StringSliceVarP(&opts.Extensions, "extensions", "e", nil, "File extensions to test (e.g. php,html,js)")

	// Candidates
	f.StringSliceVar(&encodingNames, "encode", nil, "Extra encodings per candidate: url, double-url, null-byte")
	f.BoolVar(&opts.Fuzz, "fuzz", false, "Append path traversal fuzz patterns")
	f.StringVar(&opts.FuzzPatterns, "fuzz-patterns", "", "Pattern catalog (.yaml or one per line); implies --fuzz")

	// Performance
	f.IntVarP(&opts.Threads, "threads", "t", opts.Threads,
		fmt.Sprintf("Number of concurrent workers (%d-%d)", config.MinThreads, config.MaxThreads))
	f.DurationVar(&opts.Timeout, "timeout", opts.Timeout, "HTTP request timeout")
	f.DurationVar(&opts.Delay, "delay", 0, "Delay between requests per worker")
	f.IntVar(&opts.RateLimit, "rate-limit", 0, "Maximum requests per second across all workers")
	f.BoolVar(&opts.AdaptiveThrottle, "adaptive-throttle", false, "Auto back-off on 429/rate limits")

	// Smart filter
	f.BoolVar(&opts.SmartFilter, "smart-filter", true, "Enable soft-404 detection")
	f.IntVar(&opts.SmartFilterThreshold, "smart-filter-threshold", opts.SmartFilterThreshold, "Size tolerance in bytes for soft-404 detection")

	// Filtering
	f.VarP(&intSliceValue{target: &opts.IncludeStatus}, "include-status", "i", "Also report these status codes (comma-separated)")
	f.VarP(&intSliceValue{target: &opts.ExcludeStatus}, "exclude-status", "x", "Hide these status codes (comma-separated)")
	f.Var(&intSliceValue{target: &opts.ExcludeSize}, "exclude-size", "Hide responses of these sizes (comma-separated)")
	f.BoolVar(&opts.Interesting, "interesting", false, "Also report 400, 401, 403, 405, 500 and 503")

	// Output
	f.StringVarP(&opts.OutputFile, "output", "o", "", "Output file path")
	f.StringVar(&opts.OutputFormat, "format", opts.OutputFormat, "Output format: text, json, csv")
	f.StringVar(&opts.SortBy, "sort", "", "Sort results: status, path, size (buffers until scan completes)")
	f.BoolVarP(&opts.Quiet, "quiet", "q", false, "Minimal output")
	f.BoolVar(&opts.NoColor, "no-color", false, "Disable colored output")
	f.BoolVar(&opts.Tree, "tree", false, "Print directory tree summary after scan")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "Log engine diagnostics to stderr")

	// HTTP
	f.StringVarP(&opts.Method, "method", "m", opts.Method, "HTTP method for every probe")
	f.StringArrayVarP(&headerValues, "header", "H", nil, "Custom headers (Key: Value)")
	f.StringVar(&opts.UserAgent, "user-agent", "", "Custom User-Agent string")
	f.StringVar(&opts.Proxy, "proxy", "", "HTTP/SOCKS proxy URL")
	f.BoolVar(&opts.FollowRedirects, "follow-redirects", false, "Follow HTTP redirects")

	// Integrations
	f.StringVar(&opts.OnResultCmd, "on-result", "", "Shell command to run for each result (receives JSON on stdin)")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	// Custom help: categorized flags like httpx.
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		w := os.Stderr
		fmt.Fprint(w, helpBanner(cmd.Version))
		fmt.Fprintf(w, "%s\n\nUsage:\n  %s\n", cmd.Long, cmd.UseLine())
		fmt.Fprintf(w, "\nExamples:\n%s\n", cmd.Example)
		fmt.Fprintf(w, "\nFlags:\n")
		for _, g := range helpGroups {
			fmt.Fprintf(w, "\n%s:\n", g.title)
			for _, name := range g.flags {
				if f := cmd.Flags().Lookup(name); f != nil {
					fmt.Fprintln(w, formatFlag(f))
				}
			}
		}
		fmt.Fprintln(w)
	})

	rootCmd.PreRunE = chainPreRun(rootCmd.PreRunE, func(cmd *cobra.Command, args []string) error {
		headers, err := parseHeaders(headerValues)
		if err != nil {
			return err
		}
		opts.Headers = overrideHeaders(opts.Headers, headers)
		return nil
	})
}

// mergeRequestTemplate fills opts from a captured request. Values given on
// the command line win; changed reports whether a flag was set explicitly.
func mergeRequestTemplate(o *config.Options, t *reqparse.Template, changed func(string) bool) {
	if !changed("url") {
		o.URL = t.BaseURL
	}
	if !changed("method") {
		o.Method = t.Method
	}
	if !changed("user-agent") && t.UserAgent != "" {
		o.UserAgent = t.UserAgent
	}
	o.Headers = overrideHeaders(t.Headers, o.Headers)
}

// overrideHeaders returns base with every key of top set on it, matching
// names case-insensitively. base is not modified.
func overrideHeaders(base, top map[string]string) map[string]string {
	if len(base) == 0 {
		return top
	}
	merged := maps.Clone(base)
	for key, val := range top {
		maps.DeleteFunc(merged, func(k, _ string) bool { return strings.EqualFold(k, key) })
		merged[key] = val
	}
	return merged
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// chainPreRun combines two PreRunE functions.
func chainPreRun(first, second func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if first != nil {
			if err := first(cmd, args); err != nil {
				return err
			}
		}
		return second(cmd, args)
	}
}

// parseHeaders turns "Key: Value" pairs into a map. Later values win.
func parseHeaders(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(values))
	for _, h := range values {
		key, val, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid header format %q, expected 'Key: Value'", h)
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	return headers, nil
}

// intSliceValue implements pflag.Value for comma-separated int slices.
type intSliceValue struct {
	target *[]int
}

func (v *intSliceValue) String() string {
	if v.target == nil || len(*v.target) == 0 {
		return ""
	}
	parts := make([]string, len(*v.target))
	for i, val := range *v.target {
		parts[i] = strconv.Itoa(val)
	}
	return strings.Join(parts, ",")
}

func (v *intSliceValue) Set(s string) error {
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", p, err)
		}
		*v.target = append(*v.target, n)
	}
	return nil
}

func (v *intSliceValue) Type() string { return "ints" }

func formatFlag(f *pflag.Flag) string {
	var left string
	if f.Shorthand != "" {
		left = fmt.Sprintf("-%s, --%s", f.Shorthand, f.Name)
	} else {
		left = fmt.Sprintf("    --%s", f.Name)
	}

	if typ := f.Value.Type(); typ != "bool" {
		left += " " + typ
	}

	const col = 36
	if len(left) < col {
		left += strings.Repeat(" ", col-len(left))
	}

	right := f.Usage
	switch def := f.DefValue; def {
	case "", "false", "0", "0s", "[]":
	default:
		right += fmt.Sprintf(" (default %s)", def)
	}

	return "   " + left + right
}

func helpBanner(ver string) string {
	if ver != "dev" && ver != "" && !strings.HasPrefix(ver, "v") {
		ver = "v" + ver
	}
	return fmt.Sprintf(`
    ┌─┐┌─┐┌┬┐┬ ┬┬ ┬┬ ┬┌┐┌┌┬┐┌─┐┬─┐
    ├─┘├─┤ │ ├─┤├─┤│ ││││ │ ├┤ ├┬┘
    ┴  ┴ ┴ ┴ ┴ ┴┴ ┴└─┘┘└┘ ┴ └─┘┴└─  %s

`, ver)
}
