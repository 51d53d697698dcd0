// Command behave resolves assertion configuration and runs one-off
// behavioral assertions from the shell.
//
//	behave check [-config behave.yaml] [-provider anthropic]
//	behave match -actual "Hi Ada!" -expected "a greeting that uses the name Ada"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	behave "github.com/ahrav/go-behave"
	"github.com/ahrav/go-behave/infrastructure/configsource"
	"github.com/ahrav/go-behave/infrastructure/middleware"
	"github.com/ahrav/go-behave/internal/application"
)

// Exit codes.
const (
	exitOK       = 0
	exitMismatch = 1
	exitError    = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage: behave <command> [flags]

Commands:
  check   resolve and validate the configuration, then print it
  match   assert that -actual behaves as -expected describes

Run "behave <command> -h" for the flags of a command.
`)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitError
	}
	switch args[0] {
	case "check":
		return runCheck(args[1:], stdout, stderr)
	case "match":
		return runMatch(ctx, args[1:], stdout, stderr)
	case "-h", "-help", "--help", "help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "behave: unknown command %q\n", args[0])
		usage(stderr)
		return exitError
	}
}

// commonFlags are the configuration flags shared by every command. Unset
// flags fall through to the config file, the environment and .env.
type commonFlags struct {
	configFile  string
	provider    string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	timeout     float64
	rateLimit   bool
	rps         string
	retry       bool
	verbose     bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configFile, "config", "", "YAML config file consulted after the environment")
	fs.StringVar(&c.provider, "provider", "", "LLM provider (openai or anthropic)")
	fs.StringVar(&c.model, "model", "", "model name")
	fs.StringVar(&c.baseURL, "base-url", "", "provider endpoint override")
	fs.Float64Var(&c.temperature, "temperature", 0, "sampling temperature in [0, 1]")
	fs.IntVar(&c.maxTokens, "max-tokens", 0, "maximum reply tokens")
	fs.Float64Var(&c.timeout, "timeout", 0, "request timeout in seconds")
	fs.BoolVar(&c.rateLimit, "rate-limit", false, "enable the token-bucket rate limiter")
	fs.StringVar(&c.rps, "rps", "", "rate limiter requests per second")
	fs.BoolVar(&c.retry, "retry", false, "retry failed requests")
	fs.BoolVar(&c.verbose, "v", false, "debug logging")
}

// options turns the flags into behave options. Only flags given on the
// command line become explicit settings.
func (c *commonFlags) options(fs *flag.FlagSet, logger *slog.Logger) (behave.Options, error) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	s := behave.Settings{
		Provider:       c.provider,
		Model:          c.model,
		BaseURL:        c.baseURL,
		UseRateLimiter: c.rateLimit,
	}
	if set["temperature"] {
		s.Temperature = &c.temperature
	}
	if set["max-tokens"] {
		s.MaxTokens = &c.maxTokens
	}
	if set["timeout"] {
		s.Timeout = &c.timeout
	}
	if set["rps"] {
		in := behave.StringInput(c.rps)
		s.RequestsPerSecond = &in
	}
	if set["retry"] {
		s.WithRetry = &c.retry
	}

	src := configsource.Default(logger)
	if c.configFile != "" {
		file, err := configsource.YAMLFile(c.configFile)
		if err != nil {
			return behave.Options{}, err
		}
		// environment > config file > .env
		src = configsource.Chain{configsource.Environ(), file, src}
	}

	return behave.Options{Settings: s, ConfigSource: src, Logger: logger}, nil
}

func parseExit(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	return exitError
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02 15:04:05",
	}))
}

// checkReport is the document printed by the check command.
type checkReport struct {
	Provider    string            `yaml:"provider"`
	Model       string            `yaml:"model"`
	APIKey      string            `yaml:"api_key"`
	Temperature float64           `yaml:"temperature"`
	MaxTokens   int               `yaml:"max_tokens"`
	MaxRetries  int               `yaml:"max_retries"`
	Timeout     float64           `yaml:"timeout"`
	BaseURL     string            `yaml:"base_url,omitempty"`
	RateLimiter *rateLimiterDoc   `yaml:"rate_limiter,omitempty"`
	Retry       *retryDoc         `yaml:"retry,omitempty"`
	Origins     map[string]string `yaml:"origins"`
}

type rateLimiterDoc struct {
	RequestsPerSecond  float64 `yaml:"requests_per_second"`
	CheckEveryNSeconds float64 `yaml:"check_every_n_seconds"`
	MaxBucketSize      int     `yaml:"max_bucket_size"`
}

type retryDoc struct {
	ErrorTypes            []string `yaml:"retry_if_error_types"`
	WaitExponentialJitter bool     `yaml:"wait_exponential_jitter"`
	StopAfterAttempt      int      `yaml:"stop_after_attempt"`
}

func newCheckReport(r behave.Resolved) checkReport {
	rep := checkReport{
		Provider:    r.LLM.Provider.String(),
		Model:       r.LLM.Model,
		APIKey:      application.RedactKey(r.LLM.APIKey),
		Temperature: r.LLM.Temperature,
		MaxTokens:   r.LLM.MaxTokens,
		MaxRetries:  r.LLM.MaxRetries,
		Timeout:     r.LLM.Timeout,
		BaseURL:     r.LLM.BaseURL,
		Origins:     make(map[string]string, len(r.Origins)),
	}
	if rl := r.RateLimiter; rl != nil {
		rep.RateLimiter = &rateLimiterDoc{
			RequestsPerSecond:  rl.RequestsPerSecond,
			CheckEveryNSeconds: rl.CheckEveryNSeconds,
			MaxBucketSize:      rl.MaxBucketSize,
		}
	}
	if rc := r.Retry; rc != nil {
		doc := &retryDoc{
			WaitExponentialJitter: rc.WaitExponentialJitter,
			StopAfterAttempt:      rc.StopAfterAttempt,
		}
		for _, t := range rc.RetryIfErrorTypes {
			doc.ErrorTypes = append(doc.ErrorTypes, t.String())
		}
		rep.Retry = doc
	}
	for field, origin := range r.Origins {
		rep.Origins[field] = string(origin)
	}
	return rep
}

func runCheck(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var flags commonFlags
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return parseExit(err)
	}

	logger := newLogger(stderr, flags.verbose)
	opts, err := flags.options(fs, logger)
	if err != nil {
		logger.Error("load config", "error", err)
		return exitError
	}

	resolved, err := behave.ResolveConfig(opts)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(newCheckReport(resolved)); err != nil {
		logger.Error("write report", "error", err)
		return exitError
	}
	if err := enc.Close(); err != nil {
		return exitError
	}
	return exitOK
}

func runMatch(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("match", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var flags commonFlags
	flags.register(fs)
	var (
		actual      = fs.String("actual", "", "actual output; - reads it from stdin")
		expected    = fs.String("expected", "", "description of the expected behavior")
		metricsFile = fs.String("metrics-file", "", "write Prometheus metrics to this file after the run")
	)
	if err := fs.Parse(args); err != nil {
		return parseExit(err)
	}
	if *expected == "" {
		fmt.Fprintln(stderr, "behave: -expected is required")
		return exitError
	}

	logger := newLogger(stderr, flags.verbose)
	opts, err := flags.options(fs, logger)
	if err != nil {
		logger.Error("load config", "error", err)
		return exitError
	}

	text := *actual
	if text == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("read stdin", "error", err)
			return exitError
		}
		text = strings.TrimRight(string(data), "\n")
	}

	var reg *prometheus.Registry
	if *metricsFile != "" {
		reg = prometheus.NewRegistry()
		opts.Metrics = middleware.NewPrometheusMetrics(reg)
	}

	a, err := behave.New(opts)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	start := time.Now()
	err = a.AssertBehavioralMatch(ctx, text, *expected)
	logger.Debug("assertion done", "duration", time.Since(start))

	if reg != nil {
		if werr := prometheus.WriteToTextfile(*metricsFile, reg); werr != nil {
			logger.Error("write metrics", "path", *metricsFile, "error", werr)
		}
	}

	var failed *behave.BehavioralAssertionError
	switch {
	case err == nil:
		fmt.Fprintln(stdout, "PASS")
		return exitOK
	case errors.As(err, &failed):
		fmt.Fprintf(stdout, "FAIL: %s\n", failed.Reason)
		return exitMismatch
	default:
		fmt.Fprintln(stderr, err)
		return exitError
	}
}
