// Package main is the pingback command line client: initialize a widget,
// inspect its remote configuration, and submit feedback from the terminal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dshills/pingback"
	"github.com/dshills/pingback/internal/logging"
	"github.com/dshills/pingback/internal/watch"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

type cliOptions struct {
	optionsPath string
	widgetID    string
	baseURL     string
	sessionDir  string
	message     string
	sentiment   string
	metadata    metadataFlag
	watchFile   bool
	debug       bool
	logLevel    string
}

// metadataFlag collects repeated -meta key=value pairs.
type metadataFlag map[string]string

func (m metadataFlag) String() string {
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (m metadataFlag) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok || key == "" {
		return fmt.Errorf("metadata must be key=value, got %q", value)
	}
	m[key] = val
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	cli := parseFlags()

	level := logging.ParseLevel(cli.logLevel)
	logger := logging.New(logging.Config{Level: level, Output: os.Stderr, Prefix: "pingback"})
	if cli.debug {
		logger.SetLevel(logging.LevelDebug)
	}

	opts, err := loadOptions(cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	opts.Logger = logger

	widget, err := pingback.Init(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	defer widget.Destroy()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	readyCtx, readyCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readyCancel()
	if err := widget.WaitUntilReady(readyCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: widget not ready: %v\n", err)
		return 1
	}

	if cli.message != "" {
		return submit(ctx, widget, cli)
	}

	printConfig(widget)

	if cli.watchFile && cli.optionsPath != "" {
		return watchOptions(ctx, widget, cli.optionsPath, logger)
	}
	return 0
}

// loadOptions layers the options file under the command line flags.
func loadOptions(cli cliOptions) (pingback.Options, error) {
	var opts pingback.Options
	if cli.optionsPath != "" {
		loaded, err := pingback.LoadOptions(cli.optionsPath)
		if err != nil {
			return pingback.Options{}, err
		}
		opts = loaded
	}
	if cli.widgetID != "" {
		opts.WidgetID = cli.widgetID
	}
	if cli.baseURL != "" {
		opts.BaseURL = cli.baseURL
	}
	if cli.debug {
		opts.Config.Debug = true
	}
	if cli.sessionDir != "" {
		store, err := pingback.NewFileFingerprintStore(cli.sessionDir)
		if err != nil {
			return pingback.Options{}, fmt.Errorf("session dir %s: %w", cli.sessionDir, err)
		}
		opts.FingerprintStore = store
	}
	if opts.WidgetID == "" {
		return pingback.Options{}, fmt.Errorf("no widget ID: pass -widget or set widget_id in the options file")
	}
	return opts, nil
}

func submit(ctx context.Context, widget *pingback.Widget, cli cliOptions) int {
	message := cli.message
	if message == "-" {
		data, err := readStdin()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: reading stdin: %v\n", err)
			return 1
		}
		message = data
	}

	resp, err := widget.Submit(ctx, pingback.Feedback{
		Message:   message,
		Sentiment: cli.sentiment,
		Metadata:  cli.metadata,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: submit failed: %v\n", err)
		return 1
	}
	fmt.Printf("Feedback accepted: id=%s status=%s\n", resp.ID, resp.Status)
	return 0
}

func readStdin() (string, error) {
	var sb strings.Builder
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	return sb.String(), scanner.Err()
}

func printConfig(widget *pingback.Widget) {
	cfg := widget.RemoteConfig()
	if cfg == nil {
		fmt.Println("No remote configuration available.")
		return
	}
	fmt.Printf("Widget: %s\n", cfg.WidgetID)
	if cfg.Name != "" {
		fmt.Printf("Name: %s\n", cfg.Name)
	}
	fmt.Printf("Sentiment picker: %v\n", cfg.SentimentEnabled)
	for slot, label := range cfg.Labels {
		fmt.Printf("Label %s: %s\n", slot, label)
	}
	for _, field := range cfg.CustomFields {
		required := ""
		if field.Required {
			required = " (required)"
		}
		fmt.Printf("Field %s: %s%s\n", field.Key, field.Type, required)
	}
}

// watchOptions reloads the widget's runtime configuration whenever the
// options file changes, until the context is cancelled.
func watchOptions(ctx context.Context, widget *pingback.Widget, path string, logger *logging.Logger) int {
	fw, err := watch.New(path, watch.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: watching %s: %v\n", path, err)
		return 1
	}
	defer fw.Close()

	fmt.Printf("Watching %s for changes (Ctrl-C to stop)\n", path)
	for {
		select {
		case <-ctx.Done():
			return 0
		case <-fw.Changes():
			opts, err := pingback.LoadOptions(path)
			if err != nil {
				logger.Warn("reload failed: %v", err)
				continue
			}
			widget.SetConfig(opts.Config)
			logger.Info("options reloaded from %s", path)
		}
	}
}

func parseFlags() cliOptions {
	cli := cliOptions{metadata: make(metadataFlag)}
	var showVersion bool

	flag.StringVar(&cli.optionsPath, "config", "", "Path to options file (.toml, .yaml)")
	flag.StringVar(&cli.optionsPath, "c", "", "Path to options file (shorthand)")
	flag.StringVar(&cli.widgetID, "widget", "", "Widget identifier")
	flag.StringVar(&cli.baseURL, "base-url", "", "Service base URL")
	flag.StringVar(&cli.sessionDir, "session-dir", "", "Directory persisting the session fingerprint across runs")
	flag.StringVar(&cli.message, "message", "", "Feedback message to submit ('-' reads stdin)")
	flag.StringVar(&cli.message, "m", "", "Feedback message (shorthand)")
	flag.StringVar(&cli.sentiment, "sentiment", "", "Sentiment: positive, neutral, negative")
	flag.Var(&cli.metadata, "meta", "Metadata key=value (repeatable)")
	flag.BoolVar(&cli.watchFile, "watch", false, "Watch the options file and reload on change")
	flag.BoolVar(&cli.debug, "debug", false, "Enable debug logging")
	flag.StringVar(&cli.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pingback - feedback widget client\n\n")
		fmt.Fprintf(os.Stderr, "Usage: pingback [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pingback -widget wgt_123                      Show widget config\n")
		fmt.Fprintf(os.Stderr, "  pingback -widget wgt_123 -m \"Love it\"         Submit feedback\n")
		fmt.Fprintf(os.Stderr, "  pingback -c pingback.toml -watch              Watch options file\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("pingback %s (%s, sdk %s)\n", version, commit, pingback.Version())
		os.Exit(0)
	}
	return cli
}
