// Command watchrun watches files and directories for changes and runs a
// shell command on each change, substituting the changed path for every
// literal "{}" token. Configuration comes from flags, an optional JSON or
// YAML config file, or both (flags win). It exits cleanly on SIGINT or
// SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/watchrun/watchrun/internal/api"
	"github.com/watchrun/watchrun/internal/config"
	"github.com/watchrun/watchrun/internal/console"
	"github.com/watchrun/watchrun/internal/journal"
	"github.com/watchrun/watchrun/internal/runner"
	"github.com/watchrun/watchrun/internal/watcher"
)

const version = "0.3.0"

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		watchPaths  stringList
		ignores     stringList
		configPath  = flag.String("config", "", "path to a JSON or YAML config file")
		verbose     = flag.Bool("verbose", false, "enable per-event diagnostic logging")
		clearScreen = flag.Bool("clear", false, "clear the console before each command run")
		recursive   = flag.Bool("recursive", true, "watch directory targets with their whole subtree")
		debounce    = flag.Duration("debounce", 0, "duplicate-suppression window (default 100ms)")
		journalPath = flag.String("journal", "", "record run history in the SQLite database at this path")
		statusAddr  = flag.String("status-addr", "", "serve the local status API on this address (e.g. 127.0.0.1:9400)")
		logLevel    = flag.String("log-level", "", "minimum log level: debug, info, warn, error")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Var(&watchPaths, "w", "path to watch (repeatable)")
	flag.Var(&ignores, "ignore", "glob pattern to ignore, e.g. '**/node_modules/**' (repeatable)")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("watchrun %s\n", version)
		return 0
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "watchrun: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	// Flags override config file values.
	if len(watchPaths) > 0 {
		cfg.WatchFiles = watchPaths
	}
	if args := flag.Args(); len(args) > 0 {
		cfg.Command = args
	}
	if len(ignores) > 0 {
		cfg.Ignore = append(cfg.Ignore, ignores...)
	}
	if *verbose {
		cfg.IsVerbose = true
	}
	if *clearScreen {
		cfg.IsClearConsole = true
	}
	if *debounce > 0 {
		cfg.DebounceMs = int(debounce.Milliseconds())
	}
	if *journalPath != "" {
		cfg.JournalFile = *journalPath
	}
	if *statusAddr != "" {
		cfg.StatusAddr = *statusAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	recurse := *recursive && cfg.IsRecursive()

	if len(cfg.WatchFiles) == 0 {
		fmt.Fprintln(os.Stderr, "watchrun: no watch paths given (use -w or watchFiles in the config)")
		flag.Usage()
		return 2
	}
	if len(cfg.Command) == 0 {
		fmt.Fprintln(os.Stderr, "watchrun: no command given")
		flag.Usage()
		return 2
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	cmdRunner, err := runner.New(cfg.Command, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watchrun: %v\n", err)
		return 1
	}

	var jrnl *journal.Journal
	if cfg.JournalFile != "" {
		jrnl, err = journal.Open(cfg.JournalFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "watchrun: %v\n", err)
			return 1
		}
		defer jrnl.Close()
	}

	engine, err := watcher.New(
		watcher.WithLogger(logger),
		watcher.WithDebounce(cfg.Debounce()),
		watcher.WithIgnore(cfg.Ignore),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watchrun: %v\n", err)
		return 1
	}
	defer engine.Dispose()
	engine.SetVerbose(cfg.IsVerbose)

	if err := engine.AddFilepaths(cfg.WatchFiles, recurse); err != nil {
		fmt.Fprintf(os.Stderr, "watchrun: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var status *api.Server
	if cfg.StatusAddr != "" {
		status = api.NewServer(jrnl, logger)
		status.SetWatchCount(len(engine.WatchedPaths()))
		go func() {
			logger.Info("status server listening", slog.String("addr", cfg.StatusAddr))
			if err := status.ListenAndServe(ctx, cfg.StatusAddr); err != nil {
				logger.Error("status server error", slog.Any("error", err))
			}
		}()
	}

	logger.Info("watching",
		slog.Int("paths", len(engine.WatchedPaths())),
		slog.Bool("recursive", recurse),
		slog.String("command", cmdRunner.CommandLine()),
	)

	callback := func(ev watcher.FileChangeEvent) {
		if cfg.IsClearConsole {
			console.Clear(os.Stdout)
		}
		fmt.Println(console.Dim(fmt.Sprintf("%s  %s %s",
			ev.Timestamp.Format(time.TimeOnly), ev.EventType, ev.FilePath)))

		exitCode, runErr := cmdRunner.Run(ctx, ev.FilePath)
		switch {
		case runErr != nil:
			fmt.Println(console.Fail(runErr.Error()))
		case exitCode != 0:
			fmt.Println(console.Warn(fmt.Sprintf("command exited with code %d", exitCode)))
		default:
			fmt.Println(console.OK("command completed"))
		}

		if status != nil {
			status.ObserveEvent(ev)
			status.SetWatchCount(len(engine.WatchedPaths()))
		}
		if jrnl != nil {
			if err := jrnl.Record(ctx, ev, cmdRunner.CommandLine(), exitCode); err != nil {
				logger.Warn("journal write failed", slog.Any("error", err))
			}
		}
	}

	if err := engine.Run(callback); err != nil {
		logger.Error("watch loop failed", slog.Any("error", err))
		return 1
	}

	logger.Info("watchrun exited cleanly")
	return 0
}

// usage prints the flag summary plus the positional-argument form.
func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: watchrun [flags] [--] command [args...]

Runs command each time a watched path changes. Every literal {} in the
command is replaced with the changed path.

Examples:
  watchrun -w src -ignore '**/*.tmp' -- make test
  watchrun -w main.go -clear go run {}

Flags:
`)
	flag.PrintDefaults()
}

// newLogger constructs a *slog.Logger that writes JSON-structured log records
// to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
