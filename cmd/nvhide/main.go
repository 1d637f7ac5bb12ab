package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nvhide/nvhide/pkg/config"
	"github.com/nvhide/nvhide/pkg/discover"
	"github.com/nvhide/nvhide/pkg/inject"
	"github.com/nvhide/nvhide/pkg/policy"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "-h", "--help", "help":
		usage(os.Stdout)
	case "version":
		fmt.Printf("nvhide %s (commit: %s, built: %s)\n", version, commit, buildDate)
	case "run":
		os.Exit(cmdRun(os.Args[2:]))
	case "status":
		os.Exit(cmdStatus(os.Args[2:]))
	case "ps":
		os.Exit(cmdPs(os.Args[2:]))
	case "attach":
		os.Exit(cmdAttach(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "nvhide: unknown subcommand %q\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

func usage(f *os.File) {
	fmt.Fprint(f, `Usage:
  nvhide run [--] <command> [args...]   launch a command with the GPU hidden
  nvhide status [-exe path] [-watch]    show the verdict and discovered devices
  nvhide ps                             list processes with the shim loaded
  nvhide attach <pid>                   inject the shim into a running process
  nvhide version

Environment:
  NVHIDE_LIBRARY=/path/to/libnvhide.so
  NVHIDE_ALLOWLIST=pat1:pat2:...   (evaluated inside the target process)
  NVHIDE_DENYLIST=pat1:pat2:...    (evaluated inside the target process)
  NVHIDE_DEBUG=1                   (single-line debug records on stderr)

Rule files (evaluated inside the target process):
  $XDG_CONFIG_HOME/nvhide/allowlist (or ~/.config/nvhide/allowlist)
  $XDG_CONFIG_HOME/nvhide/denylist  (or ~/.config/nvhide/denylist)
`)
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) > 0 && rest[0] == "--" {
		rest = rest[1:]
	}
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "nvhide: missing command")
		usage(os.Stderr)
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nvhide: failed to load config: %v\n", err)
		return 1
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nvhide: failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	inj := inject.NewInjector(cfg.Library.Path, logger)
	env, err := inj.ExecEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "nvhide: %v\n", err)
		return 1
	}
	env = mergePatternList(env, policy.EnvAllowlist, cfg.Policy.Allow)
	env = mergePatternList(env, policy.EnvDenylist, cfg.Policy.Deny)

	bin, err := exec.LookPath(rest[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "nvhide: %s: command not found\n", rest[0])
		return 127
	}

	if err := syscall.Exec(bin, rest, env); err != nil {
		fmt.Fprintf(os.Stderr, "nvhide: exec %s failed: %v\n", bin, err)
		return 127
	}
	return 0 // unreachable
}

// mergePatternList appends patterns to an existing KEY=a:b entry, or adds
// the entry when absent. The launcher's own environment stays untouched;
// only the child's env slice is edited.
func mergePatternList(env []string, key string, patterns []string) []string {
	if len(patterns) == 0 {
		return env
	}
	joined := strings.Join(patterns, ":")
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			if kv == prefix {
				env[i] = prefix + joined
			} else {
				env[i] = kv + ":" + joined
			}
			return env
		}
	}
	return append(env, prefix+joined)
}

func cmdStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	exe := fs.String("exe", "", "evaluate the verdict for this executable path instead of nvhide itself")
	watch := fs.Bool("watch", false, "re-evaluate when rule files change")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nvhide: failed to load config: %v\n", err)
		return 1
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nvhide: failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	vendor, err := cfg.Discovery.VendorID()
	if err != nil {
		fmt.Fprintf(os.Stderr, "nvhide: %v\n", err)
		return 1
	}

	report := func() {
		var v *policy.Verdict
		if *exe != "" {
			v = policy.EvaluateExe(*exe)
		} else {
			v = policy.Evaluate()
		}
		fmt.Printf("exe:         %s\n", v.Exe)
		fmt.Printf("active:      %v (has_allow=%v allow_match=%v deny_match=%v)\n",
			v.Active, v.HasAllow, v.AllowMatch, v.DenyMatch)

		if !v.Active {
			fmt.Println("devices:     skipped (inactive)")
			return
		}
		d := discover.NewScannerAt(cfg.Discovery.ClassDir, vendor).Scan()
		fmt.Printf("nodes:       %s\n", strings.Join(d.Nodes, " "))
		fmt.Printf("bus addrs:   %s\n", strings.Join(d.BusAddrs, " "))
	}

	report()
	if !*watch {
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := config.NewWatcher(policy.RuleDir(), func(file string) {
		fmt.Printf("--- %s changed ---\n", file)
		report()
	}, logger)
	if err := w.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "nvhide: watch %s: %v\n", policy.RuleDir(), err)
		return 1
	}
	<-ctx.Done()
	w.Stop()
	return 0
}

func cmdPs(args []string) int {
	fs := flag.NewFlagSet("ps", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nvhide: failed to load config: %v\n", err)
		return 1
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nvhide: failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	inj := inject.NewInjector(cfg.Library.Path, logger)
	pids, err := inj.ActiveProcesses()
	if err != nil {
		fmt.Fprintf(os.Stderr, "nvhide: %v\n", err)
		return 1
	}
	for _, pid := range pids {
		fmt.Println(pid)
	}
	return 0
}

func cmdAttach(args []string) int {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "nvhide: attach requires exactly one pid")
		return 2
	}
	pid, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "nvhide: invalid pid %q\n", fs.Arg(0))
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nvhide: failed to load config: %v\n", err)
		return 1
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nvhide: failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	inj := inject.NewInjector(cfg.Library.Path, logger)
	if err := inj.AttachProcess(pid); err != nil {
		fmt.Fprintf(os.Stderr, "nvhide: %v\n", err)
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default locations
	defaults := []string{
		"configs/nvhide.yaml",
		"/etc/nvhide/nvhide.yaml",
		"/etc/nvhide.yaml",
	}
	for _, p := range defaults {
		if _, err := os.Stat(p); err == nil {
			return config.Load(p)
		}
	}

	cfg := config.DefaultConfig()
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return cfg.Build()
}
