package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ticksync/pkg/telemetry"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "0.3.0"

func main() {
	err := mainErr(os.Args[1:], os.Stdout, os.Stderr)
	var ue usageError
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp), errors.Is(err, context.Canceled):
	case errors.As(err, &ue):
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, "ticksync:", err)
		os.Exit(1)
	}
}

type Config struct {
	Interval         float64 `toml:"sync_interval,omitempty"` // seconds
	Mode             string  `toml:"mode,omitempty"`
	MaxSamples       int     `toml:"max_samples,omitempty"`
	MaxSpread        float64 `toml:"max_spread,omitempty"`
	KernelTimestamps bool    `toml:"kernel_timestamps,omitempty"`
	EpochFile        string  `toml:"epoch_file,omitempty"`
	MetricsAddr      string  `toml:"metrics_address,omitempty"`
	Verbose          bool    `toml:"verbose,omitempty"`

	serve bool
	host  string
	port  int
}

func (c *Config) interval() time.Duration {
	return time.Duration(c.Interval * float64(time.Second))
}

type usageError struct {
	msg string
}

func (e usageError) Error() string {
	return e.msg
}

func parseArgs(args []string, stderr io.Writer) (Config, error) {
	conf := Config{
		Interval:   1,
		Mode:       "stats",
		MaxSamples: 100,
		MaxSpread:  3,
	}
	var configFile string

	fs := flag.NewFlagSet("ticksync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: ticksync [flags] -serve <port>\n       ticksync [flags] <host> <port>\n")
		fs.PrintDefaults()
	}
	fs.BoolVar(&conf.serve, "serve", false, "server mode: own the reference ticker and answer clients")
	fs.StringVar(&configFile, "config", "", "TOML configuration file; flags given on the command line take precedence")
	fs.Float64Var(&conf.Interval, "interval", conf.Interval, "synchronization interval and receive timeout (s)")
	fs.StringVar(&conf.Mode, "mode", conf.Mode, "client diagnostics for completed rounds: stats, raw, sample or quiet")
	fs.IntVar(&conf.MaxSamples, "max-samples", conf.MaxSamples, "number of rounds kept for diagnostics")
	fs.Float64Var(&conf.MaxSpread, "max-spread", conf.MaxSpread, "max spread of samples kept for diagnostics (after max-samples), as a factor of the standard deviation")
	fs.BoolVar(&conf.KernelTimestamps, "kernel-timestamps", false, "use kernel receive timestamps for t2 and t4")
	fs.StringVar(&conf.EpochFile, "epoch-file", "", "server: write the epoch here; client: read it and benchmark against it")
	fs.StringVar(&conf.MetricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	fs.BoolVar(&conf.Verbose, "v", false, "debug logging")

	usage := func(format string, a ...any) error {
		msg := fmt.Sprintf(format, a...)
		fmt.Fprintln(stderr, msg)
		fs.Usage()
		return usageError{msg}
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return conf, err
		}
		// already reported by the flag set
		return conf, usageError{err.Error()}
	}

	if configFile != "" {
		set := map[string]string{}
		fs.Visit(func(f *flag.Flag) {
			set[f.Name] = f.Value.String()
		})
		if err := loadConfig(configFile, &conf); err != nil {
			return conf, err
		}
		for name, value := range set {
			if err := fs.Set(name, value); err != nil {
				return conf, err
			}
		}
	}

	want := 2
	if conf.serve {
		want = 1
	}
	if fs.NArg() != want {
		return conf, usage("expected %d arguments, got %d", want, fs.NArg())
	}

	portArg := fs.Arg(want - 1)
	port, err := strconv.Atoi(portArg)
	if err != nil || port < 0 || port > 65535 {
		return conf, usage("invalid port %q", portArg)
	}
	conf.port = port
	if !conf.serve {
		conf.host = fs.Arg(0)
	}

	if conf.Interval <= 0 {
		return conf, usage("interval must be positive")
	}
	if conf.MaxSamples <= 0 {
		return conf, usage("max-samples must be positive")
	}
	if conf.MaxSpread < 0 {
		return conf, usage("max-spread must not be negative")
	}
	switch conf.Mode {
	case "stats", "raw", "sample", "quiet":
	default:
		return conf, usage("unknown mode %q", conf.Mode)
	}
	return conf, nil
}

func loadConfig(path string, conf *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err = toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(conf); err != nil {
		return fmt.Errorf("decode configuration %s: %w", path, err)
	}
	return nil
}

func newLogger(verbose bool, w io.Writer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(zapcore.AddSync(w)), level)
	return zap.New(core)
}

func mainErr(args []string, stdout, stderr io.Writer) error {
	conf, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}

	log := newLogger(conf.Verbose, stderr)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	role := "client"
	if conf.serve {
		role = "server"
	}
	telemetry.SetBuildInfo(version, role)
	if conf.MetricsAddr != "" {
		go func() {
			err := telemetry.Serve(conf.MetricsAddr)
			log.Error("metrics server stopped", zap.String("addr", conf.MetricsAddr), zap.Error(err))
		}()
	}

	if conf.serve {
		err = Server(ctx, conf, log, stdout)
	} else {
		err = Client(ctx, conf, log, stdout)
	}
	return err
}
