package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "loadgen",
		Short:         "Drive an HTTP load run and print a performance report",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

func configureFlags(flags *pflag.FlagSet) {
	// Endpoint
	flags.String("scheme", "http", "Target scheme (http or https)")
	flags.String("host", "localhost", "Target host")
	flags.IntP("port", "p", 8080, "Target port")
	flags.String("transport", string(TransportHTTP1), "Client transport: http1, http2 or fcgi")

	// Concurrency shape
	flags.IntP("threads", "t", 1, "Number of engine threads")
	flags.IntP("users-per-thread", "u", 1, "Simulated users per thread")
	flags.Int("channels-per-user", 0, "Concurrent request channels per user (0 means engine default)")

	// Workload shape
	flags.IntP("iterations-per-thread", "i", 1, "Resource tree iterations per thread (0 means unbounded)")
	flags.Int("warmup-iterations-per-thread", 0, "Unrecorded warmup iterations per thread")
	flags.Float64P("resource-rate", "r", 0, "Resource trees per second across all threads (0 means unthrottled)")
	flags.DurationP("run-for", "d", 0, "Run for a fixed duration instead of a fixed iteration count (e.g. 30s, 1m)")
	flags.String("arrival-model", string(ArrivalModelUniform), "Arrival model used when pacing iterations (uniform or poisson)")
	flags.Duration("timeout", 30*time.Second, "Per-request timeout")
	flags.Int("retries", 0, "Retries per request on transport errors")

	// Resources
	flags.String("method", "GET", "HTTP method for the single-resource shortcut")
	flags.String("path", "/", "Request path for the single-resource shortcut (supports {{rand MIN MAX}}, {{uuid}}, {{seq}})")
	flags.String("resource-file", "", "Path to a YAML file describing the resource tree")

	// Reporting
	flags.Duration("finalize-timeout", 30*time.Second, "Max time to wait for in-flight responses after the run completes")
	flags.Duration("cpu-sample-interval", time.Second, "Interval between process CPU samples")
	flags.Bool("progress", false, "Print live progress while the run is active")
	flags.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	flags.String("log-format", "text", "Log format: text or json")
	flags.Bool("log-failures", false, "Log each failed request at debug level")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported in spans (default loadgen)")
	flags.Float64("tracing-sample-rate", 1.0, "Trace sampling ratio between 0.0 and 1.0")
	flags.Bool("tracing-insecure", false, "Disable TLS to the OTLP collector")
	flags.Bool("tracing-propagate", false, "Inject W3C trace headers into requests")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	strs := map[string]*string{
		"scheme":               &cfg.Scheme,
		"host":                 &cfg.Host,
		"method":               &cfg.Method,
		"path":                 &cfg.Path,
		"resource-file":        &cfg.ResourceFile,
		"log-level":            &cfg.LogLevel,
		"log-format":           &cfg.LogFormat,
		"tracing-endpoint":     &cfg.Tracing.Endpoint,
		"tracing-protocol":     &cfg.Tracing.Protocol,
		"tracing-service-name": &cfg.Tracing.ServiceName,
	}
	for name, dst := range strs {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = strings.TrimSpace(val)
	}

	ints := map[string]*int{
		"port":                         &cfg.Port,
		"threads":                      &cfg.Threads,
		"users-per-thread":             &cfg.UsersPerThread,
		"channels-per-user":            &cfg.ChannelsPerUser,
		"iterations-per-thread":        &cfg.IterationsPerThread,
		"warmup-iterations-per-thread": &cfg.WarmupIterationsPerThread,
		"retries":                      &cfg.Retries,
	}
	for name, dst := range ints {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetInt(name)
		if err != nil {
			return err
		}
		*dst = val
	}
	if fs.Changed("iterations-per-thread") {
		cfg.iterationsSet = true
	}
	if fs.Changed("path") {
		cfg.pathSet = true
	}

	durations := map[string]*time.Duration{
		"run-for":             &cfg.RunFor,
		"timeout":             &cfg.Timeout,
		"finalize-timeout":    &cfg.FinalizeTimeout,
		"cpu-sample-interval": &cfg.CPUSampleInterval,
	}
	for name, dst := range durations {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetDuration(name)
		if err != nil {
			return err
		}
		*dst = val
	}

	bools := map[string]*bool{
		"progress":         &cfg.Progress,
		"log-failures":     &cfg.LogFailures,
		"tracing-insecure": &cfg.Tracing.Insecure,
	}
	for name, dst := range bools {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetBool(name)
		if err != nil {
			return err
		}
		*dst = val
	}

	if fs.Changed("transport") {
		val, err := fs.GetString("transport")
		if err != nil {
			return err
		}
		cfg.Transport = Transport(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("arrival-model") {
		val, err := fs.GetString("arrival-model")
		if err != nil {
			return err
		}
		cfg.ArrivalModel = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("resource-rate") {
		val, err := fs.GetFloat64("resource-rate")
		if err != nil {
			return err
		}
		cfg.ResourceRate = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}

	return nil
}
