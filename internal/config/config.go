// Package config loads and validates load generator settings.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/torosent/loadgen/internal/resource"
)

type Transport string

const (
	TransportHTTP1 Transport = "http1"
	TransportHTTP2 Transport = "http2"
	TransportFCGI  Transport = "fcgi"
)

// Describe returns the protocol name shown in reports for the given scheme.
func (t Transport) Describe(scheme string) string {
	switch t {
	case TransportHTTP1:
		return "http/1.1"
	case TransportHTTP2:
		if strings.EqualFold(scheme, "http") {
			return "h2c"
		}
		return "h2"
	case TransportFCGI:
		return "fcgi"
	default:
		return string(t)
	}
}

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// Config holds load-time settings. Path and Resources are alternatives: a
// Resources list (or ResourceFile) is a tree whose entries after the first are
// requested as children of the first one.
type Config struct {
	Scheme                    string          `mapstructure:"scheme"`
	Host                      string          `mapstructure:"host"`
	Port                      int             `mapstructure:"port"`
	Transport                 Transport       `mapstructure:"transport"`
	Threads                   int             `mapstructure:"threads"`
	UsersPerThread            int             `mapstructure:"users_per_thread"`
	ChannelsPerUser           int             `mapstructure:"channels_per_user"`
	IterationsPerThread       int             `mapstructure:"iterations_per_thread"`
	WarmupIterationsPerThread int             `mapstructure:"warmup_iterations_per_thread"`
	ResourceRate              float64         `mapstructure:"resource_rate"`
	RunFor                    time.Duration   `mapstructure:"run_for"`
	ArrivalModel              ArrivalModel    `mapstructure:"arrival_model"`
	Timeout                   time.Duration   `mapstructure:"timeout"`
	Retries                   int             `mapstructure:"retries"`
	FinalizeTimeout           time.Duration   `mapstructure:"finalize_timeout"`
	CPUSampleInterval         time.Duration   `mapstructure:"cpu_sample_interval"`
	Progress                  bool            `mapstructure:"progress"`
	LogLevel                  string          `mapstructure:"log_level"`
	LogFormat                 string          `mapstructure:"log_format"`
	LogFailures               bool            `mapstructure:"log_failures"`
	Method                    string          `mapstructure:"method"`
	Path                      string          `mapstructure:"path"`
	Resources                 []resource.Spec `mapstructure:"resources"`
	ResourceFile              string          `mapstructure:"resource_file"`
	Tracing                   TracingConfig   `mapstructure:"tracing"`
	ConfigFile                string          `mapstructure:"-"`

	// iterationsSet records whether iterations_per_thread was given explicitly,
	// so that a bare run_for does not collide with the iteration default.
	iterationsSet bool
	// pathSet records an explicit path, which conflicts with a resource tree.
	pathSet bool
}

// TracingConfig configures OpenTelemetry export of per-request spans.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// ShouldPropagate reports whether W3C trace headers are injected into requests.
// Propagation follows Enabled unless explicitly overridden.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// Default returns the configuration used before files and flags are applied.
func Default() *Config {
	return &Config{
		Scheme:              "http",
		Host:                "localhost",
		Port:                8080,
		Transport:           TransportHTTP1,
		Threads:             1,
		UsersPerThread:      1,
		IterationsPerThread: 1,
		ArrivalModel:        ArrivalModelUniform,
		Timeout:             30 * time.Second,
		FinalizeTimeout:     30 * time.Second,
		CPUSampleInterval:   time.Second,
		LogLevel:            "info",
		LogFormat:           "text",
		Method:              "GET",
		Path:                "/",
		Tracing:             TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

// RunConfig is the immutable description of one load run. It is built once by
// [Config.RunConfig] and then shared by value; the resource tree it points to is
// read-only.
type RunConfig struct {
	Scheme                    string
	Host                      string
	Port                      int
	Transport                 Transport
	Threads                   int
	UsersPerThread            int
	ChannelsPerUser           int // 0 means the engine default
	IterationsPerThread       int // 0 means unbounded
	WarmupIterationsPerThread int
	ResourceRate              float64 // 0 means unthrottled
	RunFor                    time.Duration
	Resource                  *resource.Resource
	ArrivalModel              ArrivalModel
	Timeout                   time.Duration
	Retries                   int
	FinalizeTimeout           time.Duration
	CPUSampleInterval         time.Duration
}

// Endpoint returns scheme://host:port.
func (c RunConfig) Endpoint() string {
	return c.Scheme + "://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Address returns host:port for dialing.
func (c RunConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Bounded reports whether the run terminates on its own, either after a fixed
// iteration count or after RunFor.
func (c RunConfig) Bounded() bool {
	return c.IterationsPerThread > 0 || c.RunFor > 0
}

// Users returns the total number of simulated users.
func (c RunConfig) Users() int {
	return c.Threads * c.UsersPerThread
}

func (c RunConfig) String() string {
	bound := "unbounded"
	switch {
	case c.IterationsPerThread > 0:
		bound = fmt.Sprintf("%d iterations/thread", c.IterationsPerThread)
	case c.RunFor > 0:
		bound = "run for " + c.RunFor.String()
	}
	return fmt.Sprintf("%s over %s, threads=%d users/thread=%d channels/user=%d warmup=%d rate=%.3f (%s), resources=%d",
		c.Endpoint(), c.Transport.Describe(c.Scheme), c.Threads, c.UsersPerThread, c.ChannelsPerUser,
		c.WarmupIterationsPerThread, c.ResourceRate, bound, c.Resource.DescendantCount())
}

// RunConfig validates the configuration and compiles it into a RunConfig.
func (c Config) RunConfig() (RunConfig, error) {
	if err := c.Validate(); err != nil {
		return RunConfig{}, err
	}

	var (
		tree *resource.Resource
		err  error
	)
	if len(c.Resources) > 0 {
		tree, err = resource.CompileForest(c.Resources)
	} else {
		tree, err = resource.Compile(resource.Spec{Method: c.Method, Path: c.Path})
	}
	if err != nil {
		return RunConfig{}, ValidationError{issues: []string{fmt.Sprintf("resources: %v", err)}}
	}

	return RunConfig{
		Scheme:                    strings.ToLower(c.Scheme),
		Host:                      c.Host,
		Port:                      c.Port,
		Transport:                 c.Transport,
		Threads:                   c.Threads,
		UsersPerThread:            c.UsersPerThread,
		ChannelsPerUser:           c.ChannelsPerUser,
		IterationsPerThread:       c.IterationsPerThread,
		WarmupIterationsPerThread: c.WarmupIterationsPerThread,
		ResourceRate:              c.ResourceRate,
		RunFor:                    c.RunFor,
		Resource:                  tree,
		ArrivalModel:              c.ArrivalModel,
		Timeout:                   c.Timeout,
		Retries:                   c.Retries,
		FinalizeTimeout:           c.FinalizeTimeout,
		CPUSampleInterval:         c.CPUSampleInterval,
	}, nil
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	switch strings.ToLower(c.Scheme) {
	case "http", "https":
	default:
		issues = append(issues, fmt.Sprintf("scheme must be http or https, got %q", c.Scheme))
	}
	if strings.TrimSpace(c.Host) == "" {
		issues = append(issues, "host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		issues = append(issues, "port must be between 1 and 65535")
	}
	switch c.Transport {
	case TransportHTTP1, TransportHTTP2, TransportFCGI:
	default:
		issues = append(issues, fmt.Sprintf("transport must be http1, http2 or fcgi, got %q", c.Transport))
	}

	if c.Threads < 1 {
		issues = append(issues, "threads must be >= 1")
	}
	if c.UsersPerThread < 1 {
		issues = append(issues, "users per thread must be >= 1")
	}
	if c.ChannelsPerUser < 0 {
		issues = append(issues, "channels per user must be >= 0")
	}
	if c.IterationsPerThread < 0 {
		issues = append(issues, "iterations per thread must be >= 0")
	}
	if c.WarmupIterationsPerThread < 0 {
		issues = append(issues, "warmup iterations per thread must be >= 0")
	}
	if c.ResourceRate < 0 {
		issues = append(issues, "resource rate must be >= 0")
	}
	if c.RunFor < 0 {
		issues = append(issues, "run for must be >= 0")
	}
	if c.IterationsPerThread > 0 && c.RunFor > 0 {
		issues = append(issues, "iterations per thread and run for are mutually exclusive")
	}

	switch c.ArrivalModel {
	case ArrivalModelUniform, ArrivalModelPoisson:
	default:
		issues = append(issues, fmt.Sprintf("arrival model must be uniform or poisson, got %q", c.ArrivalModel))
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.Retries < 0 {
		issues = append(issues, "retries must be >= 0")
	}
	if c.FinalizeTimeout <= 0 {
		issues = append(issues, "finalize timeout must be > 0")
	}
	if c.CPUSampleInterval <= 0 {
		issues = append(issues, "cpu sample interval must be > 0")
	}

	if c.pathSet && (len(c.Resources) > 0 || c.ResourceFile != "") {
		issues = append(issues, "path and resources are mutually exclusive")
	}
	if len(c.Resources) == 0 {
		if p := strings.TrimSpace(c.Path); p == "" || !strings.HasPrefix(p, "/") {
			issues = append(issues, "path must start with /")
		}
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing sample rate must be between 0.0 and 1.0")
	}
	switch strings.ToLower(c.Tracing.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol must be grpc or http, got %q", c.Tracing.Protocol))
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		issues = append(issues, fmt.Sprintf("log format must be text or json, got %q", c.LogFormat))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Warnings returns non-fatal observations about the configuration.
func (c Config) Warnings() []string {
	var warnings []string
	if c.ResourceRate > 1000 {
		warnings = append(warnings, fmt.Sprintf("High resource rate configured (%.0f/s). Ensure you have authorization to test the target system.", c.ResourceRate))
	}
	if users := c.Threads * c.UsersPerThread; users > 500 {
		warnings = append(warnings, fmt.Sprintf("High user count configured (%d users). Ensure you have authorization to test the target system.", users))
	}
	if c.IterationsPerThread == 0 && c.RunFor == 0 {
		warnings = append(warnings, "No iteration or duration bound configured; the run stops only when interrupted.")
	}
	return warnings
}
