package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/torosent/loadgen/internal/resource"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a Config.
// Precedence is defaults, then the config file, then flags.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Scheme = strings.ToLower(cfg.Scheme)
	cfg.Method = strings.ToUpper(cfg.Method)

	if cfg.ResourceFile != "" {
		specs, err := LoadResourceFile(cfg.ResourceFile)
		if err != nil {
			return nil, err
		}
		cfg.Resources = specs
	}

	// A duration bound replaces the default single iteration unless iterations
	// were requested explicitly, in which case Validate reports the conflict.
	if cfg.RunFor > 0 && !cfg.iterationsSet {
		cfg.IterationsPerThread = 0
	}

	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	strs := []struct {
		dst  *string
		keys []string
	}{
		{&cfg.Scheme, []string{"scheme"}},
		{&cfg.Host, []string{"host"}},
		{&cfg.Method, []string{"method"}},
		{&cfg.Path, []string{"path"}},
		{&cfg.ResourceFile, []string{"resourcefile", "resource_file", "resource-file"}},
		{&cfg.LogLevel, []string{"loglevel", "log_level", "log-level"}},
		{&cfg.LogFormat, []string{"logformat", "log_format", "log-format"}},
	}
	for _, s := range strs {
		raw, ok := lookupSetting(settings, s.keys...)
		if !ok {
			continue
		}
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.keys[0], err)
		}
		*s.dst = strings.TrimSpace(val)
		if s.dst == &cfg.Path {
			cfg.pathSet = true
		}
	}

	ints := []struct {
		dst  *int
		keys []string
	}{
		{&cfg.Port, []string{"port"}},
		{&cfg.Threads, []string{"threads"}},
		{&cfg.UsersPerThread, []string{"usersperthread", "users_per_thread", "users-per-thread"}},
		{&cfg.ChannelsPerUser, []string{"channelsperuser", "channels_per_user", "channels-per-user"}},
		{&cfg.IterationsPerThread, []string{"iterationsperthread", "iterations_per_thread", "iterations-per-thread"}},
		{&cfg.WarmupIterationsPerThread, []string{"warmupiterationsperthread", "warmup_iterations_per_thread", "warmup-iterations-per-thread"}},
		{&cfg.Retries, []string{"retries"}},
	}
	for _, s := range ints {
		raw, ok := lookupSetting(settings, s.keys...)
		if !ok {
			continue
		}
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.keys[0], err)
		}
		*s.dst = val
		if s.dst == &cfg.IterationsPerThread {
			cfg.iterationsSet = true
		}
	}

	durations := []struct {
		dst  *time.Duration
		keys []string
	}{
		{&cfg.RunFor, []string{"runfor", "run_for", "run-for"}},
		{&cfg.Timeout, []string{"timeout"}},
		{&cfg.FinalizeTimeout, []string{"finalizetimeout", "finalize_timeout", "finalize-timeout"}},
		{&cfg.CPUSampleInterval, []string{"cpusampleinterval", "cpu_sample_interval", "cpu-sample-interval"}},
	}
	for _, s := range durations {
		raw, ok := lookupSetting(settings, s.keys...)
		if !ok {
			continue
		}
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.keys[0], err)
		}
		*s.dst = dur
	}

	bools := []struct {
		dst  *bool
		keys []string
	}{
		{&cfg.Progress, []string{"progress"}},
		{&cfg.LogFailures, []string{"logfailures", "log_failures", "log-failures"}},
	}
	for _, s := range bools {
		raw, ok := lookupSetting(settings, s.keys...)
		if !ok {
			continue
		}
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.keys[0], err)
		}
		*s.dst = val
	}

	if raw, ok := lookupSetting(settings, "transport"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("transport: %w", err)
		}
		cfg.Transport = Transport(strings.ToLower(strings.TrimSpace(val)))
	}

	if raw, ok := lookupSetting(settings, "arrivalmodel", "arrival_model", "arrival-model"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("arrivalModel: %w", err)
		}
		cfg.ArrivalModel = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
	}

	if raw, ok := lookupSetting(settings, "resourcerate", "resource_rate", "resource-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("resourceRate: %w", err)
		}
		cfg.ResourceRate = val
	}

	if raw, ok := lookupSetting(settings, "resources"); ok {
		specs, err := parseResources(raw)
		if err != nil {
			return fmt.Errorf("resources: %w", err)
		}
		cfg.Resources = specs
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tracing, err := parseTracing(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}

	return nil
}

func parseResources(value interface{}) ([]resource.Spec, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	specs := make([]resource.Spec, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		spec, err := buildResourceSpec(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func buildResourceSpec(settings map[string]interface{}) (resource.Spec, error) {
	var spec resource.Spec
	if raw, ok := lookupSetting(settings, "method"); ok {
		val, err := asString(raw)
		if err != nil {
			return resource.Spec{}, fmt.Errorf("method: %w", err)
		}
		spec.Method = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "path"); ok {
		val, err := asString(raw)
		if err != nil {
			return resource.Spec{}, fmt.Errorf("path: %w", err)
		}
		spec.Path = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return resource.Spec{}, fmt.Errorf("headers: %w", err)
		}
		spec.Headers = hdrs
	}
	if raw, ok := lookupSetting(settings, "children", "resources"); ok {
		children, err := parseResources(raw)
		if err != nil {
			return resource.Spec{}, fmt.Errorf("children: %w", err)
		}
		spec.Children = children
	}
	return spec, nil
}

func parseTracing(value interface{}, base TracingConfig) (TracingConfig, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return TracingConfig{}, err
	}
	tc := base
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("endpoint: %w", err)
		}
		tc.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("protocol: %w", err)
		}
		tc.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "servicename", "service_name", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("service_name: %w", err)
		}
		tc.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("sample_rate: %w", err)
		}
		tc.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("insecure: %w", err)
		}
		tc.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("propagate: %w", err)
		}
		tc.Propagate = &val
	}
	return tc, nil
}

// LoadResourceFile reads a YAML resource tree. The document may be a single
// resource mapping or a list of them; a list is compiled with
// resource.CompileForest, so its first entry is the root of every iteration.
func LoadResourceFile(path string) ([]resource.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("resource file: %w", err)
	}

	var list []resource.Spec
	if err := yaml.Unmarshal(data, &list); err == nil {
		if len(list) == 0 {
			return nil, fmt.Errorf("resource file %s: %w", path, resource.ErrEmptyTree)
		}
		return list, nil
	}

	var single resource.Spec
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("resource file %s: %w", path, err)
	}
	if single.Path == "" && len(single.Children) == 0 {
		return nil, fmt.Errorf("resource file %s: %w", path, resource.ErrEmptyTree)
	}
	return []resource.Spec{single}, nil
}

// lookupSetting returns the first of keys present in settings. Viper lowers
// every key, so the lowercase form is tried too.
func lookupSetting(settings map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if val, ok := settings[key]; ok {
			return val, true
		}
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

func asString(value interface{}) (string, error) {
	if value == nil {
		return "", nil
	}
	return cast.ToStringE(value)
}

func asInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case string:
		return cast.ToIntE(strings.TrimSpace(v))
	}
	return cast.ToIntE(value)
}

func asFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case string:
		return cast.ToFloat64E(strings.TrimSpace(v))
	}
	return cast.ToFloat64E(value)
}

func asBool(value interface{}) (bool, error) {
	if v, ok := value.(string); ok {
		value = strings.TrimSpace(v)
		if value == "" {
			return false, nil
		}
	}
	return cast.ToBoolE(value)
}

// asDuration accepts Go duration strings. Bare numbers are seconds, not the
// nanoseconds cast would assume.
func asDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, nil
		}
		return time.ParseDuration(v)
	}
	secs, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, fmt.Errorf("unsupported duration %v: %w", value, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func asStringMap(value interface{}) (map[string]string, error) {
	if value == nil {
		return nil, nil
	}
	return cast.ToStringMapStringE(value)
}

func toInterfaceSlice(value interface{}) ([]interface{}, error) {
	if value == nil {
		return nil, nil
	}
	return cast.ToSliceE(value)
}

// toStringKeyMap converts a decoded mapping and lowercases its keys.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	m, err := cast.ToStringMapE(value)
	if err != nil {
		return nil, err
	}
	result := make(map[string]interface{}, len(m))
	for key, val := range m {
		result[strings.ToLower(strings.TrimSpace(key))] = val
	}
	return result, nil
}
