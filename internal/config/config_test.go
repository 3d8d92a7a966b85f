package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/loadgen/internal/config"
	"github.com/torosent/loadgen/internal/resource"
)

func TestLoadNoArgsShowsHelp(t *testing.T) {
	_, err := config.NewLoader().Load([]string{})
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("Load() error = %v, want ErrHelpRequested", err)
	}
}

func TestLoadFlagDefaults(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{"--host", "target.local"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scheme != "http" {
		t.Errorf("Scheme = %q, want http", cfg.Scheme)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Transport != config.TransportHTTP1 {
		t.Errorf("Transport = %q, want http1", cfg.Transport)
	}
	if cfg.Threads != 1 || cfg.UsersPerThread != 1 || cfg.IterationsPerThread != 1 {
		t.Errorf("shape = %d/%d/%d, want 1/1/1", cfg.Threads, cfg.UsersPerThread, cfg.IterationsPerThread)
	}
	if cfg.ResourceRate != 0 {
		t.Errorf("ResourceRate = %v, want 0", cfg.ResourceRate)
	}
	if cfg.FinalizeTimeout != 30*time.Second {
		t.Errorf("FinalizeTimeout = %v, want 30s", cfg.FinalizeTimeout)
	}
	if cfg.Path != "/" || cfg.Method != "GET" {
		t.Errorf("resource = %s %s, want GET /", cfg.Method, cfg.Path)
	}
}

func TestLoadRunForClearsDefaultIterations(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{"--run-for", "1m"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.IterationsPerThread != 0 {
		t.Errorf("IterationsPerThread = %d, want 0", cfg.IterationsPerThread)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExplicitIterationsAndRunForConflict(t *testing.T) {
	cfg, err := config.NewLoader().Load([]string{"--run-for", "1m", "--iterations-per-thread", "10"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("Validate() error = %v, want mutually exclusive", err)
	}
}

func TestLoadConfigFileYAMLWithFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	if err := os.WriteFile(path, []byte(`
scheme: https
host: api.example.com
port: 8443
transport: http2
threads: 4
users_per_thread: 8
channels_per_user: 2
iterations_per_thread: 50
warmup_iterations_per_thread: 5
resource_rate: 10
resources:
  - path: /index.html
    children:
      - path: /style.css
      - path: /app.js
`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path, "--threads", "2", "--resource-rate", "20"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scheme != "https" || cfg.Host != "api.example.com" || cfg.Port != 8443 {
		t.Errorf("endpoint = %s://%s:%d", cfg.Scheme, cfg.Host, cfg.Port)
	}
	if cfg.Threads != 2 {
		t.Errorf("Threads = %d, want flag override 2", cfg.Threads)
	}
	if cfg.ResourceRate != 20 {
		t.Errorf("ResourceRate = %v, want flag override 20", cfg.ResourceRate)
	}
	if cfg.UsersPerThread != 8 || cfg.ChannelsPerUser != 2 || cfg.WarmupIterationsPerThread != 5 {
		t.Errorf("shape = %+v", cfg)
	}

	run, err := cfg.RunConfig()
	if err != nil {
		t.Fatalf("RunConfig() error = %v", err)
	}
	if got := run.Resource.DescendantCount(); got != 3 {
		t.Errorf("DescendantCount() = %d, want 3", got)
	}
	if run.Endpoint() != "https://api.example.com:8443" {
		t.Errorf("Endpoint() = %q", run.Endpoint())
	}
	if run.Transport.Describe(run.Scheme) != "h2" {
		t.Errorf("Describe() = %q, want h2", run.Transport.Describe(run.Scheme))
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.json")
	if err := os.WriteFile(path, []byte(`{
		"host": "localhost",
		"port": 9999,
		"threads": 24,
		"usersPerThread": 24,
		"iterationsPerThread": 200,
		"path": "/slow/blocking/?duration={{rand 200 700}}",
		"finalizeTimeout": "10s"
	}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Threads != 24 || cfg.UsersPerThread != 24 || cfg.IterationsPerThread != 200 {
		t.Errorf("shape = %d/%d/%d", cfg.Threads, cfg.UsersPerThread, cfg.IterationsPerThread)
	}
	if cfg.FinalizeTimeout != 10*time.Second {
		t.Errorf("FinalizeTimeout = %v, want 10s", cfg.FinalizeTimeout)
	}
	run, err := cfg.RunConfig()
	if err != nil {
		t.Fatalf("RunConfig() error = %v", err)
	}
	if !strings.HasPrefix(run.Resource.NextPath(), "/slow/blocking/?duration=") {
		t.Errorf("NextPath() = %q", run.Resource.NextPath())
	}
}

func TestLoadResourceFile(t *testing.T) {
	dir := t.TempDir()

	single := filepath.Join(dir, "single.yaml")
	if err := os.WriteFile(single, []byte("path: /\nchildren:\n  - path: /a\n  - path: /b\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	specs, err := config.LoadResourceFile(single)
	if err != nil {
		t.Fatalf("LoadResourceFile(single) error = %v", err)
	}
	if len(specs) != 1 || len(specs[0].Children) != 2 {
		t.Errorf("specs = %+v", specs)
	}

	list := filepath.Join(dir, "list.yaml")
	if err := os.WriteFile(list, []byte("- path: /x\n  method: POST\n- path: /y\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	specs, err = config.LoadResourceFile(list)
	if err != nil {
		t.Fatalf("LoadResourceFile(list) error = %v", err)
	}
	if len(specs) != 2 || specs[0].Method != "POST" {
		t.Errorf("specs = %+v", specs)
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("[]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.LoadResourceFile(empty); !errors.Is(err, resource.ErrEmptyTree) {
		t.Errorf("LoadResourceFile(empty) error = %v, want ErrEmptyTree", err)
	}

	if _, err := config.LoadResourceFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadResourceFile(missing) should fail")
	}
}

func TestLoadResourceFileFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tree.yaml")
	if err := os.WriteFile(path, []byte("path: /\nchildren:\n  - path: /a\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.NewLoader().Load([]string{"--resource-file", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	run, err := cfg.RunConfig()
	if err != nil {
		t.Fatalf("RunConfig() error = %v", err)
	}
	if run.Resource.DescendantCount() != 2 {
		t.Errorf("DescendantCount() = %d, want 2", run.Resource.DescendantCount())
	}
}

func TestLoadPathAndResourceTreeConflict(t *testing.T) {
	dir := t.TempDir()
	tree := filepath.Join(dir, "tree.yaml")
	if err := os.WriteFile(tree, []byte("path: /\nchildren:\n  - path: /a\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	withPath := filepath.Join(dir, "with-path.yaml")
	if err := os.WriteFile(withPath, []byte("path: /explicit\nresources:\n  - path: /a\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	withResources := filepath.Join(dir, "with-resources.yaml")
	if err := os.WriteFile(withResources, []byte("resources:\n  - path: /a\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		args     []string
		conflict bool
	}{
		{"path flag and resource file", []string{"--path", "/explicit", "--resource-file", tree}, true},
		{"path flag and config resources", []string{"--config", withResources, "--path", "/explicit"}, true},
		{"path and resources in config", []string{"--config", withPath}, true},
		{"path flag only", []string{"--path", "/explicit"}, false},
		{"resource file only", []string{"--resource-file", tree}, false},
		{"config resources only", []string{"--config", withResources}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.NewLoader().Load(tt.args)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			_, err = cfg.RunConfig()
			if !tt.conflict {
				if err != nil {
					t.Fatalf("RunConfig() error = %v", err)
				}
				return
			}
			var verr config.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("RunConfig() error = %v, want ValidationError", err)
			}
			if !strings.Contains(err.Error(), "path and resources are mutually exclusive") {
				t.Errorf("RunConfig() error = %v", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"bad scheme", func(c *config.Config) { c.Scheme = "ftp" }, "scheme must be http or https"},
		{"no host", func(c *config.Config) { c.Host = " " }, "host is required"},
		{"bad port", func(c *config.Config) { c.Port = 70000 }, "port must be between"},
		{"bad transport", func(c *config.Config) { c.Transport = "spdy" }, "transport must be"},
		{"no threads", func(c *config.Config) { c.Threads = 0 }, "threads must be >= 1"},
		{"no users", func(c *config.Config) { c.UsersPerThread = 0 }, "users per thread must be >= 1"},
		{"negative channels", func(c *config.Config) { c.ChannelsPerUser = -1 }, "channels per user"},
		{"negative iterations", func(c *config.Config) { c.IterationsPerThread = -1 }, "iterations per thread must be >= 0"},
		{"negative warmup", func(c *config.Config) { c.WarmupIterationsPerThread = -1 }, "warmup"},
		{"negative rate", func(c *config.Config) { c.ResourceRate = -1 }, "resource rate"},
		{"both bounds", func(c *config.Config) { c.RunFor = time.Second }, "mutually exclusive"},
		{"bad arrival", func(c *config.Config) { c.ArrivalModel = "burst" }, "arrival model"},
		{"zero finalize timeout", func(c *config.Config) { c.FinalizeTimeout = 0 }, "finalize timeout"},
		{"zero cpu interval", func(c *config.Config) { c.CPUSampleInterval = 0 }, "cpu sample interval"},
		{"relative path", func(c *config.Config) { c.Path = "index.html" }, "path must start with /"},
		{"bad sample rate", func(c *config.Config) { c.Tracing.SampleRate = 2 }, "sample rate"},
		{"bad log format", func(c *config.Config) { c.LogFormat = "xml" }, "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil")
			}
			var verr config.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error type = %T, want ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestValidateAggregatesIssues(t *testing.T) {
	cfg := config.Default()
	cfg.Threads = 0
	cfg.Port = 0
	var verr config.ValidationError
	if !errors.As(cfg.Validate(), &verr) {
		t.Fatal("expected ValidationError")
	}
	if len(verr.Issues()) != 2 {
		t.Errorf("Issues() = %v, want 2 entries", verr.Issues())
	}
}

func TestRunConfigRejectsBadResourceTemplate(t *testing.T) {
	cfg := config.Default()
	cfg.Path = "/x/{{nope}}"
	if _, err := cfg.RunConfig(); err == nil {
		t.Fatal("RunConfig() should reject unknown placeholder")
	}
}

func TestRunConfigShape(t *testing.T) {
	cfg := config.Default()
	cfg.Threads = 3
	cfg.UsersPerThread = 4
	cfg.Resources = []resource.Spec{{Path: "/a"}, {Path: "/b"}}

	run, err := cfg.RunConfig()
	if err != nil {
		t.Fatalf("RunConfig() error = %v", err)
	}
	if run.Users() != 12 {
		t.Errorf("Users() = %d, want 12", run.Users())
	}
	if !run.Bounded() {
		t.Error("Bounded() = false, want true")
	}
	if run.Resource.DescendantCount() != 2 {
		t.Errorf("DescendantCount() = %d, want 2", run.Resource.DescendantCount())
	}
	if !strings.Contains(run.String(), "http://localhost:8080 over http/1.1") {
		t.Errorf("String() = %q", run.String())
	}
}

func TestTransportDescribe(t *testing.T) {
	tests := []struct {
		transport config.Transport
		scheme    string
		want      string
	}{
		{config.TransportHTTP1, "http", "http/1.1"},
		{config.TransportHTTP2, "http", "h2c"},
		{config.TransportHTTP2, "https", "h2"},
		{config.TransportFCGI, "http", "fcgi"},
	}
	for _, tt := range tests {
		if got := tt.transport.Describe(tt.scheme); got != tt.want {
			t.Errorf("%s.Describe(%s) = %q, want %q", tt.transport, tt.scheme, got, tt.want)
		}
	}
}

func TestWarnings(t *testing.T) {
	cfg := config.Default()
	if len(cfg.Warnings()) != 0 {
		t.Errorf("Warnings() = %v, want none", cfg.Warnings())
	}
	cfg.IterationsPerThread = 0
	cfg.ResourceRate = 5000
	if len(cfg.Warnings()) != 2 {
		t.Errorf("Warnings() = %v, want 2", cfg.Warnings())
	}
}
