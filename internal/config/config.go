// Package config is the file-layer glue for loading a Profile from disk:
// a TOML profile file (nextest's native format) with a YAML fallback, plus
// viper-bound CLI/env overrides (spec.md is silent on file format since
// config-file loading is named an external collaborator; see SPEC_FULL.md
// "Ambient Stack").
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jpequegn/nextrun/internal/filterexpr"
	"github.com/jpequegn/nextrun/internal/pkggraph"
	"github.com/jpequegn/nextrun/internal/profile"
	"github.com/jpequegn/nextrun/internal/retry"
	"github.com/jpequegn/nextrun/internal/testsettings"
)

// fileRetryPolicy is the on-disk shape of a RetryPolicy.
type fileRetryPolicy struct {
	Backoff  string `toml:"backoff" yaml:"backoff"`
	Count    uint32 `toml:"count" yaml:"count"`
	Delay    string `toml:"delay" yaml:"delay"`
	Jitter   bool   `toml:"jitter" yaml:"jitter"`
	MaxDelay string `toml:"max-delay" yaml:"max-delay"`
}

func (f fileRetryPolicy) toPolicy() (retry.Policy, error) {
	if f.Backoff == "" && f.Count == 0 && f.Delay == "" {
		return retry.Policy{}, nil
	}
	delay, err := parseDurationField(f.Delay)
	if err != nil {
		return retry.Policy{}, fmt.Errorf("config: retries.delay: %w", err)
	}
	maxDelay, err := parseDurationField(f.MaxDelay)
	if err != nil {
		return retry.Policy{}, fmt.Errorf("config: retries.max-delay: %w", err)
	}
	switch strings.ToLower(f.Backoff) {
	case "", "fixed":
		return retry.NewFixed(f.Count, delay, f.Jitter)
	case "exponential":
		return retry.NewExponential(f.Count, delay, f.Jitter, maxDelay)
	default:
		return retry.Policy{}, fmt.Errorf("config: unknown retries.backoff %q", f.Backoff)
	}
}

type fileSlowTimeout struct {
	Period         string `toml:"period" yaml:"period"`
	TerminateAfter int    `toml:"terminate-after" yaml:"terminate-after"`
	GracePeriod    string `toml:"grace-period" yaml:"grace-period"`
}

func (f fileSlowTimeout) toSlowTimeout() (testsettings.SlowTimeout, error) {
	if f.Period == "" && f.GracePeriod == "" && f.TerminateAfter == 0 {
		return testsettings.SlowTimeout{}, nil
	}
	period, err := parseDurationField(f.Period)
	if err != nil {
		return testsettings.SlowTimeout{}, fmt.Errorf("config: slow-timeout.period: %w", err)
	}
	grace, err := parseDurationField(f.GracePeriod)
	if err != nil {
		return testsettings.SlowTimeout{}, fmt.Errorf("config: slow-timeout.grace-period: %w", err)
	}
	return testsettings.SlowTimeout{Period: period, TerminateAfter: f.TerminateAfter, GracePeriod: grace}, nil
}

type fileOverride struct {
	Platform        string          `toml:"platform" yaml:"platform"`
	Filter          string          `toml:"filter" yaml:"filter"`
	ThreadsRequired *int            `toml:"threads-required" yaml:"threads-required"`
	Retries         fileRetryPolicy `toml:"retries" yaml:"retries"`
	SlowTimeout     fileSlowTimeout `toml:"slow-timeout" yaml:"slow-timeout"`
	LeakTimeout     string          `toml:"leak-timeout" yaml:"leak-timeout"`
	TestGroup       string          `toml:"test-group" yaml:"test-group"`
}

type fileSetupScript struct {
	Name    string   `toml:"name" yaml:"name"`
	Command string   `toml:"command" yaml:"command"`
	Args    []string `toml:"args" yaml:"args"`
	WorkDir string   `toml:"workdir" yaml:"workdir"`
	Timeout string   `toml:"timeout" yaml:"timeout"`
}

type fileProfile struct {
	TestThreads     int                              `toml:"test-threads" yaml:"test-threads"`
	FailFast        bool                              `toml:"fail-fast" yaml:"fail-fast"`
	MaxFail         *int                             `toml:"max-fail" yaml:"max-fail"`
	RequiredVersion string                           `toml:"required-version" yaml:"required-version"`
	Retries         fileRetryPolicy                  `toml:"retries" yaml:"retries"`
	SlowTimeout     fileSlowTimeout                  `toml:"slow-timeout" yaml:"slow-timeout"`
	LeakTimeout     string                           `toml:"leak-timeout" yaml:"leak-timeout"`
	ThreadsRequired int                              `toml:"threads-required" yaml:"threads-required"`
	TestGroup       string                           `toml:"test-group" yaml:"test-group"`
	TestGroups      map[string]fileGroupConfig       `toml:"test-groups" yaml:"test-groups"`
	Overrides       []fileOverride                   `toml:"overrides" yaml:"overrides"`
	SetupScripts    []fileSetupScript                `toml:"setup-scripts" yaml:"setup-scripts"`
}

type fileGroupConfig struct {
	MaxThreads int `toml:"max-threads" yaml:"max-threads"`
}

type fileDocument struct {
	Profiles map[string]fileProfile `toml:"profile" yaml:"profile"`
}

// parseDurationField parses a Go duration string, treating "" as zero
// (field absent) rather than an error.
func parseDurationField(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// LoadFile reads and decodes a profile config file (TOML or YAML, chosen
// by extension) and resolves the named profile into a runtime
// *profile.Profile bound to graph for package predicate resolution.
func LoadFile(path string, profileName string, graph *pkggraph.Graph) (*profile.Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var doc fileDocument
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("config: parsing TOML %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("config: parsing YAML %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported config file extension %q (want .toml, .yaml, or .yml)", ext)
	}

	fp, ok := doc.Profiles[profileName]
	if !ok {
		known := make([]string, 0, len(doc.Profiles))
		for name := range doc.Profiles {
			known = append(known, name)
		}
		return nil, fmt.Errorf("config: unknown profile %q (known profiles: %v)", profileName, known)
	}

	return buildProfile(profileName, fp, graph)
}

func buildProfile(name string, fp fileProfile, graph *pkggraph.Graph) (*profile.Profile, error) {
	base := testsettings.Defaults()

	if fp.ThreadsRequired > 0 {
		base.ThreadsRequired = fp.ThreadsRequired
	}
	if policy, err := fp.Retries.toPolicy(); err != nil {
		return nil, err
	} else if (policy != retry.Policy{}) {
		base.Retries = policy
	}
	if st, err := fp.SlowTimeout.toSlowTimeout(); err != nil {
		return nil, err
	} else if (st != testsettings.SlowTimeout{}) {
		base.SlowTimeout = st
	}
	if fp.LeakTimeout != "" {
		d, err := time.ParseDuration(fp.LeakTimeout)
		if err != nil {
			return nil, fmt.Errorf("config: leak-timeout: %w", err)
		}
		base.LeakTimeout = d
	}
	if fp.TestGroup != "" {
		g, err := testsettings.NewCustomGroup(fp.TestGroup)
		if err != nil {
			return nil, fmt.Errorf("config: test-group: %w", err)
		}
		base.TestGroup = g
	}

	groupConfig := make(map[string]testsettings.GroupConfig, len(fp.TestGroups))
	for gname, gc := range fp.TestGroups {
		groupConfig[gname] = testsettings.GroupConfig{MaxThreads: gc.MaxThreads}
	}

	overrides := make([]profile.Override, 0, len(fp.Overrides))
	for i, fo := range fp.Overrides {
		ov, err := buildOverride(fo, graph)
		if err != nil {
			return nil, fmt.Errorf("config: overrides[%d]: %w", i, err)
		}
		if err := ov.Validate(); err != nil {
			return nil, fmt.Errorf("config: overrides[%d]: %w", i, err)
		}
		overrides = append(overrides, ov)
	}

	scripts := make([]profile.SetupScriptSpec, 0, len(fp.SetupScripts))
	for _, fs := range fp.SetupScripts {
		timeout, err := parseDurationField(fs.Timeout)
		if err != nil {
			return nil, fmt.Errorf("config: setup-scripts %q: timeout: %w", fs.Name, err)
		}
		scripts = append(scripts, profile.SetupScriptSpec{
			Name: fs.Name, Command: fs.Command, Args: fs.Args,
			WorkDir: fs.WorkDir, Timeout: timeout,
		})
	}

	p := &profile.Profile{
		Name:            name,
		BaseSettings:    base,
		Overrides:       overrides,
		TestGroupConfig: groupConfig,
		MaxFail:         fp.MaxFail,
		FailFast:        fp.FailFast,
		TestThreads:     fp.TestThreads,
		RequiredVersion: fp.RequiredVersion,
		SetupScripts:    scripts,
	}
	if err := p.ValidateGroups(); err != nil {
		return nil, err
	}
	return p, nil
}

func buildOverride(fo fileOverride, graph *pkggraph.Graph) (profile.Override, error) {
	var ov profile.Override

	if fo.Platform != "" {
		spec, err := profile.ParsePlatformSpec(fo.Platform)
		if err != nil {
			return ov, fmt.Errorf("platform: %w", err)
		}
		ov.Platform = &spec
	}
	if fo.Filter != "" {
		expr, errs := filterexpr.Compile([]string{fo.Filter}, graph)
		if len(errs) > 0 {
			return ov, fmt.Errorf("filter: %v", errs[0])
		}
		ov.Filter = expr
	}
	if fo.ThreadsRequired != nil {
		ov.ThreadsRequired = fo.ThreadsRequired
	}
	if policy, err := fo.Retries.toPolicy(); err != nil {
		return ov, err
	} else if (policy != retry.Policy{}) {
		ov.Retries = &policy
	}
	if st, err := fo.SlowTimeout.toSlowTimeout(); err != nil {
		return ov, err
	} else if (st != testsettings.SlowTimeout{}) {
		ov.SlowTimeout = &st
	}
	if fo.LeakTimeout != "" {
		d, err := time.ParseDuration(fo.LeakTimeout)
		if err != nil {
			return ov, fmt.Errorf("leak-timeout: %w", err)
		}
		ov.LeakTimeout = &d
	}
	if fo.TestGroup != "" {
		g, err := testsettings.NewCustomGroup(fo.TestGroup)
		if err != nil {
			return ov, fmt.Errorf("test-group: %w", err)
		}
		ov.TestGroup = &g
	}
	return ov, nil
}

// BindFlags wires a cobra command's persistent flags to viper, following
// the same BindPFlag + AutomaticEnv pattern as the rest of this codebase's
// ambient CLI layer, with NEXTRUN_ as the environment prefix.
func BindFlags(cmd *cobra.Command) {
	viper.SetEnvPrefix("NEXTRUN")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("test-threads", cmd.PersistentFlags().Lookup("test-threads"))
	_ = viper.BindPFlag("fail-fast", cmd.PersistentFlags().Lookup("fail-fast"))
	_ = viper.BindPFlag("max-fail", cmd.PersistentFlags().Lookup("max-fail"))
	_ = viper.BindPFlag("profile", cmd.PersistentFlags().Lookup("profile"))
}
