// Package config loads kvmboot settings from defaults, an optional YAML file,
// KVMBOOT_* environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	kvm "github.com/blacktop/go-kvm"
	"github.com/blacktop/go-kvm/internal/guest"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. KVMBOOT_MEMORY_SIZE.
const EnvPrefix = "KVMBOOT"

// Config holds all kvmboot configuration.
type Config struct {
	// Device is the KVM device node.
	Device string `mapstructure:"device"`

	// MemorySize is the guest memory size in bytes.
	MemorySize uint64 `mapstructure:"memory_size"`

	// CodeBase is the guest physical address the program is copied to and
	// where execution starts.
	CodeBase uint64 `mapstructure:"code_base"`

	// PML4Offset, PDPTOffset and PDOffset place the page tables.
	PML4Offset uint64 `mapstructure:"pml4_offset"`
	PDPTOffset uint64 `mapstructure:"pdpt_offset"`
	PDOffset   uint64 `mapstructure:"pd_offset"`

	// StackTop is the initial RSP.
	StackTop uint64 `mapstructure:"stack_top"`

	// Timeout bounds the whole run; zero disables it.
	Timeout time.Duration `mapstructure:"timeout"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// Metrics prints KVM operation counters after the run.
	Metrics bool `mapstructure:"metrics"`

	// Timing prints a setup phase report after the run.
	Timing bool `mapstructure:"timing"`

	// ConfigFile is the file the settings were read from, if any.
	ConfigFile string `mapstructure:"-"`
}

// DefaultConfig returns a Config with the fixed layout and sensible defaults.
func DefaultConfig() *Config {
	l := guest.DefaultLayout()
	return &Config{
		Device:     kvm.DefaultDevice,
		MemorySize: l.MemorySize,
		CodeBase:   l.CodeBase,
		PML4Offset: l.PML4,
		PDPTOffset: l.PDPT,
		PDOffset:   l.PD,
		StackTop:   l.StackTop,
		Timeout:    30 * time.Second,
		LogLevel:   "info",
	}
}

// flagKeys maps configuration keys to the flag names bound to them.
var flagKeys = map[string]string{
	"device":      "device",
	"memory_size": "memory-size",
	"code_base":   "code-base",
	"pml4_offset": "pml4-offset",
	"pdpt_offset": "pdpt-offset",
	"pd_offset":   "pd-offset",
	"stack_top":   "stack-top",
	"timeout":     "timeout",
	"log_level":   "log-level",
	"metrics":     "metrics",
	"timing":      "timing",
}

// Load reads configuration from file, environment, flags and defaults.
// flags may be nil. A --config flag names an explicit file that must exist;
// otherwise kvmboot.yaml or kvmboot.yml is looked up in the working, config
// and data directories.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults
	defaults := DefaultConfig()
	v.SetDefault("device", defaults.Device)
	v.SetDefault("memory_size", defaults.MemorySize)
	v.SetDefault("code_base", defaults.CodeBase)
	v.SetDefault("pml4_offset", defaults.PML4Offset)
	v.SetDefault("pdpt_offset", defaults.PDPTOffset)
	v.SetDefault("pd_offset", defaults.PDOffset)
	v.SetDefault("stack_top", defaults.StackTop)
	v.SetDefault("timeout", defaults.Timeout)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("metrics", defaults.Metrics)
	v.SetDefault("timing", defaults.Timing)

	// Config file settings
	var explicit string
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			explicit = f.Value.String()
		}
	}
	file := explicit
	if file == "" {
		dirs := []string{"."}
		if paths, err := GetPaths(); err == nil {
			dirs = append(dirs, paths.ConfigDir, paths.DataDir)
		}
		file = findConfigFile(dirs)
	}
	if file != "" {
		v.SetConfigFile(file)
	}

	// Environment variable support: KVMBOOT_MEMORY_SIZE, KVMBOOT_TIMEOUT, etc.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	// Read config file (optional unless named explicitly)
	if file != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		sizeDecodeHook,
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configFileNames are the file names searched for, in order. The search never
// matches a bare "kvmboot", which is usually the binary itself.
var configFileNames = []string{"kvmboot.yaml", "kvmboot.yml"}

// findConfigFile returns the first regular config file found in dirs.
func findConfigFile(dirs []string) string {
	for _, dir := range dirs {
		for _, name := range configFileNames {
			path := filepath.Join(dir, name)
			if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
				return path
			}
		}
	}
	return ""
}

// Layout returns the guest address space layout described by the config.
func (c *Config) Layout() guest.Layout {
	return guest.Layout{
		MemorySize: c.MemorySize,
		CodeBase:   c.CodeBase,
		PML4:       c.PML4Offset,
		PDPT:       c.PDPTOffset,
		PD:         c.PDOffset,
		StackTop:   c.StackTop,
	}
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Validate checks the layout, the timeout and the log level.
func (c *Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("config: device must not be empty")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout %v must not be negative", c.Timeout)
	}
	if _, err := c.SlogLevel(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Layout().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ParseSize parses a byte count or address: 0x-prefixed hex, or decimal
// optionally followed by K, M or G (binary multiples, with or without a
// trailing "iB" or "B").
func ParseSize(s string) (uint64, error) {
	str := strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(str, "0x") {
		n, err := strconv.ParseUint(str, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q", s)
		}
		return n, nil
	}

	str = strings.TrimSuffix(strings.TrimSuffix(str, "b"), "i")
	var shift uint
	switch {
	case strings.HasSuffix(str, "k"):
		shift = 10
	case strings.HasSuffix(str, "m"):
		shift = 20
	case strings.HasSuffix(str, "g"):
		shift = 30
	}
	if shift != 0 {
		str = str[:len(str)-1]
	}

	n, err := strconv.ParseUint(strings.TrimSpace(str), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n > (^uint64(0))>>shift {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return n << shift, nil
}

func sizeDecodeHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	if f.Kind() != reflect.String || t.Kind() != reflect.Uint64 {
		return data, nil
	}
	return ParseSize(data.(string))
}
