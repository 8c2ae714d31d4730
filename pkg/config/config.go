package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	_ "time/tzdata" // boards often ship without a zoneinfo database

	"github.com/kballard/go-shellquote"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/hdrcam/capture-shot/pkg/plan"
	"github.com/hdrcam/capture-shot/pkg/solar"
)

// EnvPrefix prefixes environment overrides, e.g. CAPTURE_SHOT_REMOTE_HOSTNAME.
const EnvPrefix = "CAPTURE_SHOT"

// LegacyFile is the JSON file read from the working directory when no
// --config flag is given.
const LegacyFile = "capture-shot.conf"

type Location struct {
	Latitude  float64 `mapstructure:"latitude" yaml:"latitude"`
	Longitude float64 `mapstructure:"longitude" yaml:"longitude"`
	Name      string  `mapstructure:"name" yaml:"name"`
	Country   string  `mapstructure:"country" yaml:"country"`
	Timezone  string  `mapstructure:"timezone" yaml:"timezone"`
	Elevation int     `mapstructure:"elevation" yaml:"elevation"`
}

// Fswebcam configures the capture backend and the output tree.
type Fswebcam struct {
	Bin    string `mapstructure:"bin" yaml:"bin"`
	Params string `mapstructure:"params" yaml:"params"`
	Dir    string `mapstructure:"dir" yaml:"dir"`
	Ext    string `mapstructure:"ext" yaml:"ext"`
}

// Remote configures the sync backend. Rsync is a command template where
// {hostname} and {dir} are substituted.
type Remote struct {
	Hostname   string        `mapstructure:"hostname" yaml:"hostname"`
	Dir        string        `mapstructure:"dir" yaml:"dir"`
	Rsync      string        `mapstructure:"rsync" yaml:"rsync"`
	Retries    int           `mapstructure:"retries" yaml:"retries"`
	BackoffMin time.Duration `mapstructure:"backoff_min" yaml:"backoff_min"`
	BackoffMax time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
}

// Enabled reports whether a remote target was configured at all.
func (r Remote) Enabled() bool {
	return r.Hostname != "" || r.Dir != "" || r.Rsync != ""
}

type Tool struct {
	Bin string `mapstructure:"bin" yaml:"bin"`
}

type Timeouts struct {
	Capture  time.Duration `mapstructure:"capture" yaml:"capture"`
	Metadata time.Duration `mapstructure:"metadata" yaml:"metadata"`
	Blend    time.Duration `mapstructure:"blend" yaml:"blend"`
	Copy     time.Duration `mapstructure:"copy" yaml:"copy"`
	Sync     time.Duration `mapstructure:"sync" yaml:"sync"`
}

type Journal struct {
	Path     string `mapstructure:"path" yaml:"path"`
	Disabled bool   `mapstructure:"disabled" yaml:"disabled"`
}

type Notify struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// Config is the validated, immutable configuration of one run.
type Config struct {
	Location Location       `mapstructure:"location" yaml:"location"`
	Fswebcam Fswebcam       `mapstructure:"fswebcam" yaml:"fswebcam"`
	Remote   Remote         `mapstructure:"remote" yaml:"remote,omitempty"`
	Exiv2    Tool           `mapstructure:"exiv2" yaml:"exiv2"`
	Enfuse   Tool           `mapstructure:"enfuse" yaml:"enfuse"`
	Frames   map[string]int `mapstructure:"frames" yaml:"frames"`
	Timeouts Timeouts       `mapstructure:"timeouts" yaml:"timeouts"`
	Journal  Journal        `mapstructure:"journal" yaml:"journal"`
	Notify   Notify         `mapstructure:"notify" yaml:"notify,omitempty"`

	// File is the configuration file that was read.
	File string `mapstructure:"-" yaml:"-"`

	tz *time.Location
}

var requiredKeys = []string{
	"location.latitude",
	"location.longitude",
	"location.name",
	"location.country",
	"location.timezone",
	"location.elevation",
	"fswebcam.bin",
	"fswebcam.params",
	"fswebcam.dir",
	"fswebcam.ext",
}

var remoteKeys = []string{"remote.hostname", "remote.dir", "remote.rsync"}

// optionalKeys are bound to the environment so overrides work even when the
// file leaves them out.
var optionalKeys = []string{
	"remote.retries",
	"remote.backoff_min",
	"remote.backoff_max",
	"exiv2.bin",
	"enfuse.bin",
	"frames.daylight",
	"frames.twilight",
	"frames.night",
	"timeouts.capture",
	"timeouts.metadata",
	"timeouts.blend",
	"timeouts.copy",
	"timeouts.sync",
	"journal.path",
	"journal.disabled",
	"notify.url",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exiv2.bin", "exiv2")
	v.SetDefault("enfuse.bin", "enfuse")
	v.SetDefault("timeouts.capture", 10*time.Minute)
	v.SetDefault("timeouts.metadata", 30*time.Second)
	v.SetDefault("timeouts.blend", 10*time.Minute)
	v.SetDefault("timeouts.copy", time.Minute)
	v.SetDefault("timeouts.sync", 5*time.Minute)
	v.SetDefault("journal.path", "")
	v.SetDefault("journal.disabled", false)
}

// Load finds, reads and validates the configuration. An empty path searches
// the legacy JSON file in the working directory first, then
// capture-shot.{json,yaml,toml} in ., ~/.config/capture-shot and /etc/capture-shot.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range append(append(append([]string{}, requiredKeys...), remoteKeys...), optionalKeys...) {
		if err := v.BindEnv(k); err != nil {
			return nil, err
		}
	}
	setDefaults(v)

	if path == "" {
		if _, err := os.Stat(LegacyFile); err == nil {
			path = LegacyFile
		}
	}
	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, &Error{Cause: err}
		}
		v.SetConfigFile(expanded)
		if ext := filepath.Ext(expanded); ext == ".conf" || ext == "" {
			v.SetConfigType("json")
		}
	} else {
		v.SetConfigName("capture-shot")
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "capture-shot"))
		}
		v.AddConfigPath("/etc/capture-shot")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return nil, &Error{Cause: fmt.Errorf("no configuration file found: %w", err)}
		}
		return nil, &Error{Cause: fmt.Errorf("read %s: %w", v.ConfigFileUsed(), err)}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cerr := &Error{}
	for _, k := range requiredKeys {
		if !v.IsSet(k) {
			cerr.Missing = append(cerr.Missing, k)
		}
	}
	if anySet(v, remoteKeys) {
		for _, k := range remoteKeys {
			if !v.IsSet(k) {
				cerr.Missing = append(cerr.Missing, k)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		cerr.Cause = err
		return nil, cerr
	}
	cfg.File = v.ConfigFileUsed()
	if cfg.validate(cerr); cerr.HasProblems() {
		return nil, cerr.normalize()
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func anySet(v *viper.Viper, keys []string) bool {
	for _, k := range keys {
		if v.IsSet(k) {
			return true
		}
	}
	return false
}

func (c *Config) validate(cerr *Error) {
	missing := make(map[string]bool, len(cerr.Missing))
	for _, k := range cerr.Missing {
		missing[k] = true
	}
	invalid := func(key, reason string) {
		if !missing[key] {
			cerr.Invalid = append(cerr.Invalid, key+": "+reason)
		}
	}

	if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
		invalid("location.latitude", "must be within [-90, 90]")
	}
	if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
		invalid("location.longitude", "must be within [-180, 180]")
	}
	if c.Location.Timezone == "" {
		invalid("location.timezone", "must not be empty")
	} else if tz, err := time.LoadLocation(c.Location.Timezone); err != nil {
		invalid("location.timezone", err.Error())
	} else {
		c.tz = tz
	}
	if c.Location.Elevation < 0 {
		invalid("location.elevation", "must not be negative")
	}
	if strings.TrimSpace(c.Fswebcam.Bin) == "" {
		invalid("fswebcam.bin", "must not be empty")
	}
	if strings.TrimSpace(c.Fswebcam.Dir) == "" {
		invalid("fswebcam.dir", "must not be empty")
	}
	if _, err := shellquote.Split(c.Fswebcam.Params); err != nil {
		invalid("fswebcam.params", err.Error())
	}
	if strings.Trim(c.Fswebcam.Ext, ". ") == "" {
		invalid("fswebcam.ext", "must not be empty")
	}
	for name, n := range c.Frames {
		if _, err := solar.ParsePhase(name); err != nil {
			invalid("frames."+name, "unknown day phase")
		} else if n <= 0 {
			invalid("frames."+name, "must be positive")
		}
	}
	if c.Remote.Enabled() {
		if words, err := shellquote.Split(c.Remote.Rsync); err != nil {
			invalid("remote.rsync", err.Error())
		} else if len(words) == 0 && c.Remote.Rsync != "" {
			invalid("remote.rsync", "must name a command")
		}
		if c.Remote.Retries < 0 {
			invalid("remote.retries", "must not be negative")
		}
		if c.Remote.BackoffMax > 0 && c.Remote.BackoffMin > c.Remote.BackoffMax {
			invalid("remote.backoff_min", "must not exceed remote.backoff_max")
		}
	}
}

func (c *Config) applyDefaults() {
	c.Fswebcam.Ext = strings.TrimPrefix(c.Fswebcam.Ext, ".")
	if c.Remote.Enabled() {
		if c.Remote.Retries == 0 {
			c.Remote.Retries = 3
		}
		if c.Remote.BackoffMin == 0 {
			c.Remote.BackoffMin = 2 * time.Second
		}
		if c.Remote.BackoffMax == 0 {
			c.Remote.BackoffMax = 30 * time.Second
		}
	}
}

// TZ returns the loaded location timezone.
func (c *Config) TZ() *time.Location {
	if c.tz == nil {
		return time.UTC
	}
	return c.tz
}

// SolarLocation converts the location block for the solar classifier.
func (c *Config) SolarLocation() solar.Location {
	return solar.Location{
		Latitude:  c.Location.Latitude,
		Longitude: c.Location.Longitude,
		Elevation: float64(c.Location.Elevation),
		Timezone:  c.TZ(),
	}
}

// FrameTable returns the default frame table with the configured overrides.
func (c *Config) FrameTable() plan.FrameTable {
	override := plan.FrameTable{}
	for name, n := range c.Frames {
		if p, err := solar.ParsePhase(name); err == nil {
			override[p] = n
		}
	}
	return plan.DefaultFrameTable.Merge(override)
}

// Error is the configuration error. It lists every missing and invalid key
// so a single run reports all of them.
type Error struct {
	Missing []string
	Invalid []string
	Cause   error
}

func (e *Error) HasProblems() bool {
	return len(e.Missing) > 0 || len(e.Invalid) > 0 || e.Cause != nil
}

func (e *Error) normalize() *Error {
	sort.Strings(e.Missing)
	sort.Strings(e.Invalid)
	return e
}

func (e *Error) Error() string {
	var parts []string
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, "; "))
	}
	return "configuration error: " + strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}
