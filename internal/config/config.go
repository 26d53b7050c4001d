// Package config loads the TOML configuration shared by the mi7 daemon,
// worker and entry processes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gx1727/mi7soft/mi7"
)

// SearchPaths are tried in order by Find when no path is given.
var SearchPaths = []string{"config.toml", "./config/config.toml"}

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

var logLevels = []string{"trace", "debug", "info", "warn", "error"}

// Config is the whole configuration file.
type Config struct {
	SharedMemory SharedMemory `toml:"shared_memory"`
	Queue        Queue        `toml:"queue"`
	Entry        Entry        `toml:"entry"`
	Worker       Worker       `toml:"worker"`
	Daemon       Daemon       `toml:"daemon"`
	Logging      Logging      `toml:"logging"`
	HTTP         HTTP         `toml:"http"`
}

// SharedMemory names the daemon's control segment.
type SharedMemory struct {
	Name string `toml:"name"`
}

// Queue describes the task queue the daemon creates.
type Queue struct {
	Name   string `toml:"name"`
	Preset string `toml:"preset"`
	// Capacity and SlotSize override the preset when non-zero.
	Capacity   int  `toml:"capacity"`
	SlotSize   int  `toml:"slot_size"`
	Persistent bool `toml:"persistent"`
}

// Entry configures the HTTP entry process.
type Entry struct {
	InterfaceName  string `toml:"interface_name"`
	InterfaceType  string `toml:"interface_type"`
	LogLevel       string `toml:"log_level"`
	RetryTimeoutMs int    `toml:"retry_timeout_ms"`
}

// Worker configures the worker process.
type Worker struct {
	InterfaceName string `toml:"interface_name"`
	InterfaceType string `toml:"interface_type"`
	LogPrefix     string `toml:"log_prefix"`
	LogLevel      string `toml:"log_level"`
	Concurrency   int    `toml:"concurrency"`
	// JournalPath enables the sqlite journal when set.
	JournalPath string `toml:"journal_path"`
}

// Daemon configures the daemon process.
type Daemon struct {
	PidFile                string `toml:"pid_file"`
	MonitorIntervalSeconds int    `toml:"monitor_interval_seconds"`
}

// Logging configures log output for every process.
type Logging struct {
	LogPath       string `toml:"log_path"`
	LogPrefix     string `toml:"log_prefix"`
	ConsoleOutput bool   `toml:"console_output"`
	Level         string `toml:"level"`
}

// HTTP configures the entry listener.
type HTTP struct {
	Port           int    `toml:"port"`
	BindAddress    string `toml:"bind_address"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxConnections int    `toml:"max_connections"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		SharedMemory: SharedMemory{Name: "mi7_daemon_queue"},
		Queue: Queue{
			Name:   "mi7_task_queue",
			Preset: "default",
		},
		Entry: Entry{
			InterfaceName:  "mi7_task_queue",
			InterfaceType:  "default",
			LogLevel:       "info",
			RetryTimeoutMs: 2000,
		},
		Worker: Worker{
			InterfaceName: "mi7_task_queue",
			InterfaceType: "default",
			LogPrefix:     "workers",
			LogLevel:      "info",
			Concurrency:   4,
		},
		Daemon: Daemon{
			PidFile:                "./mi7-daemon.pid",
			MonitorIntervalSeconds: 5,
		},
		Logging: Logging{
			LogPath:       "./logs",
			LogPrefix:     "mi7",
			ConsoleOutput: true,
			Level:         "info",
		},
		HTTP: HTTP{
			Port:           8888,
			BindAddress:    "0.0.0.0",
			TimeoutSeconds: 30,
			MaxConnections: 1000,
		},
	}
}

// Load reads path on top of the defaults. Keys the file sets but Config
// does not know are an error.
func Load(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %q err:%w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: %q has unknown keys: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}
	return c, nil
}

// Find loads the first existing file among paths, or SearchPaths when
// paths is empty. It returns the defaults and an empty path when none
// exists.
func Find(paths ...string) (*Config, string, error) {
	if len(paths) == 0 {
		paths = SearchPaths
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, "", err
		}
		c, err := Load(p)
		return c, p, err
	}
	return Default(), "", nil
}

// Save writes c to path as TOML, creating parent directories.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %q err:%w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode config err:%w", err)
	}
	return f.Close()
}

// QueueGeometry is the geometry of the daemon queue: the preset, with
// non-zero capacity and slot size taking precedence.
func (c *Config) QueueGeometry() (mi7.Geometry, error) {
	g, err := mi7.Preset(c.Queue.Preset)
	if err != nil {
		return g, err
	}
	if c.Queue.Capacity != 0 {
		g.Capacity = c.Queue.Capacity
	}
	if c.Queue.SlotSize != 0 {
		g.SlotSize = c.Queue.SlotSize
	}
	return g, g.Validate()
}

// InterfaceGeometry resolves the geometry a client expects for the queue
// called name with the given interface type. The daemon queue keeps its
// own overrides.
func (c *Config) InterfaceGeometry(name, kind string) (mi7.Geometry, error) {
	if name == c.Queue.Name && strings.EqualFold(strings.TrimSpace(kind), c.Queue.Preset) {
		return c.QueueGeometry()
	}
	return mi7.Preset(kind)
}

// MonitorInterval returns the daemon monitor period.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Daemon.MonitorIntervalSeconds) * time.Second
}

// RetryTimeout returns how long the entry retries a full queue.
func (c *Config) RetryTimeout() time.Duration {
	return time.Duration(c.Entry.RetryTimeoutMs) * time.Millisecond
}

// HTTPTimeout returns the server read and write timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Addr returns the entry listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.BindAddress, c.HTTP.Port)
}

// Validate checks c for values no process could run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.SharedMemory.Name != "", "shared_memory.name is empty")
	check(c.Queue.Name != "", "queue.name is empty")
	check(c.Entry.InterfaceName != "", "entry.interface_name is empty")
	check(c.Worker.InterfaceName != "", "worker.interface_name is empty")
	check(c.Worker.Concurrency > 0, "worker.concurrency %d must be positive", c.Worker.Concurrency)
	check(c.Entry.RetryTimeoutMs >= 0, "entry.retry_timeout_ms %d is negative", c.Entry.RetryTimeoutMs)
	check(c.Daemon.MonitorIntervalSeconds > 0, "daemon.monitor_interval_seconds %d must be positive",
		c.Daemon.MonitorIntervalSeconds)
	check(c.HTTP.Port > 0 && c.HTTP.Port < 1<<16, "http.port %d out of range", c.HTTP.Port)
	check(c.HTTP.TimeoutSeconds > 0, "http.timeout_seconds %d must be positive", c.HTTP.TimeoutSeconds)
	check(c.HTTP.MaxConnections > 0, "http.max_connections %d must be positive", c.HTTP.MaxConnections)

	for _, lv := range [][2]string{
		{"entry.log_level", c.Entry.LogLevel},
		{"worker.log_level", c.Worker.LogLevel},
		{"logging.level", c.Logging.Level},
	} {
		check(slices.Contains(logLevels, strings.ToLower(lv[1])),
			"%s %q is not one of %s", lv[0], lv[1], strings.Join(logLevels, ", "))
	}

	qgeo, err := c.QueueGeometry()
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: queue: %w", ErrInvalid, err))
	}
	for _, side := range []struct {
		key        string
		name, kind string
	}{
		{"entry", c.Entry.InterfaceName, c.Entry.InterfaceType},
		{"worker", c.Worker.InterfaceName, c.Worker.InterfaceType},
	} {
		g, err := c.InterfaceGeometry(side.name, side.kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s.interface_type: %w", ErrInvalid, side.key, err))
			continue
		}
		if side.name == c.Queue.Name && qgeo.Validate() == nil && !g.IsCompatible(qgeo) {
			errs = append(errs, fmt.Errorf("%w: %s expects %s but queue %q is %s",
				ErrInvalid, side.key, g, c.Queue.Name, qgeo))
		}
	}
	return errors.Join(errs...)
}
