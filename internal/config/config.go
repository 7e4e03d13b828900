// Package config resolves the monitor settings from flags, MONITOR_*
// environment variables and an optional YAML file, in that order of
// precedence.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/keilerkonzept/live-score-monitor/internal/animator"
	"github.com/keilerkonzept/live-score-monitor/internal/channel"
	"github.com/keilerkonzept/live-score-monitor/internal/logparse"
)

const EnvPrefix = "MONITOR"

// DefaultLogs are used when no --log-path is given.
var DefaultLogs = []string{
	"/dockerx/data/rl/logs-53m/MsPacman-v0_log",
	"/dockerx/data/rl/logs-150m/MsPacman-v0_log",
	"/dockerx/data/rl/logs-550/MsPacman-v0_log",
	"/dockerx/data/rl/logs-690/MsPacman-v0_log",
}

type Config struct {
	// input
	LogPath    string   `mapstructure:"log-path"`
	LogGlob    string   `mapstructure:"log-glob"`
	Logs       []string `mapstructure:"logs"`
	SkipRows   int      `mapstructure:"skip-rows"`
	TimeCol    int      `mapstructure:"time-col"`
	ScoreCol   int      `mapstructure:"score-col"`
	ScoreToken int      `mapstructure:"score-token"`
	Delimiter  string   `mapstructure:"delimiter"`
	Stride     int      `mapstructure:"stride"`

	// channel
	Addr             string        `mapstructure:"addr"`
	AuthKey          string        `mapstructure:"authkey"`
	HandshakeTimeout time.Duration `mapstructure:"handshake-timeout"`
	ReceiveTimeout   time.Duration `mapstructure:"receive-timeout"`

	// render
	XMin        float64       `mapstructure:"x-min"`
	XMax        float64       `mapstructure:"x-max"`
	YMin        float64       `mapstructure:"y-min"`
	YMax        float64       `mapstructure:"y-max"`
	FramePause  time.Duration `mapstructure:"frame-pause"`
	Headless    bool          `mapstructure:"headless"`
	SnapshotDir string        `mapstructure:"snapshot-dir"`
	AltScreen   bool          `mapstructure:"alt-screen"`

	// observability
	StatsWindow   int           `mapstructure:"stats-window"`
	TrafficWindow time.Duration `mapstructure:"traffic-window"`
	MetricsAddr   string        `mapstructure:"metrics-addr"`
	LogLevel      string        `mapstructure:"log-level"`
	LogFile       string        `mapstructure:"log-file"`

	ConfigFile string `mapstructure:"config"`
}

func flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("monitor", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.String("log-path", "", "Directory of training logs; every file matching --log-glob becomes a slot")
	fs.String("log-glob", logparse.DefaultGlob, "Pattern of log files inside --log-path")
	fs.StringSlice("logs", DefaultLogs, "Log files to plot, in slot order (ignored with --log-path)")
	fs.Int("skip-rows", logparse.DefaultSkipRows, "Header lines to skip in every log")
	fs.Int("time-col", logparse.DefaultTimeCol, "Field holding the timestamp")
	fs.Int("score-col", logparse.DefaultScoreCol, "Field holding the score sub-record")
	fs.Int("score-token", logparse.DefaultScoreToken, "Zero-based token of the score inside the sub-record")
	fs.String("delimiter", string(logparse.DefaultDelimiter), "Field delimiter")
	fs.Int("stride", logparse.DefaultStride, "Keep the first data row, then every Nth row after it")

	fs.String("addr", channel.DefaultAddress, "Address the producer connects to")
	fs.String("authkey", channel.DefaultAuthKey, "Shared token the producer must prove")
	fs.Duration("handshake-timeout", channel.DefaultHandshakeTimeout, "Time a candidate gets to authenticate")
	fs.Duration("receive-timeout", 0, "Stop when no message arrives for this long (0 = wait forever)")

	fs.Float64("x-min", animator.DefaultBounds.XMin, "Left edge of the time axis (minutes)")
	fs.Float64("x-max", animator.DefaultBounds.XMax, "Right edge of the time axis (minutes)")
	fs.Float64("y-min", animator.DefaultBounds.YMin, "Bottom of the score axis")
	fs.Float64("y-max", animator.DefaultBounds.YMax, "Top of the score axis")
	fs.Duration("frame-pause", time.Millisecond, "Pause after every redraw")
	fs.Bool("headless", false, "Render frames as PNG files instead of the terminal UI")
	fs.String("snapshot-dir", "", "Directory for PNG frames (headless) and exported frames (UI)")
	fs.Bool("alt-screen", true, "Use the terminal alternate screen buffer")

	fs.Int("stats-window", 256, "Number of recent samples kept per metric")
	fs.Duration("traffic-window", time.Minute, "Window of the payload traffic ranking")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (empty = off)")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("log-file", "", "Write logs here (default: stderr headless, discarded in the UI)")

	fs.String("config", "", "Optional YAML config file")
	return fs
}

// Load parses args (without the program name). It returns pflag.ErrHelp
// when help was requested.
func Load(args []string) (*Config, error) {
	fs := flagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(err, "bind flags")
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Usage renders the flag help.
func Usage() string {
	return flagSet().FlagUsages()
}

// Validate checks ranges and normalizes soft limits.
func (c *Config) Validate() error {
	if c.LogPath == "" && len(c.Logs) == 0 {
		return fmt.Errorf("--logs or --log-path is required")
	}
	if c.SkipRows < 0 {
		return fmt.Errorf("--skip-rows must be >= 0")
	}
	if c.Stride < 1 {
		return fmt.Errorf("--stride must be >= 1")
	}
	if c.TimeCol < 0 || c.ScoreCol < 0 {
		return fmt.Errorf("--time-col and --score-col must be >= 0")
	}
	if c.ScoreToken < 0 {
		return fmt.Errorf("--score-token must be >= 0")
	}
	if _, err := c.delimiter(); err != nil {
		return err
	}
	if err := validateAddr(c.Addr); err != nil {
		return errors.Wrap(err, "--addr")
	}
	if c.AuthKey == "" {
		return fmt.Errorf("--authkey must not be empty")
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("--handshake-timeout must be > 0")
	}
	if c.ReceiveTimeout < 0 {
		return fmt.Errorf("--receive-timeout must be >= 0")
	}
	if err := c.Bounds().Validate(); err != nil {
		return errors.Wrap(err, "axis bounds")
	}
	if c.FramePause < 0 {
		return fmt.Errorf("--frame-pause must be >= 0")
	}
	if c.Headless && c.SnapshotDir == "" {
		return fmt.Errorf("--headless requires --snapshot-dir")
	}
	if c.MetricsAddr != "" {
		if err := validateAddr(c.MetricsAddr); err != nil {
			return errors.Wrap(err, "--metrics-addr")
		}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "--log-level")
	}
	if c.StatsWindow < 16 {
		c.StatsWindow = 16
	}
	if c.TrafficWindow < time.Second {
		c.TrafficWindow = time.Second
	}
	return nil
}

func validateAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("bad port %q", port)
	}
	return nil
}

func (c *Config) delimiter() (rune, error) {
	d := c.Delimiter
	if d == `\t` {
		d = "\t"
	}
	if utf8.RuneCountInString(d) != 1 {
		return 0, fmt.Errorf("--delimiter must be a single character, got %q", c.Delimiter)
	}
	r, _ := utf8.DecodeRuneInString(d)
	return r, nil
}

func (c *Config) ParseOptions() logparse.Options {
	d, _ := c.delimiter()
	return logparse.Options{
		SkipRows:   c.SkipRows,
		TimeCol:    c.TimeCol,
		ScoreCol:   c.ScoreCol,
		ScoreToken: c.ScoreToken,
		Delimiter:  d,
		Stride:     c.Stride,
	}
}

func (c *Config) Bounds() animator.Bounds {
	return animator.Bounds{XMin: c.XMin, XMax: c.XMax, YMin: c.YMin, YMax: c.YMax}
}

func (c *Config) ChannelOptions() channel.Options {
	return channel.Options{
		HandshakeTimeout: c.HandshakeTimeout,
		ReceiveTimeout:   c.ReceiveTimeout,
	}
}

// LogFiles lists the logs to load, one per slot.
func (c *Config) LogFiles() ([]string, error) {
	if c.LogPath != "" {
		return logparse.Discover(c.LogPath, c.LogGlob)
	}
	return c.Logs, nil
}
