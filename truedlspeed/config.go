package truedlspeed

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "TRUEDLSPEED"

// Config is everything the terminal front end can be told, merged from
// defaults, an optional truedlspeed.yaml, TRUEDLSPEED_* variables and flags,
// in increasing priority.
type Config struct {
	URL          string
	Target       string
	Unit         Unit
	Protocol     string
	DialTimeout  time.Duration
	ChunkSize    int
	Window       time.Duration
	UserAgent    string
	ProbeCommand []string
	FramePeriod  time.Duration
	Alpha        float64
	Epsilon      float64
	ScaleFile    string
	Duration     time.Duration
	ShowLog      bool
	Gauge        bool
	LogLevel     string
}

func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("url", DefaultDownloadURL)
	v.SetDefault("target", DefaultLatencyTarget)
	v.SetDefault("unit", UnitMbps.String())
	v.SetDefault("protocol", "tcp")
	v.SetDefault("dial-timeout", defaultDialTimeout)
	v.SetDefault("chunk-size", defaultChunkSize)
	v.SetDefault("window", defaultWindow)
	v.SetDefault("user-agent", defaultUserAgent)
	v.SetDefault("probe-command", defaultProbeCommand)
	v.SetDefault("frame-period", DefaultFramePeriod)
	v.SetDefault("alpha", DefaultSmoothingAlpha)
	v.SetDefault("epsilon", DefaultSmoothingEpsilon)
	v.SetDefault("log-level", "info")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// AddFlags registers the measurement flags; their names double as config
// keys.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("url", DefaultDownloadURL, "URL of the payload to download")
	fs.String("target", DefaultLatencyTarget, "Host or address to ping")
	fs.String("unit", UnitMbps.String(), "Throughput unit, Mbps or MB/s")
	fs.BoolP("ip4", "4", false, "Ensure measurements over IPv4")
	fs.BoolP("ip6", "6", false, "Ensure measurements over IPv6")
	fs.Duration("dial-timeout", defaultDialTimeout, "Timeout for establishing the download connection")
	fs.Int("chunk-size", defaultChunkSize, "Read size for the download stream, in bytes")
	fs.Duration("window", defaultWindow, "Width of a throughput sampling window")
	fs.String("user-agent", defaultUserAgent, "User-Agent header sent with the download")
	fs.StringSlice("probe-command", defaultProbeCommand, "Latency probe command; the target is appended")
	fs.Duration("frame-period", DefaultFramePeriod, "Gauge animation frame period")
	fs.Float64("alpha", DefaultSmoothingAlpha, "Fraction of the gap the gauge closes per frame")
	fs.Float64("epsilon", DefaultSmoothingEpsilon, "Gap at which the gauge snaps to its target")
	fs.String("scale", "", "YAML file with gauge breakpoints")
	fs.Duration("duration", 0, "Stop measuring after this long (0 runs until done or interrupted)")
	fs.Bool("show-log", false, "Print the ping log when the ping session ends")
	fs.Bool("gauge", false, "Draw a smoothed gauge line while downloading")
	fs.String("log-level", "info", "Diagnostic log level (trace, debug, info, warn, error)")
}

// ReadConfigFile merges a config file into v. With an empty path it looks
// for truedlspeed.yaml in the working directory and ~/.config/truedlspeed,
// and a missing file is fine.
func ReadConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("truedlspeed")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/truedlspeed")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "could not read config file")
	}
	return nil
}

func LoadConfig(v *viper.Viper) (*Config, error) {
	unit, err := ParseUnit(v.GetString("unit"))
	if err != nil {
		return nil, err
	}

	protocol := v.GetString("protocol")
	ip4, ip6 := v.GetBool("ip4"), v.GetBool("ip6")
	switch {
	case ip4 && !ip6:
		protocol = "tcp4"
	case ip6 && !ip4:
		protocol = "tcp6"
	}
	if protocol != "tcp" && protocol != "tcp4" && protocol != "tcp6" {
		return nil, errors.Errorf("unknown protocol %q", protocol)
	}

	cfg := &Config{
		URL:          v.GetString("url"),
		Target:       v.GetString("target"),
		Unit:         unit,
		Protocol:     protocol,
		DialTimeout:  v.GetDuration("dial-timeout"),
		ChunkSize:    v.GetInt("chunk-size"),
		Window:       v.GetDuration("window"),
		UserAgent:    v.GetString("user-agent"),
		ProbeCommand: v.GetStringSlice("probe-command"),
		FramePeriod:  v.GetDuration("frame-period"),
		Alpha:        v.GetFloat64("alpha"),
		Epsilon:      v.GetFloat64("epsilon"),
		ScaleFile:    v.GetString("scale"),
		Duration:     v.GetDuration("duration"),
		ShowLog:      v.GetBool("show-log"),
		Gauge:        v.GetBool("gauge"),
		LogLevel:     v.GetString("log-level"),
	}

	if cfg.ChunkSize <= 0 {
		return nil, errors.Errorf("chunk-size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.Window <= 0 {
		return nil, errors.Errorf("window must be positive, got %s", cfg.Window)
	}
	if cfg.DialTimeout <= 0 {
		return nil, errors.Errorf("dial-timeout must be positive, got %s", cfg.DialTimeout)
	}
	if cfg.Duration < 0 {
		return nil, errors.Errorf("duration must not be negative, got %s", cfg.Duration)
	}
	if !(cfg.Alpha > 0 && cfg.Alpha <= 1) {
		return nil, errors.Errorf("alpha must be in (0, 1], got %v", cfg.Alpha)
	}
	if !(cfg.Epsilon > 0) {
		return nil, errors.Errorf("epsilon must be positive, got %v", cfg.Epsilon)
	}
	if cfg.FramePeriod <= 0 {
		return nil, errors.Errorf("frame-period must be positive, got %s", cfg.FramePeriod)
	}
	if len(cfg.ProbeCommand) == 0 {
		return nil, errors.New("probe-command must not be empty")
	}
	return cfg, nil
}

func (c *Config) NewThroughputSampler(logger *zerolog.Logger) *ThroughputSampler {
	return &ThroughputSampler{
		Client:    NewHTTPClient(c.Protocol, c.DialTimeout),
		UserAgent: c.UserAgent,
		ChunkSize: c.ChunkSize,
		Window:    c.Window,
		Logger:    logger,
	}
}

func (c *Config) NewLatencySampler(logger *zerolog.Logger) *LatencySampler {
	return &LatencySampler{
		ProbeCommand: c.ProbeCommand,
		Logger:       logger,
	}
}

func (c *Config) NewSmoothingEngine(onFrame func(float64)) (*SmoothingEngine, error) {
	return NewSmoothingEngine(SmoothingOptions{
		Alpha:   c.Alpha,
		Epsilon: c.Epsilon,
		Period:  c.FramePeriod,
		OnFrame: onFrame,
	})
}

func (c *Config) GaugeScale() (*GaugeScale, error) {
	if c.ScaleFile == "" {
		return DefaultGaugeScale(), nil
	}
	return LoadGaugeScale(c.ScaleFile)
}
