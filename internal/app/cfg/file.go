package cfg

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"rtspc/internal/app/apps"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// File is the layout of a config file. Empty values are left alone when applied.
type File struct {
	LogLevel string     `toml:"log_level" yaml:"log_level"`
	Client   ClientFile `toml:"client" yaml:"client"`
	Server   ServerFile `toml:"server" yaml:"server"`
}

// ClientFile is the client section of a config file.
type ClientFile struct {
	ServerAddr      string   `toml:"server_addr" yaml:"server_addr"`
	Media           string   `toml:"media" yaml:"media"`
	Duration        Duration `toml:"duration" yaml:"duration"`
	OutputDir       string   `toml:"output_dir" yaml:"output_dir"`
	PlaybackRate    Duration `toml:"playback_rate" yaml:"playback_rate"`
	BufferThreshold int      `toml:"buffer_threshold" yaml:"buffer_threshold"`
	MetricsAddr     string   `toml:"metrics_addr" yaml:"metrics_addr"`
}

// ServerFile is the server section of a config file.
type ServerFile struct {
	ListenAddr    string   `toml:"listen_addr" yaml:"listen_addr"`
	MediaDir      string   `toml:"media_dir" yaml:"media_dir"`
	FrameInterval Duration `toml:"frame_interval" yaml:"frame_interval"`
	DropRate      float64  `toml:"drop_rate" yaml:"drop_rate"`
	ReorderRate   float64  `toml:"reorder_rate" yaml:"reorder_rate"`
	MetricsAddr   string   `toml:"metrics_addr" yaml:"metrics_addr"`
}

// Duration is a time.Duration written as "40ms" in config files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler, used by both decoders.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "parse duration %q failed", text)
	}
	*d = Duration(v)
	return nil
}

// FileCfg is configuration read from a TOML or YAML file.
type FileCfg struct {
	file File
}

// NewFileCfg creates a new FileCfg from the given config.
func NewFileCfg(file File) *FileCfg {
	return &FileCfg{file: file}
}

// LoadFileCfg reads a FileCfg from path, picking the decoder by extension.
func LoadFileCfg(path string) (*FileCfg, error) {
	data, err := os.ReadFile(path) // nolint: gosec // path is given by the operator
	if err != nil {
		return nil, errors.Wrapf(err, "read %s failed", path)
	}
	var file File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &file); err != nil {
			return nil, errors.Wrapf(err, "decode %s failed", path)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, errors.Wrapf(err, "decode %s failed", path)
		}
	default:
		return nil, errors.Errorf("unsupported config file extension %q", ext)
	}
	return &FileCfg{file: file}, nil
}

// LogLevel returns the log level of the file, empty when unset.
func (cfg FileCfg) LogLevel() string {
	return cfg.file.LogLevel
}

// ApplyClientApp applies the FileCfg to a ClientApp.
func (cfg FileCfg) ApplyClientApp(app *apps.ClientApp) error {
	c := cfg.file.Client
	setString(&app.ServerAddr, c.ServerAddr)
	setString(&app.Media, c.Media)
	setDuration(&app.Duration, c.Duration)
	setString(&app.OutputDir, c.OutputDir)
	setDuration(&app.PlaybackRate, c.PlaybackRate)
	if c.BufferThreshold != 0 {
		app.BufferThreshold = c.BufferThreshold
	}
	setString(&app.MetricsAddr, c.MetricsAddr)
	return nil
}

// ApplyServerApp applies the FileCfg to a ServerApp.
func (cfg FileCfg) ApplyServerApp(app *apps.ServerApp) error {
	s := cfg.file.Server
	setString(&app.ListenAddr, s.ListenAddr)
	setString(&app.MediaDir, s.MediaDir)
	setDuration(&app.FrameInterval, s.FrameInterval)
	if s.DropRate != 0 {
		app.DropRate = s.DropRate
	}
	if s.ReorderRate != 0 {
		app.ReorderRate = s.ReorderRate
	}
	setString(&app.MetricsAddr, s.MetricsAddr)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v Duration) {
	if v != 0 {
		*dst = time.Duration(v)
	}
}
