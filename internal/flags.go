// Package internal holds the command line flags shared by the commands.
//
// Every flag falls back to an environment variable, so the commands can be configured
// either way. Flags passed explicitly win over the environment.
package internal

import (
	"os"
	"strconv"
	"time"

	"rtspc/internal/pkg/validate"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Flag describes a command line flag bound to a package variable.
type Flag struct {
	Name  string
	Env   string
	Usage string
	// Value points to the variable the flag is parsed into: *string, *int, *float64 or *time.Duration.
	// The variable's initial value is the default.
	Value interface{}
	// Validate is a validator tag checked by ValidateEnv.
	Validate string
}

// Flag values.
var (
	Env         = "dev"
	LogLevel    = "error"
	ConfigFile  = ""
	Host        = "localhost"
	Port        = 8554
	MetricsAddr = ""

	Media           = "movie.Mjpeg"
	Duration        = 10 * time.Second
	OutputDir       = ""
	PlaybackRateMS  = 40
	BufferThreshold = 120

	MediaDir        = "."
	FrameIntervalMS = 50
	DropRate        = 0.0
	ReorderRate     = 0.0
)

// Flag definitions.
var (
	EnvFlag = Flag{
		Name: "env", Env: "RTSPC_ENV", Value: &Env,
		Usage:    "Environment the command runs in.",
		Validate: "oneof=dev test prod",
	}
	LogLevelFlag = Flag{
		Name: "log-level", Env: "RTSPC_LOG_LEVEL", Value: &LogLevel,
		Usage:    "Log level: trace, debug, info, warn or error.",
		Validate: "oneof=trace debug info warn error",
	}
	ConfigFileFlag = Flag{
		Name: "config", Env: "RTSPC_CONFIG", Value: &ConfigFile,
		Usage:    "Optional TOML or YAML config file. Its non-empty values override flags.",
		Validate: "omitempty,file",
	}
	HostFlag = Flag{
		Name: "host", Env: "RTSPC_HOST", Value: &Host,
		Usage:    "Host of the server: the address to connect to, or to listen on.",
		Validate: "required",
	}
	PortFlag = Flag{
		Name: "port", Env: "RTSPC_PORT", Value: &Port,
		Usage:    "Port of the server's control channel.",
		Validate: "min=1,max=65535",
	}
	MetricsAddrFlag = Flag{
		Name: "metrics-addr", Env: "RTSPC_METRICS_ADDR", Value: &MetricsAddr,
		Usage:    "Address to serve Prometheus metrics on, disabled when empty.",
		Validate: "omitempty,hostname_port",
	}

	MediaFlag = Flag{
		Name: "media", Env: "RTSPC_MEDIA", Value: &Media,
		Usage:    "Media to play.",
		Validate: "required",
	}
	DurationFlag = Flag{
		Name: "duration", Env: "RTSPC_DURATION", Value: &Duration,
		Usage:    "How long to play before tearing down, 0 to play until interrupted.",
		Validate: "gte=0",
	}
	OutputDirFlag = Flag{
		Name: "output-dir", Env: "RTSPC_OUTPUT_DIR", Value: &OutputDir,
		Usage:    "Directory to write every played frame to as <seq>.jpg, disabled when empty.",
		Validate: "omitempty,dir",
	}
	PlaybackRateMSFlag = Flag{
		Name: "playback-rate-ms", Env: "RTSPC_PLAYBACK_RATE_MS", Value: &PlaybackRateMS,
		Usage:    "Milliseconds between two played frames.",
		Validate: "min=1",
	}
	BufferThresholdFlag = Flag{
		Name: "buffer-threshold", Env: "RTSPC_BUFFER_THRESHOLD", Value: &BufferThreshold,
		Usage:    "Playback starts once more than half this many packets are buffered.",
		Validate: "min=0",
	}

	MediaDirFlag = Flag{
		Name: "media-dir", Env: "RTSPC_MEDIA_DIR", Value: &MediaDir,
		Usage:    "Directory the server looks up media in.",
		Validate: "required",
	}
	FrameIntervalMSFlag = Flag{
		Name: "frame-interval-ms", Env: "RTSPC_FRAME_INTERVAL_MS", Value: &FrameIntervalMS,
		Usage:    "Milliseconds between two datagrams sent by the server.",
		Validate: "min=1",
	}
	DropRateFlag = Flag{
		Name: "drop-rate", Env: "RTSPC_DROP_RATE", Value: &DropRate,
		Usage:    "Probability that the server drops a datagram.",
		Validate: "gte=0,lte=1",
	}
	ReorderRateFlag = Flag{
		Name: "reorder-rate", Env: "RTSPC_REORDER_RATE", Value: &ReorderRate,
		Usage:    "Probability that the server sends a datagram after its successor.",
		Validate: "gte=0,lte=1",
	}
)

var registered []*Flag

// RegisterCommandFlags adds flags to cmd as persistent flags, defaulting to their environment variables.
func RegisterCommandFlags(cmd *cobra.Command, flags []*Flag) error {
	for _, f := range flags {
		env, hasEnv := os.LookupEnv(f.Env)
		switch v := f.Value.(type) {
		case *string:
			if hasEnv {
				*v = env
			}
			cmd.PersistentFlags().StringVar(v, f.Name, *v, f.Usage)
		case *int:
			if hasEnv {
				n, err := strconv.Atoi(env)
				if err != nil {
					return errors.Wrapf(err, "parse %s failed", f.Env)
				}
				*v = n
			}
			cmd.PersistentFlags().IntVar(v, f.Name, *v, f.Usage)
		case *float64:
			if hasEnv {
				x, err := strconv.ParseFloat(env, 64)
				if err != nil {
					return errors.Wrapf(err, "parse %s failed", f.Env)
				}
				*v = x
			}
			cmd.PersistentFlags().Float64Var(v, f.Name, *v, f.Usage)
		case *time.Duration:
			if hasEnv {
				d, err := time.ParseDuration(env)
				if err != nil {
					return errors.Wrapf(err, "parse %s failed", f.Env)
				}
				*v = d
			}
			cmd.PersistentFlags().DurationVar(v, f.Name, *v, f.Usage)
		default:
			return errors.Errorf("flag %s has unsupported type %T", f.Name, f.Value)
		}
		registered = append(registered, f)
	}
	return nil
}

// ValidateEnv checks the value of every registered flag.
func ValidateEnv() error {
	for _, f := range registered {
		if f.Validate == "" {
			continue
		}
		var value interface{}
		switch v := f.Value.(type) {
		case *string:
			value = *v
		case *int:
			value = *v
		case *float64:
			value = *v
		case *time.Duration:
			value = int64(*v)
		}
		if err := validate.Validate().Var(value, f.Validate); err != nil {
			return errors.Wrapf(err, "invalid --%s", f.Name)
		}
	}
	return nil
}
