package cfg

import (
	"time"

	"rtspc/internal"
	"rtspc/internal/app/apps"
)

// ClientTuningCfg is configuration for the client's playback.
type ClientTuningCfg struct {
	Media           string
	Duration        time.Duration
	OutputDir       string
	PlaybackRate    time.Duration
	BufferThreshold int
	MetricsAddr     string
}

// ClientTuningFromEnv creates a new ClientTuningCfg from the current environment.
func ClientTuningFromEnv() *ClientTuningCfg {
	return &ClientTuningCfg{
		Media:           internal.Media,
		Duration:        internal.Duration,
		OutputDir:       internal.OutputDir,
		PlaybackRate:    time.Duration(internal.PlaybackRateMS) * time.Millisecond,
		BufferThreshold: internal.BufferThreshold,
		MetricsAddr:     internal.MetricsAddr,
	}
}

// ApplyClientApp applies the ClientTuningCfg to a ClientApp.
func (cfg ClientTuningCfg) ApplyClientApp(app *apps.ClientApp) error {
	app.Media = cfg.Media
	app.Duration = cfg.Duration
	app.OutputDir = cfg.OutputDir
	app.PlaybackRate = cfg.PlaybackRate
	app.BufferThreshold = cfg.BufferThreshold
	app.MetricsAddr = cfg.MetricsAddr
	return nil
}

// ServerTuningCfg is configuration for the server's streaming.
type ServerTuningCfg struct {
	MediaDir      string
	FrameInterval time.Duration
	DropRate      float64
	ReorderRate   float64
	MetricsAddr   string
}

// ServerTuningFromEnv creates a new ServerTuningCfg from the current environment.
func ServerTuningFromEnv() *ServerTuningCfg {
	return &ServerTuningCfg{
		MediaDir:      internal.MediaDir,
		FrameInterval: time.Duration(internal.FrameIntervalMS) * time.Millisecond,
		DropRate:      internal.DropRate,
		ReorderRate:   internal.ReorderRate,
		MetricsAddr:   internal.MetricsAddr,
	}
}

// ApplyServerApp applies the ServerTuningCfg to a ServerApp.
func (cfg ServerTuningCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.MediaDir = cfg.MediaDir
	app.FrameInterval = cfg.FrameInterval
	app.DropRate = cfg.DropRate
	app.ReorderRate = cfg.ReorderRate
	app.MetricsAddr = cfg.MetricsAddr
	return nil
}
