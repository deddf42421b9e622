package apps

import (
	"context"
	"time"

	"rtspc/internal/pkg/metrics"
	"rtspc/internal/pkg/server"
	"rtspc/internal/pkg/validate"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// ServerAppCfg configures a ServerApp.
type ServerAppCfg interface {
	ApplyServerApp(*ServerApp) error
}

// ServerApp is the demo streaming server application.
type ServerApp struct {
	ListenAddr    string        `validate:"required,hostname_port"`
	MediaDir      string        `validate:"required"`
	FrameInterval time.Duration `validate:"gt=0"`
	DropRate      float64       `validate:"gte=0,lte=1"`
	ReorderRate   float64       `validate:"gte=0,lte=1"`
	MetricsAddr   string        `validate:"omitempty,hostname_port"`
}

// NewServerApp creates a new ServerApp.
func NewServerApp(cfgs ...ServerAppCfg) (*ServerApp, error) {
	app := &ServerApp{
		MediaDir:      ".",
		FrameInterval: server.DefaultFrameInterval,
	}
	for _, cfg := range cfgs {
		if err := cfg.ApplyServerApp(app); err != nil {
			return nil, errors.Wrap(err, "apply ServerApp cfg failed")
		}
	}
	if err := validate.Validate().Struct(app); err != nil {
		return nil, errors.Wrap(err, "validate ServerApp failed")
	}
	return app, nil
}

// Run serves until ctx is done.
func (app *ServerApp) Run(ctx context.Context, _ []string) error {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewServer(reg)
	if err != nil {
		return errors.Wrap(err, "create metrics failed")
	}
	stopMetrics, err := serveMetrics(app.MetricsAddr, reg)
	if err != nil {
		return errors.Wrap(err, "serve metrics failed")
	}
	defer stopMetrics()

	s, err := server.NewServer(
		server.WithMediaDir(app.MediaDir),
		server.WithFrameInterval(app.FrameInterval),
		server.WithDropRate(app.DropRate),
		server.WithReorderRate(app.ReorderRate),
		server.WithMetrics(m),
	)
	if err != nil {
		return errors.Wrap(err, "create server failed")
	}
	return errors.Wrap(s.ListenAndServe(ctx, app.ListenAddr), "serve failed")
}
