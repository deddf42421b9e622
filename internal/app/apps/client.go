package apps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"rtspc/internal/pkg/client"
	"rtspc/internal/pkg/log"
	"rtspc/internal/pkg/metrics"
	"rtspc/internal/pkg/packet"
	"rtspc/internal/pkg/session"
	"rtspc/internal/pkg/stats"
	"rtspc/internal/pkg/validate"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const teardownTimeout = 5 * time.Second

// ClientAppCfg configures a ClientApp.
type ClientAppCfg interface {
	ApplyClientApp(*ClientApp) error
}

// ClientApp is the demo client application: it plays one media for a while and
// optionally writes every played frame to disk.
type ClientApp struct {
	ServerAddr      string        `validate:"required,hostname_port"`
	Media           string        `validate:"required"`
	Duration        time.Duration `validate:"gte=0"`
	OutputDir       string
	PlaybackRate    time.Duration `validate:"gt=0"`
	BufferThreshold int           `validate:"gte=0"`
	MetricsAddr     string        `validate:"omitempty,hostname_port"`

	mu     sync.Mutex
	report stats.Report
	frames int
}

// NewClientApp creates a new ClientApp.
func NewClientApp(cfgs ...ClientAppCfg) (*ClientApp, error) {
	app := &ClientApp{
		PlaybackRate:    40 * time.Millisecond,
		BufferThreshold: 120,
	}
	for _, cfg := range cfgs {
		if err := cfg.ApplyClientApp(app); err != nil {
			return nil, errors.Wrap(err, "apply ClientApp cfg failed")
		}
	}
	if err := validate.Validate().Struct(app); err != nil {
		return nil, errors.Wrap(err, "validate ClientApp failed")
	}
	return app, nil
}

// Run plays the media until Duration elapsed or ctx is done, then tears down.
func (app *ClientApp) Run(ctx context.Context, _ []string) error {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewClient(reg)
	if err != nil {
		return errors.Wrap(err, "create metrics failed")
	}
	stopMetrics, err := serveMetrics(app.MetricsAddr, reg)
	if err != nil {
		return errors.Wrap(err, "serve metrics failed")
	}
	defer stopMetrics()

	sess, err := session.Dial(ctx,
		client.WithServerAddr(app.ServerAddr),
		client.WithPlaybackRate(app.PlaybackRate),
		client.WithBufferThreshold(app.BufferThreshold),
		client.WithMetrics(m),
	)
	if err != nil {
		return errors.Wrap(err, "dial failed")
	}
	defer sess.Close()
	sess.AddListener(&frameWriter{
		app: app,
		dir: app.OutputDir,
		log: logger.WithField("session", sess.ID().String()),
	})

	if err := sess.Open(ctx, app.Media); err != nil {
		return err
	}
	if err := sess.Play(ctx); err != nil {
		return err
	}
	var timeout <-chan time.Time
	if app.Duration > 0 {
		timer := time.NewTimer(app.Duration)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
	case <-timeout:
	}

	// ctx may be done already, the session still deserves a proper teardown
	tctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := sess.Teardown(tctx); err != nil {
		return err
	}
	report := sess.Report()
	app.mu.Lock()
	app.report = report
	app.mu.Unlock()
	logger.WithFields(log.ReportFields(report)).WithField("frames", app.Frames()).Info("playback finished")
	return nil
}

// Report returns the statistics of the finished stream.
func (app *ClientApp) Report() stats.Report {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.report
}

// Frames returns the number of frames played.
func (app *ClientApp) Frames() int {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.frames
}

// frameWriter is the session listener of the client app.
type frameWriter struct {
	app *ClientApp
	dir string
	log logrus.FieldLogger
}

func (w *frameWriter) OnError(err error) {
	w.log.WithError(err).Error("session error")
}

func (w *frameWriter) OnFrame(frame *packet.Packet) {
	if frame == nil {
		return
	}
	w.app.mu.Lock()
	w.app.frames++
	w.app.mu.Unlock()
	w.log.WithFields(log.PacketFields(frame)).Trace("frame played")
	if w.dir == "" {
		return
	}
	name := filepath.Join(w.dir, fmt.Sprintf("%d.jpg", frame.SequenceNumber))
	if err := os.WriteFile(name, frame.Payload, 0o644); err != nil { // nolint: gosec // frames are not secret
		w.log.WithError(err).Error("write frame failed")
	}
}

func (w *frameWriter) OnMediaChanged(mediaID string) {
	if mediaID == "" {
		w.log.Info("no media open")
		return
	}
	w.log.WithField("media", mediaID).Info("media open")
}
