// Package main is the rtspc application entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"rtspc/internal"
	"rtspc/internal/app/apps"
	"rtspc/internal/app/cfg"
	"rtspc/internal/pkg/log"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// CLI command definitions.
var (
	logger logrus.FieldLogger = logrus.StandardLogger()

	rootCmd = &cobra.Command{
		Use:          "rtspc",
		Short:        "Plays MJPEG media streamed over RTSP and RTP.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Plays a media from an RTSP server.",
		Args:  cobra.NoArgs,
		RunE:  runCmd,
	}

	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Starts a demo RTSP server streaming the media of a directory.",
		Args:  cobra.NoArgs,
		RunE:  runCmd,
	}
)

// fileCfg is loaded by configCheck when a config file is given.
var fileCfg *cfg.FileCfg

func newApp(_ context.Context, cmd *cobra.Command, args []string) (apps.App, []string, error) {
	switch cmd.Name() {
	case "client":
		cfgs := []apps.ClientAppCfg{cfg.AddrFromEnv(), cfg.ClientTuningFromEnv()}
		if fileCfg != nil {
			cfgs = append(cfgs, fileCfg)
		}
		app, err := apps.NewClientApp(cfgs...)
		if err != nil {
			return nil, nil, errors.Wrap(err, "new client app failed")
		}
		return app, args, nil
	case "server":
		cfgs := []apps.ServerAppCfg{cfg.AddrFromEnv(), cfg.ServerTuningFromEnv()}
		if fileCfg != nil {
			cfgs = append(cfgs, fileCfg)
		}
		app, err := apps.NewServerApp(cfgs...)
		if err != nil {
			return nil, nil, errors.Wrap(err, "new server app failed")
		}
		return app, args, nil
	default:
		return nil, nil, fmt.Errorf("unknown command: %s", cmd.Name())
	}
}

func runCmd(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := chainedCheck(
		ctx,
		envCheck,
		configCheck,
	); err != nil {
		return errors.Wrap(err, "chained check failed")
	}
	app, args, err := newApp(ctx, cmd, args)
	if err != nil {
		return errors.Wrapf(err, "new %s app failed", cmd.Name())
	}
	return errors.Wrap(app.Run(ctx, args), "run app failed")
}

func envCheck(ctx context.Context) error {
	err := internal.ValidateEnv()
	if err != nil {
		return errors.Wrap(err, "validate env failed")
	}
	log.SetLogger(internal.LogLevel)
	return nil
}

func configCheck(ctx context.Context) error {
	if internal.ConfigFile == "" {
		return nil
	}
	c, err := cfg.LoadFileCfg(internal.ConfigFile)
	if err != nil {
		return errors.Wrap(err, "load config file failed")
	}
	if level := c.LogLevel(); level != "" {
		log.SetLogger(level)
	}
	fileCfg = c
	return nil
}

func chainedCheck(ctx context.Context, checks ...func(context.Context) error) error {
	for _, check := range checks {
		err := check(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

func init() {
	err := internal.RegisterCommandFlags(rootCmd, []*internal.Flag{
		&internal.EnvFlag,
		&internal.LogLevelFlag,
		&internal.ConfigFileFlag,

		&internal.HostFlag,
		&internal.PortFlag,
		&internal.MetricsAddrFlag,
	})
	if err != nil {
		logger.Fatalln(err)
	}

	err = internal.RegisterCommandFlags(clientCmd, []*internal.Flag{
		&internal.MediaFlag,
		&internal.DurationFlag,
		&internal.OutputDirFlag,
		&internal.PlaybackRateMSFlag,
		&internal.BufferThresholdFlag,
	})
	if err != nil {
		logger.Fatalln(err)
	}

	err = internal.RegisterCommandFlags(serverCmd, []*internal.Flag{
		&internal.MediaDirFlag,
		&internal.FrameIntervalMSFlag,
		&internal.DropRateFlag,
		&internal.ReorderRateFlag,
	})
	if err != nil {
		logger.Fatalln(err)
	}

	rootCmd.AddCommand(
		clientCmd,
		serverCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		logger.Fatal(errors.Wrap(err, "execute root command failed"))
	}
}
