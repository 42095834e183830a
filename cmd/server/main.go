package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/kbats183/simple-media-server/pkg/apiserver"
	"github.com/kbats183/simple-media-server/pkg/config"
	"github.com/kbats183/simple-media-server/pkg/events"
	"github.com/kbats183/simple-media-server/pkg/metrics"
	"github.com/kbats183/simple-media-server/pkg/record"
	"github.com/kbats183/simple-media-server/pkg/registry"
	"github.com/kbats183/simple-media-server/pkg/rtmpserver"
	"github.com/kbats183/simple-media-server/pkg/statistics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:           "simple-media-server",
		Short:         "RTMP ingest with HTTP-FLV playback, segmented recording and live statistics",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (yaml, json or toml)")
	flags.String("bind", "0.0.0.0", "address to listen on")
	flags.Int("rtmp-port", 1935, "RTMP ingest port")
	flags.Int("http-port", 8000, "HTTP API and playback port")
	flags.String("record-path", "", "directory for recordings, empty disables recording")
	flags.Int("segment-duration", 1800, "recording segment length in seconds")
	flags.String("log-level", "info", "log level")

	for key, flag := range map[string]string{
		"bind":                   "bind",
		"rtmp.port":              "rtmp-port",
		"http.port":              "http-port",
		"record.path":            "record-path",
		"record.segmentDuration": "segment-duration",
		"log.level":              "log-level",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log, closeLog, err := setupLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	bus := events.NewBus()
	met := metrics.New()
	streamRegistry := registry.NewRegistry(bus, met, log)

	stats := statistics.NewManager(streamRegistry, log,
		statistics.WithInterval(cfg.Statistics.SampleEvery()),
		statistics.WithMetrics(met),
	)
	stats.Start()

	records := record.NewServer(record.Options{
		Path:            cfg.Record.Path,
		SegmentDuration: cfg.Record.SegmentEvery(),
		CheckInterval:   cfg.Record.CheckEvery(),
	}, streamRegistry, bus, met, log)
	if err := records.Run(); err != nil {
		stats.Destroy()
		return err
	}

	rtmp := rtmpserver.NewMediaServer(rtmpserver.MediaServerConfig{
		Bind: cfg.Bind,
		Port: cfg.RTMP.Port,
	}, streamRegistry, log)
	web := apiserver.NewWebServer(apiserver.Config{
		Addr:       net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.HTTP.Port)),
		RecordPath: cfg.Record.Path,
		AuthUser:   cfg.Auth.User,
		AuthPass:   cfg.Auth.Pass,
	}, apiserver.Deps{
		Registry: streamRegistry,
		Bus:      bus,
		Stats:    stats,
		Records:  records,
		Metrics:  met,
		Log:      log,
	})

	log.Info("Starting...")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rtmpDone := make(chan error, 1)
	go func() {
		rtmpDone <- rtmp.Start(ctx)
		cancel()
	}()

	var result *multierror.Error
	if err := web.Start(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	cancel()
	if err := <-rtmpDone; err != nil {
		result = multierror.Append(result, err)
	}

	if err := records.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	stats.Destroy()
	log.Info("Stopped")
	return result.ErrorOrNil()
}
