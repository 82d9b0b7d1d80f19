package record

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // by design
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"gopkg.in/yaml.v3"

	"github.com/mpapenbr/forza-session-recorder/log"
	"github.com/mpapenbr/forza-session-recorder/pkg/cmd/util"
	"github.com/mpapenbr/forza-session-recorder/pkg/config"
	"github.com/mpapenbr/forza-session-recorder/pkg/ingest"
	"github.com/mpapenbr/forza-session-recorder/pkg/notify"
	"github.com/mpapenbr/forza-session-recorder/pkg/sink"
	"github.com/mpapenbr/forza-session-recorder/pkg/snapshot"
	"github.com/mpapenbr/forza-session-recorder/pkg/status"
	"github.com/mpapenbr/forza-session-recorder/pkg/utils"
	"github.com/mpapenbr/forza-session-recorder/pkg/utils/certs/traefik"
)

var printConfig bool

//nolint:funlen // by design
func NewRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "records race sessions from Forza telemetry into csv files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startRecording(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&config.OutputFolder,
		"folder", "f",
		".",
		"folder receiving the session files")
	cmd.Flags().StringVar(&config.Addr,
		"addr",
		"0.0.0.0",
		"host/ip to listen on for telemetry data")
	cmd.Flags().IntVarP(&config.Port,
		"port", "p",
		9999,
		"udp port configured as data out port in the game")
	cmd.Flags().BoolVarP(&config.Verbose,
		"verbose", "v",
		false,
		"log every received sample")
	cmd.Flags().StringVar(&config.SinkMode,
		"sink",
		string(sink.ModeBuffered),
		"how samples are stored (buffered, stream)")
	cmd.Flags().IntVar(&config.FlushEvery,
		"flush-every",
		60,
		"stream sink: number of rows between flushes")
	cmd.Flags().BoolVar(&config.ExitOnEmpty,
		"exit-on-empty",
		false,
		"stop recording when an empty datagram is received")
	cmd.Flags().BoolVar(&config.CommitOnShutdown,
		"commit-on-shutdown",
		true,
		"store a running session when the recorder is stopped")
	cmd.Flags().StringVar(&config.StatusAddr,
		"status-addr",
		"",
		"listen address for the status endpoint (disabled if empty)")
	cmd.Flags().StringVar(&config.StatusTLSCert,
		"status-tls-cert",
		"",
		"path to TLS certificate for the status endpoint")
	cmd.Flags().StringVar(&config.StatusTLSKey,
		"status-tls-key",
		"",
		"path to TLS key for the status endpoint")
	cmd.Flags().StringVar(&config.TraefikCerts,
		"traefik-certs",
		"",
		"path to traefik acme storage providing the status endpoint certificate")
	cmd.Flags().StringVar(&config.TraefikCertDomain,
		"traefik-cert-domain",
		"",
		"domain to lookup in the traefik certs")
	cmd.Flags().StringVar(&config.NatsURL,
		"nats-url",
		"",
		"NATS server url(s) for notifications (disabled if empty)")
	cmd.Flags().StringVar(&config.NatsSubjectPrefix,
		"nats-subject-prefix",
		"fsr",
		"prefix of the NATS subjects")
	cmd.Flags().StringVar(&config.NatsIndexBucket,
		"nats-index-bucket",
		"",
		"NATS key value bucket keeping the latest event per session (disabled if empty)")
	cmd.Flags().StringVar(&config.PositionInterval,
		"position-interval",
		"1s",
		"interval for publishing the position via NATS (0 disables it)")
	cmd.Flags().StringVar(&config.WaitForServices,
		"wait-for-services",
		"15s",
		"Duration to wait for other services to be ready")
	cmd.Flags().StringVar(&config.LogLevel,
		"log-level",
		"info",
		"controls the log level (debug, info, warn, error, fatal)")
	cmd.Flags().StringVar(&config.LogFormat,
		"log-format",
		"json",
		"controls the log output format (json, text)")
	cmd.Flags().StringVar(&config.LogFilter,
		"log-filter",
		"",
		"zapfilter rules per logger, e.g. \"info+:* debug+:ingest\"")
	cmd.Flags().BoolVar(&config.EnableTelemetry,
		"enable-telemetry",
		false,
		"enables telemetry")
	cmd.Flags().StringVar(&config.TelemetryEndpoint,
		"telemetry-endpoint",
		"localhost:4317",
		"Endpoint that receives open telemetry data (stdout prints to console)")
	cmd.Flags().IntVar(&config.ProfilingPort,
		"profiling-port",
		0,
		"port to use for providing profiling data")
	cmd.Flags().BoolVar(&printConfig,
		"print-config",
		false,
		"print the effective configuration and exit")
	return cmd
}

//nolint:funlen,cyclop // by design
func startRecording(parent context.Context) error {
	if _, err := util.SetupLogger(os.Stderr); err != nil {
		return fmt.Errorf("invalid log settings: %w", err)
	}
	if printConfig {
		return printEffectiveConfig(os.Stdout)
	}
	mode, err := sink.ParseMode(config.SinkMode)
	if err != nil {
		return err
	}
	if err = prepareFolder(config.OutputFolder); err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	startProfiling()
	if err = waitForRequiredServices(ctx); err != nil {
		return err
	}

	var telemetry *config.Telemetry
	if config.EnableTelemetry {
		log.Info("Enabling telemetry")
		if telemetry, err = config.SetupTelemetry(ctx); err != nil {
			log.Warn("Could not setup telemetry", log.ErrorField(err))
		} else {
			defer telemetry.Shutdown()
		}
		err = otlpruntime.Start(otlpruntime.WithMinimumReadMemStatsInterval(time.Second))
		if err != nil {
			log.Warn("Could not start runtime metrics", log.ErrorField(err))
		}
	}

	conn, err := net.ListenPacket("udp", config.ListenAddr())
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", config.ListenAddr(), err)
	}
	defer conn.Close()

	snk, err := sink.New(mode, config.OutputFolder, sink.WithFlushEvery(config.FlushEvery))
	if err != nil {
		return err
	}
	pos := &snapshot.Position{}
	loopOpts := []ingest.Option{
		ingest.WithPosition(pos),
		ingest.WithExitOnEmpty(config.ExitOnEmpty),
		ingest.WithCommitOnShutdown(config.CommitOnShutdown),
	}

	if config.StatusAddr != "" {
		feed := status.NewFeed()
		srv, err := newStatusServer(pos, status.WithEvents(feed))
		if err != nil {
			return err
		}
		if _, err := srv.Start(config.StatusAddr); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			//nolint:errcheck // best effort
			srv.Shutdown(sctx)
		}()
		// runs before the shutdown above and ends open event streams
		defer feed.Close()
		loopOpts = append(loopOpts, ingest.WithObserver(feed))
	}

	if config.NatsURL != "" {
		nc, notifier, err := setupNotifier(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				log.Warn("NATS drain failed", log.ErrorField(err))
			}
		}()
		// delivers pending events before the connection is drained
		defer notifier.Close()
		loopOpts = append(loopOpts, ingest.WithObserver(notifier))
		if interval := parseDuration(config.PositionInterval, time.Second); interval > 0 {
			go notifier.PublishPositions(ctx, pos, interval)
		}
	}

	setupGoRoutinesDump()
	folder, _ := filepath.Abs(config.OutputFolder)
	log.Info("Recorder started",
		log.String("folder", folder),
		log.String("listen", config.ListenAddr()),
		log.String("sink", string(mode)))
	err = ingest.NewLoop(conn, snk, loopOpts...).Run(ctx)
	if err != nil {
		log.Error("Recorder stopped", log.ErrorField(err))
		return err
	}
	log.Info("Recorder terminated")
	return nil
}

func printEffectiveConfig(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(config.Current()); err != nil {
		return err
	}
	return enc.Close()
}

// prepareFolder creates folder if needed and verifies files can be created.
func prepareFolder(folder string) error {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("cannot create output folder: %w", err)
	}
	probe, err := os.CreateTemp(folder, ".fsr-probe-*")
	if err != nil {
		return fmt.Errorf("output folder %s is not writable: %w", folder, err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

//nolint:whitespace // editor/linter issue
func newStatusServer(pos *snapshot.Position, opts ...status.Option) (
	*status.Server, error,
) {
	switch {
	case config.StatusTLSCert != "" && config.StatusTLSKey != "":
		cert, err := tls.LoadX509KeyPair(config.StatusTLSCert, config.StatusTLSKey)
		if err != nil {
			return nil, fmt.Errorf("status endpoint certificate: %w", err)
		}
		opts = append(opts, status.WithCertificate(cert))
	case config.TraefikCerts != "":
		cert, err := traefik.Load(config.TraefikCerts, config.TraefikCertDomain)
		if err != nil {
			return nil, fmt.Errorf("status endpoint certificate: %w", err)
		}
		opts = append(opts, status.WithCertificate(cert))
	}
	return status.NewServer(pos, opts...), nil
}

func setupNotifier(ctx context.Context) (*nats.Conn, *notify.Notifier, error) {
	l := log.Default().Named("nats")
	nc, err := nats.Connect(config.NatsURL,
		nats.Name("fsr"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.Warn("disconnected", log.ErrorField(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			l.Info("reconnected", log.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot connect to NATS: %w", err)
	}
	opts := []notify.Option{notify.WithSubjectPrefix(config.NatsSubjectPrefix)}
	if config.NatsIndexBucket != "" {
		kv, err := notify.CreateIndex(ctx, nc, config.NatsIndexBucket, 7*24*time.Hour)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("cannot create session index: %w", err)
		}
		opts = append(opts, notify.WithIndex(kv))
	}
	l.Info("notifications enabled",
		log.String("url", nc.ConnectedUrl()),
		log.String("prefix", config.NatsSubjectPrefix))
	return nc, notify.NewNotifier(nc, opts...), nil
}

func startProfiling() {
	if config.ProfilingPort <= 0 {
		return
	}
	log.Info("Starting profiling server on port", log.Int("port", config.ProfilingPort))
	go func() {
		//nolint:gosec // by design
		err := http.ListenAndServe(
			fmt.Sprintf("localhost:%d", config.ProfilingPort),
			nil)
		if err != nil {
			log.Error("Profiling server stopped", log.ErrorField(err))
		}
	}()
}

func setupGoRoutinesDump() {
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGQUIT)
		buf := make([]byte, 1<<20)
		for {
			<-sigs
			stacklen := runtime.Stack(buf, true)
			fmt.Printf("=== received SIGQUIT ===\n*** goroutine dump...\n%s\n*** end\n",
				buf[:stacklen])
		}
	}()
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Warn("Invalid duration value, using default",
			log.String("value", s), log.Duration("default", defaultVal))
		return defaultVal
	}
	return d
}

// waitForRequiredServices blocks until the configured NATS servers and the
// telemetry endpoint accept connections.
func waitForRequiredServices(ctx context.Context) error {
	timeout := parseDuration(config.WaitForServices, 60*time.Second)
	addrs := []string{}
	if config.NatsURL != "" {
		addrs = append(addrs, utils.ExtractFromNatsURL(config.NatsURL)...)
	}
	if config.EnableTelemetry && config.TelemetryEndpoint != config.StdoutEndpoint {
		addrs = append(addrs, config.TelemetryEndpoint)
	}
	if len(addrs) == 0 {
		return nil
	}

	var mu sync.Mutex
	var errs []error
	wg := sync.WaitGroup{}
	for _, addr := range addrs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := utils.WaitForTCP(ctx, addr, timeout); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	log.Debug("Waiting for connection checks to return")
	wg.Wait()
	if len(errs) > 0 {
		return fmt.Errorf("required services not ready: %w", errors.Join(errs...))
	}
	log.Debug("Required services are available")
	return nil
}
