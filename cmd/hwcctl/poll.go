package main

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arloliu/go-hwc/historian"
	"github.com/arloliu/go-hwc/hwc"
	"github.com/arloliu/go-hwc/hwcprom"
	"github.com/arloliu/go-hwc/logger"
	"github.com/arloliu/go-hwc/redisink"
	"github.com/arloliu/go-hwc/tagmap"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll a signal map and publish samples",
	Long: `Builds the deployment a signal map describes, runs one poller per engine,
logs every sample and optionally publishes samples to Redis and an on-disk
historian. With --metrics, transport and poller metrics are served on
/metrics; with --watch, the map file is reloaded on change and the
deployment is rebuilt. Runs until SIGINT or SIGTERM.`,
	Example: `  hwcctl poll --map plant.yaml --interval 500ms
  hwcctl poll --map plant.yaml --metrics :9464 --redis localhost:6379 --historian plant.db --watch`,
	Args: cobra.NoArgs,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)

	pollCmd.Flags().String("map", "", "signal map file")
	pollCmd.Flags().Duration("interval", hwc.DefaultPollInterval, "poll interval")
	pollCmd.Flags().String("metrics", "", "serve Prometheus metrics on this address, e.g. :9464")
	pollCmd.Flags().String("redis", "", "publish samples to this Redis address")
	pollCmd.Flags().String("historian", "", "record samples into this SQLite file")
	pollCmd.Flags().Bool("watch", false, "reload the map file on change")
	_ = pollCmd.MarkFlagRequired("map")
}

func runPoll(cmd *cobra.Command, args []string) error {
	mapPath, _ := cmd.Flags().GetString("map")
	interval, _ := cmd.Flags().GetDuration("interval")
	metricsAddr, _ := cmd.Flags().GetString("metrics")
	redisAddr, _ := cmd.Flags().GetString("redis")
	historianPath, _ := cmd.Flags().GetString("historian")
	watch, _ := cmd.Flags().GetBool("watch")

	log := logger.GetLogger()

	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := tagmap.Load(mapPath)
	if err != nil {
		return err
	}

	// Sinks and the metrics endpoint outlive deployment rebuilds.
	var sinks []hwc.Sink
	if redisAddr != "" {
		rs, err := redisink.New(redisAddr)
		if err != nil {
			return err
		}
		defer rs.Close()
		sinks = append(sinks, rs)
	}
	if historianPath != "" {
		store, err := historian.Open(historianPath)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
	}

	reg := prometheus.NewRegistry()
	if metricsAddr != "" {
		srv := startMetricsServer(metricsAddr, reg, log)
		defer stopMetricsServer(srv, log)
	}

	var reloads chan *tagmap.Config
	if watch {
		reloads = make(chan *tagmap.Config, 1)
		w, err := tagmap.Watch(mapPath, tagmap.DefaultDebounce, log, func(next *tagmap.Config, err error) {
			if err != nil {
				log.Error("signal map reload failed, keeping the running deployment", "error", err)

				return
			}
			select {
			case reloads <- next:
			default:
			}
		})
		if err != nil {
			return err
		}
		defer w.Close()
	}

	for {
		next, err := runDeployment(ctx, cfg, interval, sinks, reloads, reg, log)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		cfg = next
		log.Info("signal map reloaded", "path", mapPath)
	}
}

// runDeployment builds and opens one deployment, polls it, and blocks until
// shutdown or a map reload. It returns the next document to deploy, nil on
// shutdown.
func runDeployment(
	ctx context.Context,
	cfg *tagmap.Config,
	interval time.Duration,
	sinks []hwc.Sink,
	reloads <-chan *tagmap.Config,
	reg *prometheus.Registry,
	log logger.Logger,
) (*tagmap.Config, error) {
	dep, err := tagmap.Build(ctx, cfg, tagmap.WithLogger(log))
	if err != nil {
		return nil, err
	}
	defer dep.Close()

	if err := dep.Open(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}

		return nil, err
	}

	var pollers []*hwc.Poller
	defer func() {
		for _, p := range pollers {
			p.Stop()
		}
	}()

	groups := dep.Groups()
	for _, name := range slices.Sorted(maps.Keys(groups)) {
		p, err := hwc.NewPoller(ctx, groups[name],
			hwc.WithName(name),
			hwc.WithInterval(interval),
			hwc.WithLogger(log),
			hwc.WithSink(sinks...),
			hwc.WithSampleHandler(func(s hwc.Sample) {
				log.Info("sample", "signal", s.Signal, "kind", s.Kind.String(), "value", s.Value)
			}),
		)
		if err != nil {
			return nil, err
		}
		if err := p.Start(); err != nil {
			return nil, err
		}
		pollers = append(pollers, p)
	}

	var collectors []prometheus.Collector
	for name, conn := range dep.Connections() {
		collectors = append(collectors,
			hwcprom.ClientCollectors("client", prometheus.Labels{"transport": name}, conn.Metrics())...)
	}
	for _, p := range pollers {
		collectors = append(collectors,
			hwcprom.PollerCollectors("poller", prometheus.Labels{"poller": p.Name()}, p.Metrics())...)
	}
	hwcprom.MustRegister(reg, collectors...)
	defer func() {
		for _, c := range collectors {
			reg.Unregister(c)
		}
	}()

	select {
	case <-ctx.Done():
		return nil, nil
	case next := <-reloads:
		return next, nil
	}
}

func startMetricsServer(addr string, reg *prometheus.Registry, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()

	return srv
}

func stopMetricsServer(srv *http.Server, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("metrics server shutdown failed", "error", err)
	}
}
