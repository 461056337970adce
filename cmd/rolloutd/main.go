package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vmfltlwms/rollout/internal/api"
	"github.com/vmfltlwms/rollout/internal/config"
	"github.com/vmfltlwms/rollout/internal/deploy"
	"github.com/vmfltlwms/rollout/internal/logstream"
	"github.com/vmfltlwms/rollout/internal/metrics"
	"github.com/vmfltlwms/rollout/internal/proxy"
	"github.com/vmfltlwms/rollout/internal/registry"
	"github.com/vmfltlwms/rollout/internal/supervisor"
	"github.com/vmfltlwms/rollout/pkg/models"
	"go.uber.org/zap"
)

const probeTimeout = 2 * time.Second

var (
	configPath string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:   "rolloutd",
	Short: "Single-host deployment orchestrator daemon",
	Long: `rolloutd supervises a fixed-size pool of application workers, fronts
them with a load-balancing reverse proxy, and performs rolling redeployments
without dropping traffic. It is driven through a small HTTP control surface
(see the rollout CLI).`,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "rollout.yaml", "Path to the deployment descriptor")
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", "127.0.0.1:9321", "Control API listen address")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rolloutd: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	zlog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}
	defer zlog.Sync()
	logger := zlog.Sugar()

	spec, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Infof("loaded descriptor for %s: %d instances from port %d", spec.Name, spec.Instances, spec.PortBase)

	collector := metrics.NewCollector("rollout")
	events := models.NewEventLog(200)
	store := registry.NewStore()
	repo := registry.NewWorkerRepository(store)
	upstreams := proxy.NewUpstreamSet(collector)

	aggregator, err := logstream.NewAggregator(spec.LogDir, spec.Name, spec.LogRotation, logger)
	if err != nil {
		return err
	}

	prober := supervisor.NewHTTPProber(spec.ReadinessPath, probeTimeout)
	sup := supervisor.NewSupervisor(spec, repo, upstreams, aggregator, prober, events, collector, logger)
	builder := deploy.NewExecBuildRunner(spec.Build, logger)
	controller := deploy.NewController(sup, upstreams, builder, events, collector, logger)
	apiServer := api.NewServer(sup, controller, upstreams, events, collector.Handler(), logger)

	if err := sup.Start(); err != nil {
		logger.Errorf("startup failed: %v", err)
		sup.StopAll()
		aggregator.Close()
		return err
	}

	var proxyServer *proxy.Server
	if spec.Proxy.Listen != "" {
		proxyServer = proxy.NewServer(upstreams, spec.Proxy, collector, logger)
		if _, err := proxyServer.Start(); err != nil {
			sup.StopAll()
			aggregator.Close()
			return err
		}
	}

	routingStop := make(chan struct{})
	if spec.Proxy.RoutingFile != "" {
		go publishRoutingConfig(spec, upstreams, logger, routingStop)
	}

	if _, err := apiServer.Start(listenAddr); err != nil {
		sup.StopAll()
		aggregator.Close()
		return fmt.Errorf("control API cannot listen on %s: %v", listenAddr, err)
	}

	logger.Infof("%s is up: %d workers ready", spec.Name, spec.Instances)

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, os.Interrupt, syscall.SIGTERM)
	<-signalChannel
	logger.Info("termination signal received, shutting down")

	close(routingStop)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	apiServer.Shutdown(ctx)
	if proxyServer != nil {
		proxyServer.Shutdown(ctx)
	}
	sup.StopAll()
	if err := aggregator.Close(); err != nil {
		logger.Warnf("failed to close log aggregator: %v", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// publishRoutingConfig keeps the generated routing block in sync with the
// upstream set for an external proxy to pick up on reload.
func publishRoutingConfig(spec *models.AppSpec, upstreams *proxy.UpstreamSet, logger *zap.SugaredLogger, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var last []string
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			current := upstreams.Snapshot()
			if reflect.DeepEqual(current, last) {
				continue
			}
			if err := proxy.WriteRoutingConfig(spec.Proxy.RoutingFile, spec.Name, current); err != nil {
				logger.Warnf("failed to publish routing config: %v", err)
				continue
			}
			last = current
		}
	}
}
