// SPDX-License-Identifier: AGPL-3.0-or-later
// bsc-core - BACnet Secure Connect datalink core
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// The source code is available at <https://github.com/bacnet-community/bsc-core>

package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bacnet-community/bsc-core/internal/config"
	"github.com/bacnet-community/bsc-core/internal/netport"
	"github.com/bacnet-community/bsc-core/internal/pprof"
	"github.com/bacnet-community/bsc-core/internal/scaddr"
	"github.com/bacnet-community/bsc-core/internal/scdatalink"
	"github.com/bacnet-community/bsc-core/internal/scmetrics"
	"github.com/bacnet-community/bsc-core/internal/scnode"
	"github.com/bacnet-community/bsc-core/internal/sctransport"
	"github.com/USA-RedDragon/configulator"
	"github.com/go-co-op/gocron/v2"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func NewCommand(version, commit string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "bscd",
		Version: fmt.Sprintf("%s - %s", version, commit),
		Annotations: map[string]string{
			"version": version,
			"commit":  commit,
		},
		RunE:              runRoot,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}
	return cmd
}

func runRoot(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	fmt.Printf("bscd - %s (%s)\n", cmd.Annotations["version"], cmd.Annotations["commit"])

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	setupLogger(cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	cleanup, err := setupTracing(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup tracing: %w", err)
	}
	defer func() {
		if err := cleanup(ctx); err != nil {
			slog.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	metrics := scmetrics.NewMetrics()
	startBackgroundServices(cfg)

	npCfg, err := buildNetportConfig(cfg)
	if err != nil {
		return err
	}

	datalink, err := scdatalink.Init(npCfg, scnode.Transports{
		Client:       sctransport.NewWSClient(),
		HubServer:    sctransport.NewWSServer(),
		DirectServer: sctransport.NewWSServer(),
	}, metrics)
	if err != nil {
		return fmt.Errorf("failed to start datalink: %w", err)
	}
	defer datalink.Cleanup()

	scheduler, err := setupScheduler(datalink)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			slog.Error("Failed to shut down scheduler", "error", err)
		}
	}()

	slog.Info("Datalink ready")
	waitForSignal()
	slog.Info("Shutting down")
	return nil
}

// loadConfig loads the configuration from context
func loadConfig(ctx context.Context) (*config.Config, error) {
	c, err := configulator.FromContext[config.Config](ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get config from context: %w", err)
	}

	cfg, err := c.LoadWithoutValidation()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// setupLogger configures the structured logger
func setupLogger(cfg *config.Config) {
	var logger *slog.Logger
	switch cfg.LogLevel {
	case config.LogLevelDebug:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug}))
	case config.LogLevelInfo:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	case config.LogLevelWarn:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn}))
	case config.LogLevelError:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelError}))
	default:
		// Fall back to info level for unrecognized log levels to prevent nil logger panic
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	}
	slog.SetDefault(logger)
}

// setupScheduler creates the job scheduler and registers the maintenance
// tick that mirrors telemetry into the Network-Port property lists.
func setupScheduler(datalink *scdatalink.Datalink) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(time.Second),
		gocron.NewTask(func() {
			datalink.MaintenanceTimer(time.Second)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule maintenance job: %w", err)
	}
	return scheduler, nil
}

// setupTracing initializes OpenTelemetry tracing if configured.
// When tracing is not configured it returns a no-op cleanup function.
func setupTracing(cfg *config.Config) (func(context.Context) error, error) {
	if cfg.Metrics.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	return initTracer(cfg)
}

func initTracer(cfg *config.Config) (func(context.Context) error, error) {
	exporter, err := otlptrace.New(
		context.Background(),
		otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(cfg.Metrics.OTLPEndpoint),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	resources, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", "bsc-core"),
			attribute.String("library.language", "go"),
		),
	)
	if err != nil {
		slog.Error("Could not set resources", "error", err)
	}

	otel.SetTracerProvider(
		sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(resources),
		),
	)
	return exporter.Shutdown, nil
}

// startBackgroundServices starts metrics and pprof servers
func startBackgroundServices(cfg *config.Config) {
	go func() {
		err := scmetrics.CreateMetricsServer(cfg)
		if err != nil {
			slog.Error("Failed to start metrics server", "error", err)
		}
	}()
	go pprof.CreatePProfServer(cfg)
}

// buildNetportConfig turns the SC section of the process configuration into
// the Network-Port configuration the Node consumes (spec §6.3), generating
// the local identity when none is configured and reading the certificate
// files into byte blobs.
func buildNetportConfig(cfg *config.Config) (netport.Config, error) {
	var np netport.Config

	if cfg.SC.LocalVMAC != "" {
		raw, err := hex.DecodeString(cfg.SC.LocalVMAC)
		if err != nil {
			return np, fmt.Errorf("bad local VMAC: %w", err)
		}
		vmac, err := scaddr.VMACFromBytes(raw)
		if err != nil {
			return np, fmt.Errorf("bad local VMAC: %w", err)
		}
		np.LocalVMAC = vmac
	} else {
		vmac, err := scaddr.GenerateRandomVMAC()
		if err != nil {
			return np, err
		}
		np.LocalVMAC = vmac
	}

	if cfg.SC.LocalUUID != "" {
		uuid, err := scaddr.ParseUUID(cfg.SC.LocalUUID)
		if err != nil {
			return np, fmt.Errorf("bad local UUID: %w", err)
		}
		np.LocalUUID = uuid
	} else {
		uuid, err := scaddr.NewUUID()
		if err != nil {
			return np, err
		}
		np.LocalUUID = uuid
	}

	for _, f := range []struct {
		path string
		dest *[]byte
	}{
		{cfg.SC.CACertFile, &np.Creds.CA},
		{cfg.SC.CertFile, &np.Creds.Cert},
		{cfg.SC.KeyFile, &np.Creds.Key},
	} {
		if f.path == "" {
			continue
		}
		blob, err := os.ReadFile(f.path)
		if err != nil {
			return np, fmt.Errorf("failed to read %s: %w", f.path, err)
		}
		*f.dest = blob
	}

	np.PrimaryHubURI = cfg.SC.PrimaryHubURI
	np.FailoverHubURI = cfg.SC.FailoverHubURI
	np.MaxBVLCLenAccepted = cfg.SC.MaxBVLCLength
	np.MaxNPDULenAccepted = cfg.SC.MaxNPDULength
	np.ConnectWaitTimeout = time.Duration(cfg.SC.ConnectWaitTimeoutSeconds) * time.Second
	np.HeartbeatTimeout = time.Duration(cfg.SC.HeartbeatTimeoutSeconds) * time.Second
	np.DisconnectWaitTimeout = time.Duration(cfg.SC.DisconnectWaitTimeoutSeconds) * time.Second
	np.MaximumReconnectTime = time.Duration(cfg.SC.MaximumReconnectSeconds) * time.Second
	np.HubFunctionEnabled = cfg.SC.HubFunction.Enabled
	np.HubFunctionBindAddr = cfg.SC.HubFunction.Bind
	np.DirectConnectInitiateEnabled = cfg.SC.DirectConnect.InitiateEnabled
	np.DirectConnectAcceptEnabled = cfg.SC.DirectConnect.AcceptEnabled
	np.DirectConnectAcceptURIs = cfg.SC.DirectConnect.AcceptURIs
	np.DirectConnectBindAddr = cfg.SC.DirectConnect.Bind
	return np, nil
}

func waitForSignal() {
	interruptCh := make(chan os.Signal, 1)
	signal.Notify(interruptCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	sig := <-interruptCh
	slog.Info("Received signal", "signal", sig.String())
}
