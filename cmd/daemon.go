// Copyright © 2024 NAME HERE tejiriaustin123@gmail.com

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/tejiriaustin/slm/config"
	"github.com/tejiriaustin/slm/daemon"
	"github.com/tejiriaustin/slm/logger"
	"github.com/tejiriaustin/slm/monitoring"
	"github.com/tejiriaustin/slm/server"
)

var serviceCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the monitors described by the monitors file until stopped",
	Long: `Runs in the foreground. SIGHUP re-reads the monitors file, SIGINT and
SIGTERM stop every monitor and exit.`,
	RunE: startDaemonService,
}

func init() {
	rootCmd.AddCommand(serviceCmd)
}

func startDaemonService(cmd *cobra.Command, args []string) error {
	cfg := config.GetConfig()
	log.Infow("Starting System Log Monitor daemon", "monitors_file", cfg.MonitorsFile, "pid", os.Getpid())

	if err := cfg.LockPidFile(os.Getpid()); err != nil {
		return err
	}
	defer func() {
		if err := cfg.RemovePidFile(); err != nil {
			log.Errorw("Failed to remove PID file", "error", err)
		}
	}()

	var (
		wg       sync.WaitGroup
		cmdChan  = make(chan daemon.Command, 16)
		registry = daemon.NewRegistry(log, daemon.WithPollInterval(cfg.PollInterval))
	)

	d, err := daemon.New(cfg, log, registry, cmdChan)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		forwardSignals(ctx, log, cmdChan)
	}()

	if cfg.Port != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := startServer(ctx, log, cfg, registry, cmdChan); err != nil {
				log.Errorw("Control API stopped", "error", err)
			}
		}()
	}

	if cfg.OsquerySocket != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := startExtension(ctx, log, cfg, registry); err != nil {
				log.Errorw("osquery extension stopped", "error", err)
			}
		}()
	}

	if cfg.WatchConfig {
		watcher, err := daemon.NewConfigWatcher(cfg.MonitorsFile, cmdChan, log)
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			log.Errorw("Cannot watch monitors file", "error", err)
		}
		defer watcher.Stop()
	}

	err = d.StartDaemon(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("All goroutines finished")
	case <-time.After(5 * time.Second):
		log.Info("Shutdown timed out")
	}

	log.Info("Daemon service stopped")
	return err
}

// forwardSignals only turns signals into commands; the control loop does the
// work.
func forwardSignals(ctx context.Context, log *logger.Logger, cmdChan chan<- daemon.Command) {
	sigChan := make(chan os.Signal, 4)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			command := daemon.CommandShutdown
			if sig == syscall.SIGHUP {
				command = daemon.CommandReload
			}
			log.Infow("Signal received", "signal", sig.String(), "command", string(command))
			if !daemon.Enqueue(cmdChan, command) {
				log.Errorw("Command queue full, signal dropped", "signal", sig.String())
			}
		}
	}
}

func startServer(ctx context.Context, log *logger.Logger, cfg *config.Config, registry *daemon.Registry, cmdChan chan<- daemon.Command) error {
	gin.SetMode(gin.ReleaseMode)
	h := server.NewHandler(log).SetupHandler(registry, cmdChan)
	return server.New(cfg, log).Start(ctx, h)
}

func startExtension(ctx context.Context, log *logger.Logger, cfg *config.Config, registry *daemon.Registry) error {
	extension, err := monitoring.New(cfg.OsquerySocket, registry, monitoring.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create osquery extension: %w", err)
	}
	return extension.Start(ctx)
}
