// Copyright © 2024 NAME HERE tejiriaustin123@gmail.com

package cmd

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tejiriaustin/slm/clients"
	"github.com/tejiriaustin/slm/config"
	"github.com/tejiriaustin/slm/logger"
)

var (
	cfgFile string
	log     *logger.Logger
	useAPI  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "slm",
	Short: "System Log Monitor",
	Long: `Watches host events (file changes, disks, networking, power supply,
bluetooth and device hotplug) and writes one log line per observed event.

Run a single monitor with 'slm watch', or a set of monitors described by a
monitors file with 'slm daemon'.`,
	SilenceUsage:      true,
	PersistentPreRunE: initialize,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalDaemon(syscall.SIGINT)
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Make the running daemon re-read its monitors file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if useAPI {
			if err := clients.NewClient(config.GetConfig()).Reload(); err != nil {
				return fmt.Errorf("reload via control API: %w", err)
			}
			fmt.Println("Reload queued")
			return nil
		}
		return signalDaemon(syscall.SIGHUP)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the daemon",
	Run: func(cmd *cobra.Command, args []string) {
		status, err := clients.NewClient(config.GetConfig()).Health()
		if err != nil {
			fmt.Printf("Service Status:  Stopped (%v)\n", err)
			return
		}
		fmt.Printf("Service Status:  Running (%s)\n", status)
	},
}

var monitorsCmd = &cobra.Command{
	Use:   "monitors",
	Short: "List the daemon's active monitors",
	RunE: func(cmd *cobra.Command, args []string) error {
		monitors, err := clients.NewClient(config.GetConfig()).Monitors()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tLINE\tKIND\tTARGET\tSTATE")
		for _, m := range monitors {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", m.Position, m.Line, m.Kind, m.Target, m.State)
		}
		return w.Flush()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration for the System Log Monitor",
	Long:  `View or modify the daemon settings.`,
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.GetConfig()
		settings := cfg.Settings()

		keys := make([]string, 0, len(settings))
		for key := range settings {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Println("Current configuration:")
		if cfg.ConfigPath != "" {
			fmt.Printf("  (from %s)\n", cfg.ConfigPath)
		}
		for _, key := range keys {
			fmt.Printf("  %s: %v\n", key, settings[key])
		}
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		value := args[1]
		if err := config.GetConfig().Set(key, value); err != nil {
			return err
		}
		log.Infof("Set %s to %s", key, value)
		return nil
	},
}

func initialize(cmd *cobra.Command, args []string) error {
	cfg, err := config.InitConfig(viper.GetViper(), validator.New(), cfgFile)
	if err != nil {
		return err
	}

	log, err = logger.NewLogger(logger.Config{
		LogLevel:        cfg.LogLevel,
		DevMode:         cfg.DevMode,
		OutputPath:      cfg.LogFile,
		ErrorOutputPath: cfg.ErrorFile,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	return nil
}

func signalDaemon(sig syscall.Signal) error {
	cfg := config.GetConfig()

	pid, err := cfg.ReadPidFile()
	if err != nil {
		if errors.Is(err, config.ErrNotRunning) {
			return fmt.Errorf("%w: no pid file at %s", err, cfg.PidFilePath)
		}
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := process.Signal(sig); err != nil {
		return fmt.Errorf("failed to send %s to %d: %w", sig, pid, err)
	}

	log.Infow("Signal sent to daemon", "pid", pid, "signal", sig.String())
	return nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "settings file (default is ./config.yaml, $HOME/.slm/config.yaml or /etc/slm/config.yaml)")
	flags.StringP("config-file", "c", config.DefaultMonitorsFile, "monitors file, one monitor per line")
	flags.StringP("log-file", "l", "", "log file (default stdout)")
	flags.StringP("error-file", "e", "", "additional file for error entries")
	flags.StringP("pid-file", "p", "", "pid file of the daemon")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.Bool("dev", false, "human readable console logging")

	bindings := map[string]string{
		"monitors_file": "config-file",
		"log_file":      "log-file",
		"error_file":    "error-file",
		"pid_file_path": "pid-file",
		"log_level":     "log-level",
		"dev_mode":      "dev",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Errorf("failed to bind flag %s: %w", flag, err))
		}
	}

	reloadCmd.Flags().BoolVar(&useAPI, "api", false, "request the reload through the control API instead of SIGHUP")

	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(monitorsCmd)

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configSetCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
