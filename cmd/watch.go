package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tejiriaustin/slm/config"
	"github.com/tejiriaustin/slm/monitor"
)

var watchCmd = &cobra.Command{
	Use:   "watch <selector> [arguments]",
	Short: "Run a single monitor in the foreground",
	Long: `Runs one monitor until it ends or SIGINT/SIGTERM is received. The
arguments are the same tokens as one line of the monitors file, e.g.

  slm watch --file -wd /etc/passwd
  slm watch --network
  slm watch --device usb`,
	DisableFlagParsing: true,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(int(watch(args)))
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func watch(args []string) monitor.ResultCode {
	if len(args) == 0 || isHelp(args[0]) {
		fmt.Fprint(os.Stderr, monitor.Usage(""))
		if len(args) == 0 {
			return monitor.CodeInvalidArgument
		}
		return monitor.CodeSuccess
	}
	for _, arg := range args[1:] {
		if isHelp(arg) {
			fmt.Fprint(os.Stdout, monitor.Usage(args[0]))
			return monitor.CodeSuccess
		}
	}

	m, err := monitor.New(args,
		monitor.WithLogger(log),
		monitor.WithPollInterval(config.GetConfig().PollInterval),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n%s", err, monitor.Usage(args[0]))
		return monitor.Code(err)
	}

	if err := m.Start(); err != nil {
		log.Errorw("Cannot start monitor", "error", err)
		discardMonitor(m)
		return monitor.Code(err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	finished := make(chan struct{})
	go func() {
		m.Join()
		close(finished)
	}()

	select {
	case sig := <-sigChan:
		log.Infow("Signal received, stopping monitor", "signal", sig.String())
		stopMonitor(m)
		<-finished
	case <-finished:
	}

	return monitor.Code(m.Destroy())
}

// stopMonitor tolerates a worker that already ended on its own.
func stopMonitor(m *monitor.Monitor) {
	if err := m.Stop(); err != nil && !errors.Is(err, monitor.ErrInvalidState) {
		log.Errorw("Cannot stop monitor", "error", err)
	}
}

func discardMonitor(m *monitor.Monitor) {
	if err := m.Discard(); err != nil {
		log.Errorw("Cannot release monitor", "error", err)
	}
}

func isHelp(arg string) bool {
	return arg == "-h" || arg == "--help"
}
