package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flogapp/flog/internal/config"
	"github.com/flogapp/flog/internal/logging"
	"github.com/flogapp/flog/internal/ui"
)

var (
	// v holds defaults, the config file, FLOG_ variables and bound flags.
	v = config.New()

	// cfg is the effective configuration, loaded before every command.
	cfg config.Config

	// logOut receives component logs.
	logOut *logging.Output

	configPath string
	verbose    bool
	offline    bool
)

var rootCmd = &cobra.Command{
	Use:   "flog",
	Short: "Golf course mapping with a companion peer",
	Long: `flog keeps golf courses, settings and the current round on the primary
device and mirrors them to a companion over a websocket peer link.

Run the long-lived sides with:
  flog primary run      # primary daemon: store, session, dialer, inbox
  flog companion run    # companion: key space, HTTP surface, /peer endpoint

One-shot commands (course, round, settings) write the primary store and
forward the change to the companion when it is reachable.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loaded, err := config.Load(v, configPath)
		if err != nil {
			fatal("%v", err)
		}
		cfg = loaded
		logOut = logging.Open(cfg.Log, cfg.DataDir)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logOut != nil {
			_ = logOut.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "courses", Title: "Courses and rounds:"},
		&cobra.Group{ID: "runtime", Title: "Long-running sides:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default: $FLOG_HOME/flog.toml or ./flog.toml)")
	flags.String("data-dir", "", "Data directory (default: $FLOG_HOME or ~/.flog)")
	flags.String("layout", "", "Hole layout: single or multi")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log component activity for one-shot commands")
	flags.BoolVar(&offline, "offline", false, "Do not contact the companion")

	_ = v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = v.BindPFlag("layout", flags.Lookup("layout"))
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// componentLogger returns a logger for long-running components.
func componentLogger(component string) *log.Logger {
	return logging.New(logOut, component)
}

// commandLogger returns a logger for one-shot commands. It is silent
// unless --verbose is set.
func commandLogger(component string) *log.Logger {
	if !verbose {
		return logging.New(io.Discard, component)
	}
	return logging.New(logOut, component)
}

// fatal prints an error and exits.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("Error:"), fmt.Sprintf(format, args...))
	os.Exit(1)
}
