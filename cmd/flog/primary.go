package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flogapp/flog/internal/daemon"
	"github.com/flogapp/flog/internal/repo"
	"github.com/flogapp/flog/internal/store"
	"github.com/flogapp/flog/internal/ui"
)

var primaryCmd = &cobra.Command{
	Use:     "primary",
	GroupID: "runtime",
	Short:   "Primary device daemon",
}

var primaryRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the primary daemon",
	Long: `Run the primary side until interrupted.

The daemon:
  1. Resumes the saved round
  2. Connects to the companion (primary.companion_url) and reconnects
     every primary.reconnect_interval while it is away
  3. Sends the full course list and the active course on every connect
  4. Applies renames, deletes, imports and setting changes made on the
     companion
  5. Imports course codes dropped into primary.inbox_dir as *.flog files

Example usage:
  flog primary run
  flog primary run --inbox ~/Downloads/flog
  FLOG_PEER_SECRET=s3cret flog primary run`,
	Run: func(cmd *cobra.Command, args []string) {
		if inbox, _ := cmd.Flags().GetString("inbox"); inbox != "" {
			cfg.Primary.InboxDir = inbox
		}
		if standalone, _ := cmd.Flags().GetBool("standalone"); standalone || offline {
			cfg.Primary.CompanionURL = ""
		}

		db, err := store.Open(cfg.PrimaryDB())
		if err != nil {
			fatal("%v", err)
		}
		defer db.Close()

		if err := db.InitSchemaContext(cmd.Context()); err != nil {
			fatal("%v", err)
		}

		logger := componentLogger("primary")
		config := &daemon.Config{
			CompanionURL:      cfg.Primary.CompanionURL,
			Secret:            []byte(cfg.Peer.Secret),
			TokenTTL:          cfg.Peer.TokenTTL.D(),
			DialTimeout:       cfg.Primary.DialTimeout.D(),
			ReconnectInterval: cfg.Primary.ReconnectInterval.D(),
			InboxDir:          cfg.Primary.InboxDir,
			DebounceInterval:  cfg.Primary.DebounceInterval.D(),
			Logger:            logger,
		}

		d, err := daemon.New(repo.New(db, logger), config)
		if err != nil {
			fatal("failed to create daemon: %v", err)
		}

		fmt.Printf("%s Primary running on %s\n", ui.RenderAccent("▶"), db.Path())
		if config.CompanionURL != "" {
			fmt.Printf("  Companion: %s\n", config.CompanionURL)
		}
		if config.InboxDir != "" {
			fmt.Printf("  Inbox: %s\n", config.InboxDir)
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		if err := d.Start(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
			os.Exit(1)
		}
		fmt.Printf("%s Primary stopped\n", ui.RenderPass("✓"))
	},
}

func init() {
	primaryRunCmd.Flags().String("inbox", "", "Directory watched for *.flog course codes (overrides primary.inbox_dir)")
	primaryRunCmd.Flags().Bool("standalone", false, "Run without connecting to a companion")

	primaryCmd.AddCommand(primaryRunCmd)
	rootCmd.AddCommand(primaryCmd)
}
