package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flogapp/flog/internal/companion"
	"github.com/flogapp/flog/internal/relay"
	"github.com/flogapp/flog/internal/store"
	"github.com/flogapp/flog/internal/ui"
)

var companionCmd = &cobra.Command{
	Use:     "companion",
	GroupID: "runtime",
	Short:   "Companion server",
}

var companionRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the companion server",
	Long: `Run the companion side until interrupted.

The companion keeps a mirror of the primary's course list and active course
code in its own key space, and exposes it over HTTP:

  GET    /health                      channel state
  GET    /api/settings                every key
  GET    /api/settings/{key}          one key
  PUT    /api/settings/{key}          set a key (forwarded to the primary)
  DELETE /api/settings/{key}          remove a key
  GET    /api/courses                 mirrored course list
  POST   /api/courses/{id}/rename     {"name": "..."}
  POST   /api/courses/{id}/delete     first call arms, second call deletes
  GET    /api/export                  active course code
  POST   /api/import                  import a course code on the primary

The primary connects to ws://<listen>/peer with a pairing token signed with
peer.secret. Only one primary is attached at a time: a newer connection
replaces the older one.

Example usage:
  flog companion run
  flog companion run --listen 0.0.0.0:7420`,
	Run: func(cmd *cobra.Command, args []string) {
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.Companion.Listen = listen
		}
		if cfg.Peer.Secret == "" {
			fmt.Fprintf(os.Stderr, "%s peer.secret is empty, the /peer endpoint accepts any client\n", ui.RenderWarn("Warning:"))
		}

		db, err := store.Open(cfg.CompanionDB())
		if err != nil {
			fatal("%v", err)
		}
		defer db.Close()

		if err := db.InitSchemaContext(cmd.Context()); err != nil {
			fatal("%v", err)
		}

		config := &companion.Config{
			Addr:          cfg.Companion.Listen,
			Secret:        []byte(cfg.Peer.Secret),
			ConfirmWindow: cfg.Companion.ConfirmWindow.D(),
			AccessLog:     logOut,
			Logger:        componentLogger("companion"),
		}
		server := companion.NewServer(relay.NewKeyStore(db), config)

		if err := server.Start(); err != nil {
			fatal("failed to start companion: %v", err)
		}

		addr := server.GetAddr()
		fmt.Printf("%s Companion listening on http://%s\n", ui.RenderAccent("▶"), addr)
		fmt.Printf("  Peer endpoint: ws://%s/peer\n", addr)
		fmt.Println("\nPress Ctrl+C to stop...")

		<-cmd.Context().Done()

		fmt.Println("\nShutting down companion...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Companion stopped\n", ui.RenderPass("✓"))
	},
}

func init() {
	companionRunCmd.Flags().String("listen", "", "Address to listen on (overrides companion.listen)")

	companionCmd.AddCommand(companionRunCmd)
	rootCmd.AddCommand(companionCmd)
}
