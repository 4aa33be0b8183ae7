package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/flogapp/flog/internal/peer"
	"github.com/flogapp/flog/internal/ui"
)

var pairCmd = &cobra.Command{
	Use:     "pair",
	GroupID: "setup",
	Short:   "Pair the primary with a companion",
	Long: `Both sides share peer.secret. The primary signs a short-lived token with
it on every connection and the companion rejects connections whose token
does not verify.

Pairing steps:
  1. flog pair secret                 # on either side
  2. put the value in peer.secret (or FLOG_PEER_SECRET) on both sides
  3. flog companion run / flog primary run`,
}

var pairSecretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Generate a new shared secret",
	Run: func(cmd *cobra.Command, args []string) {
		secret := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
		fmt.Println(secret)
	},
}

var pairTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a pairing token for manual testing",
	Long: `Print a token signed with peer.secret, as the primary would send it.

Example:
  websocat -H "Authorization: Bearer $(flog pair token)" ws://127.0.0.1:7420/peer`,
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl == 0 {
			ttl = cfg.Peer.TokenTTL.D()
		}
		if cfg.Peer.Secret == "" {
			fatal("peer.secret is not set (see %s)", ui.RenderAccent("flog pair secret"))
		}

		token, err := peer.IssueToken([]byte(cfg.Peer.Secret), name, ttl, time.Now())
		if err != nil {
			fatal("%v", err)
		}
		fmt.Println(token)
	},
}

func init() {
	pairTokenCmd.Flags().String("name", "flog-cli", "Peer name carried in the token")
	pairTokenCmd.Flags().Duration("ttl", 0, "Token lifetime (default: peer.token_ttl)")

	pairCmd.AddCommand(pairSecretCmd, pairTokenCmd)
	rootCmd.AddCommand(pairCmd)
}
