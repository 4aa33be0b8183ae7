package main

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/flogapp/flog/internal/config"
	"github.com/flogapp/flog/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Write and inspect configuration",
	Long: `Configuration is read from, in increasing precedence:
  1. Built-in defaults
  2. flog.toml or flog.yaml in $FLOG_HOME or the working directory
     (or the file named by --config)
  3. FLOG_ environment variables, e.g. FLOG_PEER_SECRET, FLOG_COMPANION_LISTEN
  4. Command line flags`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the current settings",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		path := configPath
		if path == "" {
			path = config.ConfigFile(cfg.DataDir)
		}
		if err := config.WriteTOML(path, cfg, force); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		reveal, _ := cmd.Flags().GetBool("reveal")

		switch format {
		case "yaml":
			data, err := config.YAML(cfg, reveal)
			if err != nil {
				fatal("%v", err)
			}
			fmt.Print(string(data))
		case "toml":
			shown := cfg
			if !reveal && shown.Peer.Secret != "" {
				shown.Peer.Secret = "********"
			}
			var buf bytes.Buffer
			if err := toml.NewEncoder(&buf).Encode(shown); err != nil {
				fatal("failed to encode config: %v", err)
			}
			fmt.Print(buf.String())
		default:
			fatal("unknown format %q (want yaml or toml)", format)
		}
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configShowCmd.Flags().StringP("format", "f", "yaml", "Output format: yaml or toml")
	configShowCmd.Flags().Bool("reveal", false, "Show the peer secret")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
