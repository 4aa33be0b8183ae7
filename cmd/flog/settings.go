package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flogapp/flog/internal/model"
	"github.com/flogapp/flog/internal/ui"
)

var settingsCmd = &cobra.Command{
	Use:     "settings",
	GroupID: "courses",
	Short:   "Show and change user settings",
	Long: `Show and change the user settings stored on the primary device.

Keys:
  useYards          true|false     distances in yards instead of metres
  gpsAccuracy       high|balanced|low
  vibrationEnabled  true|false
  autoAdvanceHole   true|false     move to the next hole after marking

Changes are forwarded to the companion when it is reachable.`,
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all settings",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		offline = true
		a := openPrimary(ctx)
		defer a.Close()

		var s model.Settings
		_ = a.Do(ctx, func(ctx context.Context) error {
			s = a.session.Settings()
			return nil
		})

		pairs := make([][2]string, 0, len(model.SettingKeys()))
		for _, key := range model.SettingKeys() {
			value, _ := s.Value(key)
			pairs = append(pairs, [2]string{key, fmt.Sprint(value)})
		}
		fmt.Print(ui.KeyValues(pairs))
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !model.IsSettingKey(args[0]) {
			fatal("unknown setting %q (known: %s)", args[0], strings.Join(model.SettingKeys(), ", "))
		}

		ctx := cmd.Context()
		offline = true
		a := openPrimary(ctx)
		defer a.Close()

		var value any
		_ = a.Do(ctx, func(ctx context.Context) error {
			value, _ = a.session.Settings().Value(args[0])
			return nil
		})
		fmt.Println(value)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]
		if !model.IsSettingKey(key) {
			fatal("unknown setting %q (known: %s)", key, strings.Join(model.SettingKeys(), ", "))
		}
		raw := settingValue(args[1])

		ctx := cmd.Context()
		a := openPrimary(ctx)
		defer a.Close()

		var s model.Settings
		err := a.Do(ctx, func(ctx context.Context) error {
			var err error
			s, err = a.coord.ApplySetting(ctx, key, raw)
			return err
		})
		if err != nil {
			a.Close()
			fatal("%v", err)
		}
		value, _ := s.Value(key)
		fmt.Printf("%s %s = %v, %s\n", ui.RenderPass("✓"), key, value, a.syncNote())
	},
}

// settingValue turns a command line value into JSON. Valid JSON passes
// through; anything else is sent as a string.
func settingValue(arg string) json.RawMessage {
	arg = strings.TrimSpace(arg)
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	data, _ := json.Marshal(arg)
	return data
}

func init() {
	settingsCmd.AddCommand(settingsListCmd, settingsGetCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
