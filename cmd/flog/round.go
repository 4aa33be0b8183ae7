package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/flogapp/flog/internal/model"
	"github.com/flogapp/flog/internal/ui"
)

var roundCmd = &cobra.Command{
	Use:     "round",
	GroupID: "courses",
	Short:   "Play a round: move between holes and mark targets",
	Long: `Track the current round on the primary device.

The round cursor (course and hole) is stored with the course data, so a
round survives restarts of the daemon and of these commands.`,
}

var roundStartCmd = &cobra.Command{
	Use:   "start <course-id>",
	Short: "Start a round at hole 1",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openPrimary(ctx)
		defer a.Close()

		var c model.Course
		err := a.Do(ctx, func(ctx context.Context) error {
			var err error
			c, err = a.coord.StartRound(ctx, args[0])
			return err
		})
		if err != nil {
			a.Close()
			fatal("%v", err)
		}
		fmt.Printf("%s Started %s at hole 1, %s\n", ui.RenderPass("✓"), c.Name, a.syncNote())
	},
}

var roundStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current course and hole",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		offline = true
		a := openPrimary(ctx)
		defer a.Close()

		var (
			active   *model.Course
			hole     int
			settings model.Settings
		)
		_ = a.Do(ctx, func(ctx context.Context) error {
			active = a.session.Active()
			hole = a.session.Hole()
			settings = a.session.Settings()
			return nil
		})
		if active == nil {
			fmt.Println(ui.RenderMuted("No round in progress"))
			return
		}

		h, _ := active.Hole(hole)
		pairs := [][2]string{
			{"Course", fmt.Sprintf("%s (%s)", active.Name, active.ID)},
			{"Hole", fmt.Sprintf("%d of %d", hole, model.HoleCount)},
		}
		if h != nil {
			pairs = append(pairs,
				[2]string{"Par", strconv.Itoa(h.Par)},
				[2]string{"Targets", describeHole(*h)},
			)
		}
		pairs = append(pairs,
			[2]string{"Marked", fmt.Sprintf("%d/%d", active.MarkedCount(), model.HoleCount)},
			[2]string{"Auto advance", strconv.FormatBool(settings.AutoAdvanceHole)},
		)
		fmt.Print(ui.KeyValues(pairs))
	},
}

var roundNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Move to the next hole",
	Run: func(cmd *cobra.Command, args []string) {
		moveHole(cmd, func(ctx context.Context, a *primaryApp) (int, error) {
			return a.session.Next(ctx)
		})
	},
}

var roundPrevCmd = &cobra.Command{
	Use:   "prev",
	Short: "Move to the previous hole",
	Run: func(cmd *cobra.Command, args []string) {
		moveHole(cmd, func(ctx context.Context, a *primaryApp) (int, error) {
			return a.session.Prev(ctx)
		})
	},
}

var roundHoleCmd = &cobra.Command{
	Use:   "hole <n>",
	Short: "Jump to a hole",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			fatal("invalid hole number %q", args[0])
		}
		moveHole(cmd, func(ctx context.Context, a *primaryApp) (int, error) {
			return n, a.session.SetHole(ctx, n)
		})
	},
}

var roundMarkCmd = &cobra.Command{
	Use:   "mark",
	Short: "Mark a target on the current hole",
	Long: `Record a position fix as a target of the current hole.

The target kind defaults to "pin" for the single layout and "middle" for the
multi layout. Kinds of the other layout are rejected.

Single layout kinds: pin
Multi layout kinds:  tee, front, middle, back, hazard (appends)

Examples:
  flog round mark --lat 51.5010 --lon -0.1420 --accuracy 4
  flog --layout multi round mark --kind tee --lat 51.5 --lon -0.14`,
	Run: func(cmd *cobra.Command, args []string) {
		kindFlag, _ := cmd.Flags().GetString("kind")
		lat, _ := cmd.Flags().GetFloat64("lat")
		lon, _ := cmd.Flags().GetFloat64("lon")
		accuracy, _ := cmd.Flags().GetFloat64("accuracy")
		if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
			fatal("--lat and --lon are required")
		}

		kind, err := markKind(kindFlag, cfg.LayoutValue())
		if err != nil {
			fatal("%v", err)
		}
		fix := model.Fix{
			Latitude:  lat,
			Longitude: lon,
			Accuracy:  accuracy,
			Timestamp: time.Now(),
		}

		ctx := cmd.Context()
		a := openPrimary(ctx)
		defer a.Close()

		var (
			updated *model.Course
			marked  int
			hole    int
		)
		err = a.Do(ctx, func(ctx context.Context) error {
			marked = a.session.Hole()
			var err error
			updated, err = a.coord.MarkActive(ctx, kind, fix)
			hole = a.session.Hole()
			return err
		})
		if err != nil {
			a.Close()
			fatal("%v", err)
		}
		if updated == nil {
			a.Close()
			fatal("%v", model.ErrReferentialMiss)
		}

		fmt.Printf("%s Marked %s on hole %d of %s (%s fix), %s\n",
			ui.RenderPass("✓"), kind, marked, updated.Name, fix.Quality(), a.syncNote())
		if hole != marked {
			fmt.Printf("%s Now on hole %d\n", ui.RenderAccent("→"), hole)
		}
	},
}

var roundEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End the current round",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		offline = true
		a := openPrimary(ctx)
		defer a.Close()

		err := a.Do(ctx, func(ctx context.Context) error {
			return a.session.EndRound(ctx)
		})
		if err != nil {
			a.Close()
			fatal("%v", err)
		}
		fmt.Printf("%s Round ended\n", ui.RenderPass("✓"))
	},
}

func moveHole(cmd *cobra.Command, move func(ctx context.Context, a *primaryApp) (int, error)) {
	ctx := cmd.Context()
	offline = true
	a := openPrimary(ctx)
	defer a.Close()

	var hole int
	err := a.Do(ctx, func(ctx context.Context) error {
		var err error
		hole, err = move(ctx, a)
		return err
	})
	if err != nil {
		a.Close()
		fatal("%v", err)
	}
	fmt.Printf("%s Hole %d\n", ui.RenderAccent("→"), hole)
}

// markKind resolves --kind against the configured layout.
func markKind(flag string, layout model.Layout) (model.TargetKind, error) {
	if flag == "" {
		if layout == model.LayoutMulti {
			return model.TargetMiddle, nil
		}
		return model.TargetPin, nil
	}

	kind, err := model.ParseTargetKind(flag)
	if err != nil {
		return "", err
	}
	if kind.Layout() != layout {
		return "", fmt.Errorf("%w: %s is not a %s layout target", model.ErrInvalid, kind, layout)
	}
	return kind, nil
}

func init() {
	roundMarkCmd.Flags().String("kind", "", "Target kind (default: pin or middle, by layout)")
	roundMarkCmd.Flags().Float64("lat", 0, "Latitude of the fix")
	roundMarkCmd.Flags().Float64("lon", 0, "Longitude of the fix")
	roundMarkCmd.Flags().Float64("accuracy", 5, "Fix accuracy in metres")

	roundCmd.AddCommand(
		roundStartCmd,
		roundStatusCmd,
		roundNextCmd,
		roundPrevCmd,
		roundHoleCmd,
		roundMarkCmd,
		roundEndCmd,
	)
	rootCmd.AddCommand(roundCmd)
}
