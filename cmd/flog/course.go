package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/flogapp/flog/internal/codec"
	"github.com/flogapp/flog/internal/model"
	"github.com/flogapp/flog/internal/ui"
)

var courseCmd = &cobra.Command{
	Use:     "course",
	GroupID: "courses",
	Short:   "Create, edit, share and remove courses",
	Long: `Manage the course list on the primary device.

Every change is written to the primary store first. When the companion is
reachable the change is forwarded to it; otherwise the companion catches up
the next time the primary daemon connects.`,
}

var courseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List courses",
	Long: `List every course with its marked hole count, total par and when it
was last played.

--played-since accepts natural language or a date:
  flog course list --played-since yesterday
  flog course list --played-since "3 days ago"
  flog course list --played-since "last saturday"
  flog course list --played-since 2026-08-01`,
	Run: func(cmd *cobra.Command, args []string) {
		since, _ := cmd.Flags().GetString("played-since")

		var cutoff time.Time
		if since != "" {
			t, err := parseSince(since, time.Now())
			if err != nil {
				fatal("%v", err)
			}
			cutoff = t
		}

		ctx := cmd.Context()
		a := openPrimary(ctx)
		defer a.Close()

		var list []model.Course
		_ = a.Do(ctx, func(ctx context.Context) error {
			list = a.repo.LoadCourses(ctx)
			return nil
		})

		rows := make([][]string, 0, len(list))
		for _, c := range list {
			if !cutoff.IsZero() && (c.LastPlayed == nil || c.LastPlayed.Before(cutoff)) {
				continue
			}
			rows = append(rows, courseRow(c))
		}
		if len(rows) == 0 {
			fmt.Println(ui.RenderMuted("No courses"))
			return
		}
		fmt.Println(ui.Table([]string{"ID", "NAME", "MARKED", "PAR", "LAST PLAYED"}, rows))
	},
}

var courseShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one course hole by hole",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")

		ctx := cmd.Context()
		a := openPrimary(ctx)
		defer a.Close()

		c := a.course(ctx, args[0])
		if format != "text" {
			out, err := formatCourse(c, format)
			if err != nil {
				a.Close()
				fatal("%v", err)
			}
			fmt.Print(out)
			return
		}

		played := "never"
		if c.LastPlayed != nil && !c.LastPlayed.IsZero() {
			played = c.LastPlayed.Local().Format(time.RFC1123)
		}
		layout := "unmarked"
		if l, ok := c.Layout(); ok {
			layout = string(l)
		}
		fmt.Printf("%s %s\n\n", ui.RenderAccent(c.Name), ui.RenderMuted("("+c.ID+")"))
		fmt.Print(ui.KeyValues([][2]string{
			{"Created", c.CreatedAt.Local().Format(time.RFC1123)},
			{"Last played", played},
			{"Layout", layout},
			{"Marked", fmt.Sprintf("%d/%d", c.MarkedCount(), model.HoleCount)},
		}))
		fmt.Println()
		fmt.Println(ui.Table([]string{"HOLE", "PAR", "TARGETS"}, holeRows(c)))
	},
}

var courseCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a course and start a round on it",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := strings.Join(args, " ")

		ctx := cmd.Context()
		a := openPrimary(ctx)
		defer a.Close()

		var c model.Course
		err := a.Do(ctx, func(ctx context.Context) error {
			var err error
			c, err = a.coord.CreateCourse(ctx, name)
			return err
		})
		if err != nil {
			a.Close()
			fatal("%v", err)
		}
		fmt.Printf("%s Created %s (%s), %s\n", ui.RenderPass("✓"), c.Name, c.ID, a.syncNote())
	},
}

var courseRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a course",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, name := args[0], strings.Join(args[1:], " ")

		ctx := cmd.Context()
		a := openPrimary(ctx)
		defer a.Close()

		var updated *model.Course
		err := a.Do(ctx, func(ctx context.Context) error {
			var err error
			updated, err = a.coord.RenameCourse(ctx, id, name)
			return err
		})
		if err != nil {
			a.Close()
			fatal("%v", err)
		}
		if updated == nil {
			a.Close()
			fatal("%v", fmt.Errorf("%w: course %s", model.ErrReferentialMiss, id))
		}
		fmt.Printf("%s Renamed %s to %s, %s\n", ui.RenderPass("✓"), id, updated.Name, a.syncNote())
	},
}

var courseDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a course",
	Long: `Delete a course from the primary store.

Asks for confirmation unless --yes is given. Deleting the course of the
current round ends the round.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")

		ctx := cmd.Context()
		a := openPrimary(ctx)
		defer a.Close()

		c := a.course(ctx, args[0])
		ok, err := ui.Confirm(fmt.Sprintf("Delete %s?", c.Name), "This cannot be undone.", yes)
		if err != nil {
			a.Close()
			fatal("%v", err)
		}
		if !ok {
			fmt.Println(ui.RenderWarn("Cancelled"))
			return
		}

		err = a.Do(ctx, func(ctx context.Context) error {
			_, err := a.coord.DeleteCourse(ctx, c.ID)
			return err
		})
		if err != nil {
			a.Close()
			fatal("%v", err)
		}
		fmt.Printf("%s Deleted %s, %s\n", ui.RenderPass("✓"), c.Name, a.syncNote())
	},
}

var courseExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Print a course code to share",
	Long: `Print the portable code for a course.

Paste the code into "flog course import" on another device, drop it into
the primary daemon's inbox as a *.flog file, or enter it on the companion.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		legacy, _ := cmd.Flags().GetBool("legacy")

		ctx := cmd.Context()
		offline = true
		a := openPrimary(ctx)
		defer a.Close()

		c := a.course(ctx, args[0])
		encode := codec.Encode
		if legacy {
			encode = codec.EncodeLegacy
		}
		token, err := encode(c)
		if err != nil {
			a.Close()
			fatal("%v", err)
		}
		fmt.Println(token)
	},
}

var courseImportCmd = &cobra.Command{
	Use:   "import [code|-]",
	Short: "Import a course from a code",
	Long: `Import a course from a code produced by "flog course export".

Reads the code from standard input when it is "-" or omitted. The imported
course always gets a fresh id and becomes the current round.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		token := "-"
		if len(args) == 1 {
			token = args[0]
		}
		if token == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				fatal("failed to read code: %v", err)
			}
			token = string(data)
		}

		ctx := cmd.Context()
		a := openPrimary(ctx)
		defer a.Close()

		var c model.Course
		err := a.Do(ctx, func(ctx context.Context) error {
			var err error
			c, err = a.coord.ImportToken(ctx, token)
			return err
		})
		if err != nil {
			a.Close()
			fatal("%s: %v", model.KindOf(err).UserMessage(), err)
		}
		fmt.Printf("%s Imported %s (%s), %s\n", ui.RenderPass("✓"), c.Name, c.ID, a.syncNote())
	},
}

var courseCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove duplicate and invalid courses",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := openPrimary(ctx)
		defer a.Close()

		var removed int
		err := a.Do(ctx, func(ctx context.Context) error {
			var err error
			removed, err = a.coord.Cleanup(ctx)
			return err
		})
		if err != nil {
			a.Close()
			fatal("%v", err)
		}
		if removed == 0 {
			fmt.Printf("%s Nothing to clean up\n", ui.RenderPass("✓"))
			return
		}
		fmt.Printf("%s Removed %d course(s), %s\n", ui.RenderPass("✓"), removed, a.syncNote())
	},
}

var courseParCmd = &cobra.Command{
	Use:   "par <id> <hole> <par>",
	Short: "Set the par of a hole",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		number, err := strconv.Atoi(args[1])
		if err != nil {
			fatal("invalid hole number %q", args[1])
		}
		par, err := strconv.Atoi(args[2])
		if err != nil {
			fatal("invalid par %q", args[2])
		}

		ctx := cmd.Context()
		a := openPrimary(ctx)
		defer a.Close()

		var updated *model.Course
		err = a.Do(ctx, func(ctx context.Context) error {
			var err error
			updated, err = a.coord.SetPar(ctx, args[0], number, par)
			return err
		})
		if err != nil {
			a.Close()
			fatal("%v", err)
		}
		if updated == nil {
			a.Close()
			fatal("%v", fmt.Errorf("%w: course %s hole %d", model.ErrReferentialMiss, args[0], number))
		}
		fmt.Printf("%s Hole %d of %s is now par %d, %s\n", ui.RenderPass("✓"), number, updated.Name, par, a.syncNote())
	},
}

// parseSince reads a --played-since value: a date, an RFC 3339 time or a
// natural language expression relative to now.
func parseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if t, err := time.ParseInLocation("2006-01-02", text, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("%w: cannot understand %q as a time", model.ErrInvalid, text)
	}
	return r.Time, nil
}

func init() {
	courseListCmd.Flags().String("played-since", "", "Only courses played since this time")
	courseShowCmd.Flags().StringP("format", "f", "text", "Output format: text, json or yaml")
	courseDeleteCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	courseExportCmd.Flags().Bool("legacy", false, "Emit the older base64 JSON code")

	courseCmd.AddCommand(
		courseListCmd,
		courseShowCmd,
		courseCreateCmd,
		courseRenameCmd,
		courseDeleteCmd,
		courseExportCmd,
		courseImportCmd,
		courseCleanupCmd,
		courseParCmd,
	)
	rootCmd.AddCommand(courseCmd)
}
