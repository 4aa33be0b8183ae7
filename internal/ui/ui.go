// Package ui renders CLI output.
package ui

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// ErrNotInteractive is returned by Confirm when there is no terminal to
// ask on.
var ErrNotInteractive = errors.New("not a terminal; pass --yes to confirm")

func init() {
	if !ColorEnabled() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// ColorEnabled reports whether stdout is a terminal and NO_COLOR is unset.
func ColorEnabled() bool {
	if termenv.EnvNoColor() {
		return false
	}
	return IsTerminal()
}

// IsTerminal reports whether stdin and stdout are terminals.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
}

// RenderAccent renders s in the accent color.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders s as a success marker.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s as a warning marker.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders s as a failure marker.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted renders s de-emphasised.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// Table renders rows under headers.
func Table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}

// KeyValues renders aligned "key: value" lines.
func KeyValues(pairs [][2]string) string {
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	var b strings.Builder
	for _, p := range pairs {
		fmt.Fprintf(&b, "%s %s\n", RenderMuted(fmt.Sprintf("%-*s", width+1, p[0]+":")), p[1])
	}
	return b.String()
}

// Confirm asks a yes/no question. assumeYes skips the prompt.
func Confirm(title, description string, assumeYes bool) (bool, error) {
	if assumeYes {
		return true, nil
	}
	if !IsTerminal() {
		return false, ErrNotInteractive
	}

	ok := false
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return false, err
	}
	return ok, nil
}
