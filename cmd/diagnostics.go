package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hotovec/mails/internal/build"
	mailerrors "github.com/hotovec/mails/internal/errors"
)

var (
	colorRed    = lipgloss.Color("167")
	colorYellow = lipgloss.Color("220")
	colorGreen  = lipgloss.Color("35")
	colorDim    = lipgloss.Color("240")

	styleBanner = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			Background(colorRed).
			Padding(0, 1)
	styleError   = lipgloss.NewStyle().Foreground(colorRed)
	styleWarning = lipgloss.NewStyle().Bold(true).Foreground(colorYellow)
	styleSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
)

// bell rings the terminal so a failed watch or publish run is noticed.
const bell = "\a"

// printDiagnostic renders err for the terminal. Configuration problems
// and a failed clean get the red banner and a beep.
func printDiagnostic(w io.Writer, err error) {
	title := "Error"
	loud := false
	switch {
	case mailerrors.IsConfig(err):
		title, loud = "Configuration error", true
	case errors.Is(err, build.ErrCleanFailed):
		title, loud = "Cannot clean the output directory", true
	case mailerrors.IsSyntax(err):
		title = "Stylesheet error"
	}

	if loud {
		fmt.Fprint(w, bell)
		fmt.Fprintln(w, styleBanner.Render(strings.ToUpper(title)))
	} else {
		fmt.Fprintln(w, styleError.Bold(true).Render(title))
	}
	fmt.Fprintln(w, styleError.Render(err.Error()))

	var be *mailerrors.BuildError
	if errors.As(err, &be) && be.File != "" {
		loc := be.File
		if be.Line > 0 {
			loc = fmt.Sprintf("%s:%d", be.File, be.Line)
		}
		fmt.Fprintln(w, styleDim.Render("  at "+loc))
	}
}

func printWarning(w io.Writer, msg string) {
	fmt.Fprintln(w, styleWarning.Render("! "+msg))
}

func printSuccess(w io.Writer, msg string) {
	fmt.Fprintln(w, styleSuccess.Render(msg))
}
