package splitter

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/gc-decomp/splitter/internal/diag"
)

var (
	colorStage     = color.New(color.FgCyan)
	colorAddr      = color.New(color.FgMagenta)
	colorAmbiguous = color.New(color.FgYellow, color.Bold)
	colorInfo      = color.New(color.FgGreen)
	colorCount     = color.New(color.FgWhite, color.Bold)
)

// printWarnings renders warnings already in canonical order (diag.Bag.Sorted
// produces this order; pipeline.Output.Warnings preserves it), colored by
// severity, the way the teacher's cmd/cpu debugger colors register/flag
// state rather than printing plain text.
func printWarnings(w io.Writer, warnings []diag.Warning) {
	if len(warnings) == 0 {
		colorInfo.Fprintln(w, "no warnings")
		return
	}

	for _, warn := range warnings {
		sev := colorAmbiguous
		label := "ambiguous"
		if warn.Severity == diag.SeverityInfo {
			sev = colorInfo
			label = "info"
		}

		colorAddr.Fprintf(w, "0x%08x", warn.Address)
		fmt.Fprint(w, " ")
		colorStage.Fprintf(w, "[%s]", warn.Stage)
		fmt.Fprint(w, " ")
		sev.Fprintf(w, "%s:", label)
		fmt.Fprintf(w, " %s\n", warn.Message)
	}

	colorCount.Fprintf(w, "%d warning(s)\n", len(warnings))
}
