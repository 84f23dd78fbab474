package mode

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/khaledhikmat/vs-batch/model"
)

var (
	headerColor = color.New(color.Bold)
	doneColor   = color.New(color.FgGreen)
	failedColor = color.New(color.FgRed)
	noteColor   = color.New(color.FgYellow)
)

func printReport(w io.Writer, summary model.RunSummary) {
	headerColor.Fprintf(w, "Run %s\n", summary.RunID)
	fmt.Fprintf(w, "  input:  %s\n  output: %s\n", summary.InputDir, summary.OutputDir)
	fmt.Fprintf(w, "  items:  %d\n", summary.Total)
	doneColor.Fprintf(w, "  done:   %d\n", summary.Done)

	if summary.Failed > 0 {
		failedColor.Fprintf(w, "  failed: %d\n", summary.Failed)
		for _, f := range summary.Failures {
			failedColor.Fprintf(w, "    %s [%s] %s\n", f.Item, f.Kind, f.Reason)
		}
	} else {
		fmt.Fprintf(w, "  failed: 0\n")
	}

	if summary.Cancelled {
		noteColor.Fprintln(w, "  run was cancelled before all items were processed")
	}
}
