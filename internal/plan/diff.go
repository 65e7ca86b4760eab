package plan

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/pmezard/go-difflib/difflib"
)

const diffTimestampFormat = "2006-01-02 15:04:05 -0700"

// writeUnifiedDiff emits a unified diff between the destination's previous
// content and the rendered replacement. The old side is timestamped with
// the file's previous modification time, the new side with now. Output is
// colorized when errW is an interactive terminal.
func writeUnifiedDiff(errW io.Writer, path, existing, rendered string, modified time.Time) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(existing),
		B:        difflib.SplitLines(rendered),
		FromFile: fmt.Sprintf("%s\t%s", path, modified.Format(diffTimestampFormat)),
		ToFile:   fmt.Sprintf("%s\t%s", path, time.Now().Format(diffTimestampFormat)),
		Context:  3,
	}
	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return
	}
	if isTerminal(errW) {
		out = colorizeDiff(out)
	}
	io.WriteString(errW, out)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func colorizeDiff(diff string) string {
	var b strings.Builder
	b.Grow(len(diff))
	for _, line := range strings.SplitAfter(diff, "\n") {
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			b.WriteString(color.GreenString("%s", strings.TrimSuffix(line, "\n")) + "\n")
		case strings.HasPrefix(line, "-"):
			b.WriteString(color.RedString("%s", strings.TrimSuffix(line, "\n")) + "\n")
		case strings.HasPrefix(line, "@"):
			b.WriteString(color.YellowString("%s", strings.TrimSuffix(line, "\n")) + "\n")
		default:
			b.WriteString(line)
		}
	}
	return b.String()
}
