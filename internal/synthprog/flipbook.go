// Public domain.

package synthprog

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const flipPreamble = `\documentclass[compress]{beamer}
\usepackage{helvet}
\newcommand{\plot}[1]{\includegraphics[width=0.5\textwidth]{#1}}
\begin{document}
`

// Flipbook is the beamer source paging through the initial model and
// every tuning step, then comparing the first and last models when there
// was tuning.  With plotAll each step is followed by a page per source.
func Flipbook(prefix string, tune []Tune, nsrc int, plotAll bool) string {
	var b strings.Builder
	b.WriteString(flipPreamble)
	page := func(title, id string) {
		fmt.Fprintf(&b, "\\frame{\\frametitle{%s}\n", title)
		fmt.Fprintf(&b, "\\plot{data-%s}\n\\plot{model-%s} \\\\\n", id, id)
		fmt.Fprintf(&b, "\\plot{diff-%s}\n\\plot{chi-%s} \\\\\n}\n", id, id)
	}
	sources := func(id string) {
		if !plotAll {
			return
		}
		for i := 1; i <= nsrc; i++ {
			page(fmt.Sprintf("Source: %d", i), fmt.Sprintf("s%d-%s", i, id))
		}
	}
	if len(tune) > 0 {
		b.WriteString("\\part{Tuning steps}\\frame{\\partpage}\n")
	}
	page("Initial model", prefix)
	sources(prefix)
	last := prefix
	for set, t := range tune {
		for step := 1; step <= t.Steps; step++ {
			id := TuneID(set+1, step, prefix)
			title := fmt.Sprintf("Tuning set %d, Tuning step %d", set+1, step)
			if t.Kind == 'i' {
				title = fmt.Sprintf("Tuning set %d, Individual tuning step %d", set+1, step)
			}
			page(title, id)
			sources(id)
			last = id
		}
	}
	if len(tune) > 0 {
		b.WriteString("\\part{Before-n-after}\\frame{\\partpage}\n")
		fmt.Fprintf(&b, "\\frame{\\frametitle{Data}\n\\plot{data-%s}\n\\plot{data-%s} \\\\\n", prefix, prefix)
		fmt.Fprintf(&b, "\\plot{diff-%s}\n\\plot{diff-%s} \\\\\n}\n", prefix, prefix)
		fmt.Fprintf(&b, "\\frame{\\frametitle{Before (left); After (right)}\n\\plot{model-%s}\n\\plot{model-%s} \\\\\n", prefix, last)
		fmt.Fprintf(&b, "\\plot{diff-%s}\n\\plot{diff-%s} \\\\\n}\n", prefix, last)
	}
	b.WriteString("\\end{document}\n")
	return b.String()
}

// Latex runs the typesetter in dir on file fn.
type Latex func(ctx context.Context, dir, fn string) error

// PDFLatex runs pdflatex.
func PDFLatex(ctx context.Context, dir, fn string) error {
	cmd := exec.CommandContext(ctx, "pdflatex", "-interaction=nonstopmode", fn)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pdflatex %s: %w\n%s", fn, err, tail(out, 20))
	}
	return nil
}

func tail(out []byte, n int) string {
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// MakeFlipbook writes flip-<prefix>.tex and typesets it with latex.  The
// tex file is kept when latex fails.
func (s *Synth) MakeFlipbook(ctx context.Context, prefix string, tune []Tune, latex Latex) (string, error) {
	fn := "flip-" + prefix + ".tex"
	src := Flipbook(prefix, tune, len(s.Sources), s.PlotAll)
	if err := os.WriteFile(filepath.Join(s.Dir, fn), []byte(src), 0o644); err != nil {
		return "", err
	}
	s.Log.Infow("wrote flip-book source", "file", filepath.Join(s.Dir, fn))
	if latex == nil {
		return fn, nil
	}
	if err := latex(ctx, s.Dir, fn); err != nil {
		return fn, err
	}
	pdf := filepath.Join(s.Dir, "flip-"+prefix+".pdf")
	s.Log.Infow("created flip-book", "file", pdf)
	return pdf, nil
}
