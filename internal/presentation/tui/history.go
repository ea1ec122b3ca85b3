package tui

import (
	"fmt"
	"io"
	"time"

	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/muesli/termenv"
)

// HistoryView is everything the history command prints for one instance.
type HistoryView struct {
	Execution  *domain.HistoryExecution
	Activities []domain.HistoryActivity
	Tasks      []domain.HistoryTask
}

// Renderer prints instance state with colors suited to the terminal.
type Renderer struct {
	out *termenv.Output
}

// NewRenderer creates a renderer for w. Colors degrade with the profile
// termenv detects for w, so pipes get plain text.
func NewRenderer(w io.Writer, opts ...termenv.OutputOption) *Renderer {
	return &Renderer{out: termenv.NewOutput(w, opts...)}
}

func (r *Renderer) style(s, color string) termenv.Style {
	return r.out.String(s).Foreground(r.out.Color(color))
}

// History prints the instance span, its activity visits in start order and
// its user tasks.
func (r *Renderer) History(v HistoryView) {
	w := r.out
	if v.Execution != nil {
		fmt.Fprintf(w, "%s %s\n", r.out.String("Instance").Bold(), v.Execution.ProcessID)
		fmt.Fprintf(w, "  definition %s\n", v.Execution.DefinitionID)
		fmt.Fprintf(w, "  started    %s\n", stamp(v.Execution.StartedAt))
		if v.Execution.EndedAt != nil {
			fmt.Fprintf(w, "  ended      %s (%s)\n", stamp(*v.Execution.EndedAt), span(v.Execution.Duration))
		} else {
			fmt.Fprintf(w, "  %s\n", r.style("running", "#fbbf24"))
		}
	}

	fmt.Fprintf(w, "\n%s\n", r.out.String("Activities").Bold())
	if len(v.Activities) == 0 {
		fmt.Fprintln(w, r.out.String("  none").Faint())
	}
	for _, a := range v.Activities {
		mark, color := "●", "#fbbf24"
		switch {
		case a.EndedAt != nil && a.Completed:
			mark, color = "✔", "#34d399"
		case a.EndedAt != nil:
			mark, color = "✖", "#9ca3af"
		}
		line := fmt.Sprintf("  %s %-24s %s", mark, a.Activity, stamp(a.StartedAt))
		if a.Duration != nil {
			line += " " + span(a.Duration)
		}
		fmt.Fprintln(w, r.style(line, color))
	}

	if len(v.Tasks) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", r.out.String("Tasks").Bold())
	for _, t := range v.Tasks {
		state := r.style("open", "#fbbf24")
		switch {
		case t.EndedAt != nil && t.Completed:
			state = r.style("completed", "#34d399")
		case t.EndedAt != nil:
			state = r.style("cancelled", "#9ca3af")
		}
		assignee := t.Assignee
		if assignee == "" {
			assignee = "-"
		}
		fmt.Fprintf(w, "  %-24s %-12s %s\n", t.DefinitionKey, assignee, state)
	}
}

// Tasks prints open user tasks, one per line.
func (r *Renderer) Tasks(tasks []domain.UserTask) {
	if len(tasks) == 0 {
		fmt.Fprintln(r.out, r.out.String("No open tasks").Faint())
		return
	}
	for _, t := range tasks {
		fmt.Fprintf(r.out, "%s %s %s\n", r.style(t.ID, "#818cf8"), t.Name, r.out.String("("+t.ProcessID+")").Faint())
	}
}

func stamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func span(d *uint64) string {
	if d == nil {
		return ""
	}
	return (time.Duration(*d) * time.Millisecond).String()
}
