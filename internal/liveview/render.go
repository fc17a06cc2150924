package liveview

import (
	"fmt"
	"io"
	"time"

	"github.com/fyrsmithlabs/mindpalace/internal/thought"
)

// TimeLayout formats creation timestamps.
const TimeLayout = "2006-01-02 15:04:05"

// Render writes thoughts as plain text using local time.
func Render(w io.Writer, thoughts []*thought.Thought) error {
	return RenderIn(w, thoughts, time.Local)
}

// RenderIn writes thoughts with timestamps in loc. The "AI:" line only
// appears once an insight exists.
func RenderIn(w io.Writer, thoughts []*thought.Thought, loc *time.Location) error {
	if len(thoughts) == 0 {
		_, err := fmt.Fprintln(w, "No thoughts yet.")
		return err
	}
	for i, t := range thoughts {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "#%d  %s\n%s\n", t.ID, t.CreatedAt.In(loc).Format(TimeLayout), t.Content); err != nil {
			return err
		}
		if t.HasInsight() {
			if _, err := fmt.Fprintf(w, "AI: %s\n", t.Insight()); err != nil {
				return err
			}
		}
	}
	return nil
}
