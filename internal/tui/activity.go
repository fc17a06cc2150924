package tui

import (
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"

	"github.com/fyrsmithlabs/mindpalace/internal/thought"
)

const (
	activityBuckets = 24
	activityHeight  = 2
)

// activity counts thoughts per hour over the last activityBuckets hours,
// oldest first.
func activity(thoughts []*thought.Thought, now time.Time) []float64 {
	counts := make([]float64, activityBuckets)
	end := now.Truncate(time.Hour).Add(time.Hour)
	start := end.Add(-activityBuckets * time.Hour)
	for _, t := range thoughts {
		if t.CreatedAt.Before(start) || !t.CreatedAt.Before(end) {
			continue
		}
		counts[int(t.CreatedAt.Sub(start)/time.Hour)]++
	}
	return counts
}

func renderActivity(thoughts []*thought.Thought, now time.Time) string {
	counts := activity(thoughts, now)
	var total float64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return dimStyle.Render("no thoughts in the last 24h")
	}

	spark := sparkline.New(activityBuckets, activityHeight)
	for _, c := range counts {
		spark.Push(c)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View()) + "\n" + dimStyle.Render(fmt.Sprintf("%.0f in the last 24h", total))
}
