package viz

import (
	"fmt"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/mkrein/genflow/internal/store"
)

// Plot renders every component series of the run as a stacked set of
// ascii charts.
func Plot(run *store.Run, height, width int) string {
	if len(run.Rows) < 2 {
		return "(not enough points to plot)"
	}

	var s strings.Builder
	for col, name := range run.Columns {
		series := make([]float64, len(run.Rows))
		for i, row := range run.Rows {
			series[i] = row[col]
		}
		chart := asciigraph.Plot(series,
			asciigraph.Height(height),
			asciigraph.Width(width),
			asciigraph.Caption(name))
		s.WriteString(chart + "\n")
		if col < len(run.Columns)-1 {
			s.WriteString(Separator(width) + "\n")
		}
	}
	s.WriteString(fmt.Sprintf("t: %.4f .. %.4f (%d points)\n", run.Times[0], run.Times[len(run.Times)-1], len(run.Times)))
	return s.String()
}
