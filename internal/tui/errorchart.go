package tui

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"
)

const maxChartTypes = 6

type typeCount struct {
	name  string
	count int
}

// ErrorTypesChart renders the per-type error counters as a bar chart with a
// legend. Only the most frequent types are drawn.
type ErrorTypesChart struct {
	data   []typeCount
	width  int
	height int
}

// NewErrorTypesChart creates an empty chart.
func NewErrorTypesChart() *ErrorTypesChart {
	return &ErrorTypesChart{width: 40, height: 6}
}

// SetData replaces the counters. Types are ordered by count, then name.
func (c *ErrorTypesChart) SetData(types map[string]int) {
	c.data = c.data[:0]
	for name, n := range types {
		if n > 0 {
			c.data = append(c.data, typeCount{name: name, count: n})
		}
	}
	slices.SortFunc(c.data, func(a, b typeCount) int {
		if n := cmp.Compare(b.count, a.count); n != 0 {
			return n
		}
		return cmp.Compare(a.name, b.name)
	})
	if len(c.data) > maxChartTypes {
		c.data = c.data[:maxChartTypes]
	}
}

func (c *ErrorTypesChart) Resize(width, height int) {
	c.width = max(width, 20)
	c.height = max(height, 3)
}

func (c *ErrorTypesChart) palette() []lipgloss.Color {
	return []lipgloss.Color{ColorRed, ColorOrange, ColorYellow, ColorMagenta, ColorBlue, ColorGreen}
}

func (c *ErrorTypesChart) View() string {
	if len(c.data) == 0 {
		return mutedStyle().Render("No errors recorded")
	}

	legendWidth := 0
	for _, d := range c.data {
		legendWidth = max(legendWidth, len(d.name))
	}
	legendWidth += 8
	chartWidth := max(c.width-legendWidth-2, 6)

	bc := barchart.New(chartWidth, c.height,
		barchart.WithBarGap(1),
		barchart.WithBarWidth(2),
		barchart.WithNoAxis(),
	)
	colors := c.palette()
	for i, d := range c.data {
		color := colors[i%len(colors)]
		style := lipgloss.NewStyle().Foreground(color).Background(color)
		bc.Push(barchart.BarData{
			Values: []barchart.BarValue{{Name: d.name, Value: float64(d.count), Style: style}},
		})
	}
	bc.Draw()

	chartLines := strings.Split(bc.View(), "\n")
	legend := make([]string, 0, len(c.data))
	for i, d := range c.data {
		style := lipgloss.NewStyle().Foreground(colors[i%len(colors)])
		legend = append(legend, style.Render(fmt.Sprintf("%-*s %5d", legendWidth-6, d.name, d.count)))
	}

	lines := max(len(chartLines), len(legend))
	out := make([]string, 0, lines)
	for i := range lines {
		chartLine, legendLine := "", ""
		if i < len(chartLines) {
			chartLine = chartLines[i]
		}
		if i < len(legend) {
			legendLine = legend[i]
		}
		if w := lipgloss.Width(chartLine); w < chartWidth {
			chartLine += strings.Repeat(" ", chartWidth-w)
		}
		out = append(out, chartLine+"  "+legendLine)
	}
	return strings.Join(out, "\n")
}
