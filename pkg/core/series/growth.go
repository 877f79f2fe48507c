// Package series builds per-fiscal-year value series for a concept and
// computes multi-year average growth. Years without data keep an explicit
// placeholder so gaps stay visible to the growth computation, and sign
// transitions are reported separately from the average because a growth
// ratio against a loss or zero base is not meaningful.
package series

import (
	"fmt"
	"sort"
	"strings"
)

// Point is one fiscal year's value; nil means no disclosure carried the
// concept for that year.
type Point struct {
	Year  int
	Value *int64
}

// DefaultWindow is how many years behind the latest known year a series
// spans (five points in total).
const DefaultWindow = 4

// BuildYearSeries lays out ascending (year, value) points spanning
// [maxKnownYear-window, maxKnownYear], where maxKnownYear is the latest year
// holding a non-nil value. Years without data keep nil placeholders. Returns
// nil when no year has data.
func BuildYearSeries(valuesByYear map[int]*int64, window int) []Point {
	if window < 1 {
		window = DefaultWindow
	}
	maxKnown := 0
	for year, v := range valuesByYear {
		if v != nil && year > maxKnown {
			maxKnown = year
		}
	}
	if maxKnown == 0 {
		return nil
	}
	points := make([]Point, 0, window+1)
	for year := maxKnown - window; year <= maxKnown; year++ {
		points = append(points, Point{Year: year, Value: valuesByYear[year]})
	}
	return points
}

// Transition kinds.
const (
	LossToProfit = "loss→profit"
	ProfitToLoss = "profit→loss"
)

// Transition is a sign change between two consecutive years.
type Transition struct {
	Kind     string
	FromYear int
	ToYear   int
}

func (t Transition) String() string {
	return fmt.Sprintf("%s %d→%d", t.Kind, t.FromYear, t.ToYear)
}

// GrowthResult carries the averaged growth rate over the
// positive-to-positive year pairs, how many pairs entered the average, and
// any sign transitions observed along the way.
type GrowthResult struct {
	Average     *float64 // fraction: 0.5 means +50%
	Pairs       int
	Transitions []Transition
}

// AverageGrowth computes (curr-prev)/prev over each consecutive pair where
// both values are present and both strictly positive; other pairs are left
// out of the average entirely rather than counted as -100%. Sign transitions
// are detected on every both-present pair. Average is nil with fewer than
// two data points or an empty positive-to-positive subset.
func AverageGrowth(points []Point) GrowthResult {
	var result GrowthResult

	present := 0
	for _, p := range points {
		if p.Value != nil {
			present++
		}
	}

	var sum float64
	for i := 1; i < len(points); i++ {
		prev, curr := points[i-1], points[i]
		if prev.Value == nil || curr.Value == nil {
			continue
		}
		pv, cv := *prev.Value, *curr.Value
		switch {
		case pv <= 0 && cv > 0:
			result.Transitions = append(result.Transitions, Transition{LossToProfit, prev.Year, curr.Year})
		case pv > 0 && cv <= 0:
			result.Transitions = append(result.Transitions, Transition{ProfitToLoss, prev.Year, curr.Year})
		}
		if pv > 0 && cv > 0 {
			sum += float64(cv-pv) / float64(pv)
			result.Pairs++
		}
	}

	sort.Slice(result.Transitions, func(i, j int) bool {
		return result.Transitions[i].FromYear < result.Transitions[j].FromYear
	})

	if present >= 2 && result.Pairs > 0 {
		avg := sum / float64(result.Pairs)
		result.Average = &avg
	}
	return result
}

// Format renders the result for display: "50.0%", with transitions appended
// ("50.0% (loss→profit 2020→2021)"), or "N/A" when no average exists.
// Transitions still show next to "N/A".
func (r GrowthResult) Format() string {
	head := "N/A"
	if r.Average != nil {
		head = fmt.Sprintf("%.1f%%", *r.Average*100)
	}
	if len(r.Transitions) == 0 {
		return head
	}
	notes := make([]string, len(r.Transitions))
	for i, tr := range r.Transitions {
		notes[i] = tr.String()
	}
	return fmt.Sprintf("%s (%s)", head, strings.Join(notes, ", "))
}
