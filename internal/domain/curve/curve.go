// Package curve computes tie-aware ROC and precision-recall curves.
//
// Predictions sharing a value form a block. Inside a block the true ordering
// of rows is unknown, so every row contributes the block's positive density
// instead of a whole positive or negative.
package curve

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
)

var (
	// ErrDegenerateLabels is returned when labels lack positives or negatives.
	ErrDegenerateLabels = errors.New("labels must contain both positives and negatives")
	// ErrInput is returned for mismatched, empty or non-binary input.
	ErrInput = errors.New("invalid curve input")
)

// Block is a run of rows sharing one predicted value.
type Block struct {
	Value     float64
	Count     int
	Positives int
	Density   float64
	// Cumulative totals through this block, inclusive.
	CumCount     int
	CumPositives int
}

// Point is the interpolated curve position after one row.
type Point struct {
	Precision float64
	Recall    float64
	FPR       float64
}

// Curve holds the blocks, per-row points and both areas.
type Curve struct {
	Blocks []Block
	Points []Point
	ROC    float64
	PR     float64
}

// Build computes the curve of predicted scores against 0/1 labels.
func Build(predicted, labels []float64) (Curve, error) {
	if len(predicted) != len(labels) {
		return Curve{}, fmt.Errorf("%w: %d predictions for %d labels", ErrInput, len(predicted), len(labels))
	}
	if len(predicted) == 0 {
		return Curve{}, fmt.Errorf("%w: no rows", ErrInput)
	}

	positives := 0
	for i, l := range labels {
		switch l {
		case 1:
			positives++
		case 0:
		default:
			return Curve{}, fmt.Errorf("%w: label %v at row %d", ErrInput, l, i)
		}
		if math.IsNaN(predicted[i]) {
			return Curve{}, fmt.Errorf("%w: NaN prediction at row %d", ErrInput, i)
		}
	}
	negatives := len(labels) - positives
	if positives == 0 || negatives == 0 {
		return Curve{}, ErrDegenerateLabels
	}

	blocks := group(predicted, labels)
	points := interpolate(blocks, float64(positives), float64(negatives))
	return Curve{
		Blocks: blocks,
		Points: points,
		ROC:    rocArea(points),
		PR:     prArea(points),
	}, nil
}

// Areas returns only the ROC and PR areas.
func Areas(predicted, labels []float64) (roc, pr float64, err error) {
	c, err := Build(predicted, labels)
	if err != nil {
		return 0, 0, err
	}
	return c.ROC, c.PR, nil
}

func group(predicted, labels []float64) []Block {
	order := make([]int, len(predicted))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return predicted[order[a]] > predicted[order[b]] })

	var blocks []Block
	cumCount, cumPos := 0, 0
	for _, idx := range order {
		v := predicted[idx]
		if len(blocks) == 0 || blocks[len(blocks)-1].Value != v {
			blocks = append(blocks, Block{Value: v})
		}
		b := &blocks[len(blocks)-1]
		b.Count++
		cumCount++
		if labels[idx] == 1 {
			b.Positives++
			cumPos++
		}
		b.CumCount = cumCount
		b.CumPositives = cumPos
	}
	for i := range blocks {
		blocks[i].Density = float64(blocks[i].Positives) / float64(blocks[i].Count)
	}
	return blocks
}

func interpolate(blocks []Block, positives, negatives float64) []Point {
	points := make([]Point, 0, blocks[len(blocks)-1].CumCount)
	prevCount, prevPos := 0, 0
	for _, b := range blocks {
		prevNeg := prevCount - prevPos
		for d := 1; d <= b.Count; d++ {
			var tp, fp float64
			if d == b.Count {
				// exact at block end so recall and fpr reach their totals
				tp = float64(prevPos + b.Positives)
				fp = float64(prevNeg + b.Count - b.Positives)
			} else {
				tp = float64(prevPos) + b.Density*float64(d)
				fp = float64(prevNeg) + (1-b.Density)*float64(d)
			}
			points = append(points, Point{
				Precision: tp / float64(prevCount+d),
				Recall:    tp / positives,
				FPR:       fp / negatives,
			})
		}
		prevCount, prevPos = b.CumCount, b.CumPositives
	}
	return points
}

// rocArea integrates recall over fpr from the origin.
func rocArea(points []Point) float64 {
	x := make([]float64, 0, len(points)+1)
	y := make([]float64, 0, len(points)+1)
	x = append(x, 0)
	y = append(y, 0)
	for _, p := range points {
		x = append(x, p.FPR)
		y = append(y, p.Recall)
	}
	sortByX(x, y)
	return integrate.Trapezoidal(x, y)
}

// prArea integrates precision over recall. The curve is extended to
// recall 0 by repeating the first precision.
func prArea(points []Point) float64 {
	x := make([]float64, 0, len(points)+1)
	y := make([]float64, 0, len(points)+1)
	x = append(x, 0)
	y = append(y, points[0].Precision)
	for _, p := range points {
		x = append(x, p.Recall)
		y = append(y, p.Precision)
	}
	sortByX(x, y)
	return integrate.Trapezoidal(x, y)
}

func sortByX(x, y []float64) {
	sort.Stable(pairs{x: x, y: y})
}

type pairs struct{ x, y []float64 }

func (p pairs) Len() int           { return len(p.x) }
func (p pairs) Less(i, j int) bool { return p.x[i] < p.x[j] }
func (p pairs) Swap(i, j int) {
	p.x[i], p.x[j] = p.x[j], p.x[i]
	p.y[i], p.y[j] = p.y[j], p.y[i]
}
