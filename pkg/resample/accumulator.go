package resample

// Accumulator folds source values into a running bucket aggregate.
// The zero value is an empty accumulator.
type Accumulator struct {
	sum   float64
	min   float64
	max   float64
	count int64
}

// NewAccumulator returns an accumulator seeded with one value
func NewAccumulator(v float64) *Accumulator {
	return &Accumulator{sum: v, min: v, max: v, count: 1}
}

// Add folds one more value into the bucket
func (a *Accumulator) Add(v float64) {
	if a.count == 0 {
		a.min = v
		a.max = v
	} else {
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}
	a.sum += v
	a.count++
}

// Count returns how many values were folded so far
func (a *Accumulator) Count() int64 {
	return a.count
}

// Finalize computes the aggregate with the sum-of-squares estimate avg²·count.
// The estimate is what downstream consumers expect; exact variance is not tracked.
// count replaces the folded count in both the estimate and the result.
func (a *Accumulator) Finalize(count int64) Aggregate {
	agg := Aggregate{
		Sum:   a.sum,
		Min:   a.min,
		Max:   a.max,
		Count: count,
	}
	if count > 0 {
		avg := a.sum / float64(count)
		agg.SumSquares = avg * avg * float64(count)
	}
	return agg
}
