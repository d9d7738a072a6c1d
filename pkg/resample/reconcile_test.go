package resample

import (
	"math"
	"testing"
)

func TestReconcile_FinestLevelWins(t *testing.T) {
	archives := []Archive{
		{Level: 12, Samples: []RawSample{
			{Timestamp: 0, Value: 120, Level: 12},
			{Timestamp: 3600, Value: 121, Level: 12},
		}},
		{Level: 1, Samples: []RawSample{
			{Timestamp: 3600, Value: 1, Level: 1},
			{Timestamp: 3900, Value: 2, Level: 1},
		}},
		{Level: 6, Samples: []RawSample{
			{Timestamp: 3600, Value: 60, Level: 6},
			{Timestamp: 1800, Value: 61, Level: 6},
		}},
	}

	s := Reconcile(archives, NewNormalizer(Gauge))

	if s.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", s.Len())
	}

	tests := []struct {
		ts    int64
		value float64
		level int
	}{
		{0, 120, 12},
		{1800, 61, 6},
		{3600, 1, 1},
		{3900, 2, 1},
	}
	for _, tt := range tests {
		p, ok := s.At(tt.ts)
		if !ok {
			t.Fatalf("missing timestamp %d", tt.ts)
		}
		if p.Value != tt.value || p.Level != tt.level {
			t.Errorf("At(%d) = %+v, want value=%v level=%d", tt.ts, p, tt.value, tt.level)
		}
	}
}

func TestReconcile_StoredLevelNeverExceedsCandidates(t *testing.T) {
	var archives []Archive
	for _, level := range []int{5, 1, 3, 1, 12} {
		a := Archive{Level: level}
		for ts := int64(0); ts < 10; ts++ {
			a.Samples = append(a.Samples, RawSample{Timestamp: ts * 300, Value: float64(level), Level: level})
		}
		archives = append(archives, a)
	}

	s := Reconcile(archives, NewNormalizer(Gauge))
	for _, ts := range s.Timestamps() {
		p, _ := s.At(ts)
		for _, a := range archives {
			if p.Level > a.Level {
				t.Errorf("timestamp %d kept level %d over candidate %d", ts, p.Level, a.Level)
			}
		}
	}
}

func TestReconcile_TieKeepsFirst(t *testing.T) {
	archives := []Archive{
		{Level: 1, Samples: []RawSample{{Timestamp: 10, Value: 1, Level: 1}}},
		{Level: 1, Samples: []RawSample{{Timestamp: 10, Value: 2, Level: 1}}},
	}

	s := Reconcile(archives, NewNormalizer(Gauge))
	p, _ := s.At(10)
	if p.Value != 1 {
		t.Errorf("tie kept %v, want first value 1", p.Value)
	}
}

func TestReconcile_CounterScaledBySourceStep(t *testing.T) {
	archives := []Archive{
		{Level: 1, Samples: []RawSample{{Timestamp: 0, Value: 2.5, Level: 1}}},
	}

	s := Reconcile(archives, NewNormalizer(Counter))
	p, _ := s.At(0)
	if p.Value != 750 {
		t.Errorf("counter value = %v, want 750", p.Value)
	}

	g := Reconcile(archives, NewNormalizer(Gauge))
	p, _ = g.At(0)
	if p.Value != 2.5 {
		t.Errorf("gauge value = %v, want 2.5", p.Value)
	}
}

func TestReconcile_SampleLevelFallsBackToArchive(t *testing.T) {
	archives := []Archive{
		{Level: 4, Samples: []RawSample{{Timestamp: 0, Value: 1}}},
	}

	s := Reconcile(archives, NewNormalizer(Gauge))
	p, _ := s.At(0)
	if p.Level != 4 {
		t.Errorf("level = %d, want 4", p.Level)
	}
}

func TestSeries_TimestampsSorted(t *testing.T) {
	s := seriesOf(1, map[int64]float64{50: 1, 10: 1, 30: 1, 20: 1})

	ts := s.Timestamps()
	want := []int64{10, 20, 30, 50}
	if len(ts) != len(want) {
		t.Fatalf("got %v, want %v", ts, want)
	}
	for i := range want {
		if ts[i] != want[i] {
			t.Fatalf("got %v, want %v", ts, want)
		}
	}
}

func TestAccumulator(t *testing.T) {
	acc := NewAccumulator(4)
	acc.Add(-2)
	acc.Add(10)

	agg := acc.Finalize(acc.Count())
	if agg.Sum != 12 || agg.Min != -2 || agg.Max != 10 || agg.Count != 3 {
		t.Errorf("unexpected aggregate %+v", agg)
	}
	if math.Abs(agg.SumSquares-48) > 1e-9 { // 4² · 3
		t.Errorf("SumSquares = %v, want 48", agg.SumSquares)
	}
}

func TestAccumulator_ZeroValue(t *testing.T) {
	var acc Accumulator
	agg := acc.Finalize(0)
	if agg != (Aggregate{}) {
		t.Errorf("empty accumulator finalized to %+v", agg)
	}

	acc.Add(3)
	agg = acc.Finalize(acc.Count())
	if agg.Min != 3 || agg.Max != 3 || agg.Count != 1 {
		t.Errorf("unexpected aggregate %+v", agg)
	}
}

func TestAccumulator_EstimateUsesReportedCount(t *testing.T) {
	acc := NewAccumulator(300)
	agg := acc.Finalize(30)

	// avg per sub-period = 10, spread over 30 sub-periods
	if math.Abs(agg.SumSquares-3000) > 1e-9 {
		t.Errorf("SumSquares = %v, want 3000", agg.SumSquares)
	}
}

func TestNormalizer(t *testing.T) {
	c := NewNormalizer(Counter)
	g := NewNormalizer(Gauge)

	if c.SourceMultiplier() != 300 || g.SourceMultiplier() != 1 {
		t.Errorf("multipliers = %v/%v", c.SourceMultiplier(), g.SourceMultiplier())
	}
	if c.SplitValue(300, 10) != 10 || g.SplitValue(300, 10) != 300 {
		t.Errorf("split values = %v/%v", c.SplitValue(300, 10), g.SplitValue(300, 10))
	}
	if c.BucketCount(3600, 7) != 360 || g.BucketCount(3600, 7) != 7 {
		t.Errorf("counts = %v/%v", c.BucketCount(3600, 7), g.BucketCount(3600, 7))
	}
}

func TestParseKind(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"gauge", Gauge, true},
		{"Counter", Counter, true},
		{" counter ", Counter, true},
		{"derive", Gauge, false},
	} {
		got, err := ParseKind(tt.in)
		if (err == nil) != tt.ok || (tt.ok && got != tt.want) {
			t.Errorf("ParseKind(%q) = %v, %v", tt.in, got, err)
		}
	}
}
