package resample

// Reconcile merges all archives of one counter into a single series.
//
// Archives overlap: the same timestamp usually appears at several
// aggregation levels. For every timestamp the sample with the smallest
// level wins; on equal levels the first one seen is kept. Counter values
// are converted from per-second rates to per-period totals on the way in.
//
// Sample order does not matter.
func Reconcile(archives []Archive, norm Normalizer) *Series {
	s := NewSeries()
	mult := norm.SourceMultiplier()

	for _, a := range archives {
		for _, rs := range a.Samples {
			level := rs.Level
			if level == 0 {
				level = a.Level
			}

			if cur, exists := s.points[rs.Timestamp]; exists && cur.Level <= level {
				continue
			}

			s.points[rs.Timestamp] = Point{
				Value: rs.Value * mult,
				Level: level,
			}
		}
	}

	return s
}
