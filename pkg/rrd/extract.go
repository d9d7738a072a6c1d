package rrd

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nicktill/rrdimport/pkg/resample"
)

// ConsolidationAverage is the only consolidation function we import
const ConsolidationAverage = "AVERAGE"

// Step returns the document's base step in seconds, or 0 when absent or invalid
func (d *Document) Step() int64 {
	n, ok := d.Child(0, "step")
	if !ok {
		return 0
	}
	step, err := strconv.ParseInt(n.Text, 10, 64)
	if err != nil || step <= 0 {
		return 0
	}
	return step
}

// Archives extracts every AVERAGE archive in the document.
//
// Archives with another consolidation function are skipped. Each row takes
// its timestamp from the closest preceding "<!-- date / epoch -->" marker;
// a row without its own marker follows the previous row by level*step.
// NaN and infinite values are dropped.
func (d *Document) Archives() ([]resample.Archive, error) {
	step := d.Step()

	var archives []resample.Archive
	for _, idx := range d.Find("rra") {
		a, ok, err := d.archive(idx, step)
		if err != nil {
			return nil, err
		}
		if ok {
			archives = append(archives, a)
		}
	}
	return archives, nil
}

func (d *Document) archive(idx int, step int64) (resample.Archive, bool, error) {
	if cf, ok := d.Child(idx, "cf"); ok && cf.Text != ConsolidationAverage {
		return resample.Archive{}, false, nil
	}

	lvl, ok := d.Child(idx, "pdp_per_row")
	if !ok {
		return resample.Archive{}, false, fmt.Errorf("%w: rra without pdp_per_row", ErrMalformedArchive)
	}
	level, err := strconv.Atoi(lvl.Text)
	if err != nil || level < 1 {
		return resample.Archive{}, false, fmt.Errorf("%w: invalid pdp_per_row %q", ErrMalformedArchive, lvl.Text)
	}

	a := resample.Archive{Level: level}

	db, ok := d.Child(idx, "database")
	if !ok {
		return a, true, nil
	}

	var (
		ts       int64
		haveTS   bool
		marked   bool
		rowCount int
	)
	for _, c := range db.Children {
		n := &d.Nodes[c]

		if n.Kind == CommentNode {
			if t, ok := parseMarker(n.Text); ok {
				ts = t
				haveTS = true
				marked = true
			}
			continue
		}
		if n.Name != "row" {
			continue
		}
		rowCount++

		if !marked {
			if !haveTS || step == 0 {
				return a, false, fmt.Errorf("%w: row %d has no timestamp", ErrMalformedArchive, rowCount)
			}
			ts += int64(level) * step
		}
		marked = false

		v, ok := d.Child(c, "v")
		if !ok {
			return a, false, fmt.Errorf("%w: row %d has no value", ErrMalformedArchive, rowCount)
		}
		value, err := strconv.ParseFloat(v.Text, 64)
		if err != nil {
			return a, false, fmt.Errorf("%w: row %d value %q", ErrMalformedArchive, rowCount, v.Text)
		}
		// unknown and overflowed readings carry no data; istatd cannot store them
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}

		a.Samples = append(a.Samples, resample.RawSample{
			Timestamp: ts,
			Value:     value,
			Level:     level,
		})
	}

	return a, true, nil
}

// parseMarker reads the epoch from a "2011-03-01 00:05:00 PST / 1298966700" comment
func parseMarker(s string) (int64, bool) {
	i := strings.LastIndexByte(s, '/')
	if i < 0 {
		return 0, false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(s[i+1:]), 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
