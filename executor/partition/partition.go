// Package partition splits the rows of a table into a cold head and a hot
// tail around a time boundary, so that persisting recent writes only has to
// rewrite the small tail.
package partition

import (
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/shmstore/utils/io"
)

// Policy computes the partition boundary for a given instant.
type Policy interface {
	Boundary(now time.Time) (time.Time, bool)
	String() string
}

// Calendar partitions at the start of the current year or month in Location.
type Calendar struct {
	Monthly  bool
	Location *time.Location
}

func (c Calendar) Boundary(now time.Time) (time.Time, bool) {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	if c.Monthly {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc), true
	}
	return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc), true
}

func (c Calendar) String() string {
	if c.Monthly {
		return "month"
	}
	return "year"
}

// Fixed always partitions at the same instant.
type Fixed time.Time

func (f Fixed) Boundary(time.Time) (time.Time, bool) { return time.Time(f), true }

func (f Fixed) String() string { return time.Time(f).Format(time.RFC3339) }

// None keeps every table in a single partition.
type None struct{}

func (None) Boundary(time.Time) (time.Time, bool) { return time.Time{}, false }

func (None) String() string { return "none" }

// ParsePolicy understands "year" (the default), "month", "none" and an
// RFC3339 instant.
func ParsePolicy(s string, loc *time.Location) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "year", "yearly":
		return Calendar{Location: loc}, nil
	case "month", "monthly":
		return Calendar{Monthly: true, Location: loc}, nil
	case "none", "off":
		return None{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid partition policy %q: %w", s, err)
	}
	return Fixed(t), nil
}

// TimeColumn returns the index of the column partitioning is keyed on: the
// first key column holding timestamps, or -1 when there is none.
func TimeColumn(dsv []io.DataShape) int {
	for i, ds := range io.KeyColumns(dsv) {
		if ds.Type.IsTime() {
			return i
		}
	}
	return -1
}

// Result describes a split of count rows.
type Result struct {
	Count     int64
	HeadCount int64
	HasTail   bool
}

func (r Result) TailCount() int64 { return r.Count - r.HeadCount }

// Split finds the first of count rows whose time key is at or after
// boundary. When that point is 0 or count the table is a single
// partition held entirely in the head.
func Split(ra *io.RecordArray, count int64, column int, boundary time.Time) Result {
	single := Result{Count: count, HeadCount: count}
	if column < 0 || count == 0 {
		return single
	}
	b := boundary.UnixNano()
	point := count
	for i := int64(0); i < count; i++ {
		ts := ra.Get(int(i), column).(time.Time)
		if ts.UnixNano() >= b {
			point = i
			break
		}
	}
	if point == 0 || point == count {
		return single
	}
	return Result{Count: count, HeadCount: point, HasTail: true}
}

// Previous is what the last persist wrote.
type Previous struct {
	HeadCount int64
	HasTail   bool
	// Persisted is false for a table that was never written.
	Persisted bool
}

// Plan says which files a persist must touch.
type Plan struct {
	WriteHead  bool
	WriteTail  bool
	RemoveTail bool
}

func (p Plan) Empty() bool { return !p.WriteHead && !p.WriteTail && !p.RemoveTail }

// MakePlan compares the new split against the previous one. minChanged is
// the lowest row touched since the previous persist. The head is rewritten
// when its extent changed or a row inside it was touched; the tail whenever
// anything at or after the head changed.
func MakePlan(prev Previous, next Result, minChanged int64) Plan {
	if !prev.Persisted {
		return Plan{WriteHead: true, WriteTail: next.HasTail, RemoveTail: !next.HasTail}
	}
	var p Plan
	headMoved := prev.HeadCount != next.HeadCount || prev.HasTail != next.HasTail
	p.WriteHead = headMoved || minChanged < next.HeadCount
	if next.HasTail {
		p.WriteTail = headMoved || minChanged < next.Count
	} else if prev.HasTail {
		p.RemoveTail = true
	}
	return p
}
