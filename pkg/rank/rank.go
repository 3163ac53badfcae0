// Package rank holds the activity sample formula and the collection ranking.
package rank

import (
	"fmt"
	"sort"
	"time"
)

// Weight and falloff are accepted in 1..100. Zero means "use the default".
const (
	MinWeight  = 1
	MaxWeight  = 100
	MinFalloff = 1
	MaxFalloff = 100
)

// SampleParams are the inputs of one activity sample. Start is the more
// recent bound of the monitor window and End the older one.
type SampleParams struct {
	Score         int
	CommentTotal  int
	CommentWeight int
	Falloff       int
	Created       int64
	Start         int64
	End           int64
}

// ValidateWeights checks a caller supplied comment weight and falloff.
func ValidateWeights(commentWeight, falloff int) error {
	if commentWeight != 0 && (commentWeight < MinWeight || commentWeight > MaxWeight) {
		return fmt.Errorf("commentWeight must be between %d and %d, got %d", MinWeight, MaxWeight, commentWeight)
	}
	if falloff != 0 && (falloff < MinFalloff || falloff > MaxFalloff) {
		return fmt.Errorf("falloff must be between %d and %d, got %d", MinFalloff, MaxFalloff, falloff)
	}
	return nil
}

// Age returns how far created sits inside the window, 0 at Start and 1 at End.
func Age(created, start, end int64) float64 {
	span := start - end
	if span <= 0 {
		return 0
	}
	a := float64(start-created) / float64(span)
	if a < 0 {
		return 0
	}
	if a > 1 {
		return 1
	}
	return a
}

// SampleValue computes score + weight*comments*decay, where decay drops
// linearly with age by falloff percent. A zero weight counts as 1.
func SampleValue(p SampleParams) float64 {
	weight := p.CommentWeight
	if weight == 0 {
		weight = 1
	}
	score, comments := p.Score, p.CommentTotal
	if score < 0 {
		score = 0
	}
	if comments < 0 {
		comments = 0
	}

	decay := 1 - float64(p.Falloff)/100*Age(p.Created, p.Start, p.End)
	if decay < 0 {
		decay = 0
	}
	return float64(score) + float64(weight)*float64(comments)*decay
}

// Candidate is a story competing for a place in a day's collection.
type Candidate struct {
	ID           string
	Score        int
	CommentTotal int
	Created      int64
	Peak         float64 // max activity sample in the day
}

// Key is the ranking key. Lower keys rank first.
func (c Candidate) Key() int {
	return c.CommentTotal - c.Score
}

// Rank orders candidates by ascending Key, then earliest Created, then ID,
// and returns at most size of them. The input is not modified.
func Rank(cands []Candidate, size int) []Candidate {
	out := append([]Candidate(nil), cands...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Key() != b.Key() {
			return a.Key() < b.Key()
		}
		if a.Created != b.Created {
			return a.Created < b.Created
		}
		return a.ID < b.ID
	})
	if size >= 0 && len(out) > size {
		out = out[:size]
	}
	return out
}

// DayBounds returns the first and last instant of the UTC calendar day.
func DayBounds(year, month, day int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return start, start.Add(24*time.Hour - time.Millisecond)
}

// WithinDay reports whether a unix timestamp falls inside the UTC day.
func WithinDay(created int64, year, month, day int) bool {
	start, end := DayBounds(year, month, day)
	return created >= start.Unix() && created <= end.Unix()
}
