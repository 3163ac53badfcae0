package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleValue(t *testing.T) {
	base := SampleParams{Score: 10, CommentTotal: 4, Start: 1000, End: 0}

	// no falloff: plain weighted sum
	assert.Equal(t, 14.0, SampleValue(base))

	p := base
	p.CommentWeight = 5
	assert.Equal(t, 30.0, SampleValue(p))

	// full falloff at the oldest edge removes the comment contribution
	p.Falloff = 100
	p.Created = 0
	assert.Equal(t, 10.0, SampleValue(p))

	// half way through the window with 50% falloff keeps 75%
	p.Falloff = 50
	p.Created = 500
	assert.Equal(t, 10+5*4*0.75, SampleValue(p))

	// created after Start counts as fresh
	p.Created = 2000
	assert.Equal(t, 30.0, SampleValue(p))
}

func TestSampleValue_Monotone(t *testing.T) {
	for _, falloff := range []int{0, 1, 50, 100} {
		for _, weight := range []int{1, 7, 100} {
			for created := int64(0); created <= 3600; created += 600 {
				p := SampleParams{CommentWeight: weight, Falloff: falloff, Created: created, Start: 3600, End: 0}
				prev := -1.0
				for score := 0; score < 50; score += 7 {
					p.Score = score
					v := SampleValue(p)
					require.GreaterOrEqual(t, v, prev, "score %d falloff %d", score, falloff)
					prev = v
				}
				prev = -1.0
				for comments := 0; comments < 50; comments += 7 {
					p.CommentTotal = comments
					v := SampleValue(p)
					require.GreaterOrEqual(t, v, prev, "comments %d falloff %d", comments, falloff)
					prev = v
				}
			}
		}
	}
}

func TestValidateWeights(t *testing.T) {
	assert.NoError(t, ValidateWeights(0, 0))
	assert.NoError(t, ValidateWeights(1, 100))
	assert.Error(t, ValidateWeights(101, 1))
	assert.Error(t, ValidateWeights(-1, 1))
	assert.Error(t, ValidateWeights(1, 101))
}

func TestAge(t *testing.T) {
	assert.Equal(t, 0.0, Age(100, 100, 100), "empty window")
	assert.Equal(t, 0.25, Age(75, 100, 0))
	assert.Equal(t, 1.0, Age(-50, 100, 0))
}

func TestRank_Order(t *testing.T) {
	cands := []Candidate{
		{ID: "hn:1", Score: 10, CommentTotal: 30, Created: 5}, // 20
		{ID: "hn:2", Score: 50, CommentTotal: 5, Created: 9},  // -45
		{ID: "hn:3", Score: 20, CommentTotal: 20, Created: 7}, // 0
		{ID: "hn:4", Score: 30, CommentTotal: 30, Created: 3}, // 0, earlier
		{ID: "hn:5", Score: 40, CommentTotal: 40, Created: 3}, // 0, same created
	}

	got := Rank(cands, 9)
	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"hn:2", "hn:4", "hn:5", "hn:3", "hn:1"}, ids)
	assert.Equal(t, "hn:1", cands[0].ID, "input untouched")

	assert.Len(t, Rank(cands, 2), 2)
	assert.Empty(t, Rank(nil, 9))
}

func TestRank_Deterministic(t *testing.T) {
	a := []Candidate{{ID: "hn:b", Score: 1}, {ID: "hn:a", Score: 1}, {ID: "hn:c", Score: 2}}
	b := []Candidate{a[2], a[0], a[1]}
	assert.Equal(t, Rank(a, 9), Rank(b, 9))
}

func TestWithinDay(t *testing.T) {
	start, end := DayBounds(2022, 8, 22)
	assert.Equal(t, int64(1661126400), start.Unix())
	assert.True(t, WithinDay(start.Unix(), 2022, 8, 22))
	assert.True(t, WithinDay(end.Unix(), 2022, 8, 22))
	assert.False(t, WithinDay(end.Unix()+1, 2022, 8, 22))
	assert.False(t, WithinDay(start.Unix()-1, 2022, 8, 22))
}
