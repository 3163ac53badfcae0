// Package timeseries stores story activity samples in RedisTimeSeries.
//
// Each story gets a raw series and a daily compacted series fed by a MAX
// rule. Grouped range queries run against the compacted series only and ask
// for the latest, possibly partial, bucket.
package timeseries

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dayMillis   = int64(24 * time.Hour / time.Millisecond)
	storyLabel  = "story"
	sampleLabel = "weighted"
)

// Sample is one weighted activity value for a story.
type Sample struct {
	StoryID   string
	Source    string
	Timestamp time.Time
	Value     float64
}

// Group is the maximum sample observed for one story over a range.
type Group struct {
	StoryID string
	Max     float64
}

// Store is the time-series interface used by the monitor and the generator.
type Store interface {
	Append(ctx context.Context, s Sample) error
	// MaxByStory returns one group per story with samples in [from, to],
	// ordered by Max descending then StoryID.
	MaxByStory(ctx context.Context, from, to time.Time) ([]Group, error)
}

// RedisStore implements Store with RedisTimeSeries commands.
type RedisStore struct {
	rdb     *redis.Client
	ensured sync.Map
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Key returns the raw series key for a story.
func Key(storyID string) string {
	return "StoryActivity:" + storyID + ":" + sampleLabel
}

func compactedKey(storyID string) string {
	return Key(storyID) + ":day"
}

func (s *RedisStore) Append(ctx context.Context, sm Sample) error {
	if err := s.ensure(ctx, sm.StoryID, sm.Source); err != nil {
		return err
	}
	ts := sm.Timestamp.UnixMilli()
	if err := s.rdb.Do(ctx, "TS.ADD", Key(sm.StoryID), ts, sm.Value, "ON_DUPLICATE", "MAX").Err(); err != nil {
		return fmt.Errorf("append sample %s: %w", sm.StoryID, err)
	}
	return nil
}

// ensure creates the raw and compacted series plus the rule between them
// once per process. Existing series and rules are accepted.
func (s *RedisStore) ensure(ctx context.Context, storyID, source string) error {
	if _, ok := s.ensured.Load(storyID); ok {
		return nil
	}

	raw, day := Key(storyID), compactedKey(storyID)
	cmds := [][]any{
		{"TS.CREATE", raw, "DUPLICATE_POLICY", "MAX", "LABELS",
			"type", sampleLabel, storyLabel, storyID, "source", source},
		{"TS.CREATE", day, "DUPLICATE_POLICY", "MAX", "LABELS",
			"type", sampleLabel, "compacted", "day", storyLabel, storyID, "source", source},
		{"TS.CREATERULE", raw, day, "AGGREGATION", "max", dayMillis},
	}
	for _, args := range cmds {
		err := s.rdb.Do(ctx, args...).Err()
		if err != nil && !alreadyExists(err) {
			return fmt.Errorf("create series %s (%s): %w", storyID, args[0], err)
		}
	}

	s.ensured.Store(storyID, struct{}{})
	return nil
}

func alreadyExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "already has a src rule") ||
		strings.Contains(msg, "already has a rule")
}

func (s *RedisStore) MaxByStory(ctx context.Context, from, to time.Time) ([]Group, error) {
	// LATEST includes the still-open bucket of each compacted series.
	res, err := s.rdb.Do(ctx, "TS.MRANGE", from.UnixMilli(), to.UnixMilli(), "LATEST",
		"FILTER", "type="+sampleLabel, "compacted=day",
		"GROUPBY", storyLabel, "REDUCE", "MAX").Result()
	if err != nil {
		return nil, fmt.Errorf("range samples %d..%d: %w", from.UnixMilli(), to.UnixMilli(), err)
	}

	groups, err := parseMRange(res)
	if err != nil {
		return nil, fmt.Errorf("decode range reply: %w", err)
	}
	SortGroups(groups)
	return groups, nil
}

// SortGroups orders groups by Max descending, then by StoryID.
func SortGroups(groups []Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Max != groups[j].Max {
			return groups[i].Max > groups[j].Max
		}
		return groups[i].StoryID < groups[j].StoryID
	})
}
