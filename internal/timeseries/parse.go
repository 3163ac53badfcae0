package timeseries

import (
	"fmt"
	"strconv"
	"strings"
)

// parseMRange decodes a grouped TS.MRANGE reply. RESP2 replies are arrays of
// [key, labels, samples]; RESP3 replies are maps of key to
// [labels, metadata..., samples]. Groups without samples are dropped.
func parseMRange(v any) ([]Group, error) {
	var groups []Group

	add := func(key string, rest []any) error {
		samples := findSamples(rest)
		if len(samples) == 0 {
			return nil
		}
		best, err := maxValue(samples)
		if err != nil {
			return fmt.Errorf("group %s: %w", key, err)
		}
		groups = append(groups, Group{StoryID: strings.TrimPrefix(key, storyLabel+"="), Max: best})
		return nil
	}

	switch reply := v.(type) {
	case nil:
		return nil, nil
	case []any:
		for _, entry := range reply {
			parts, ok := entry.([]any)
			if !ok || len(parts) < 2 {
				return nil, fmt.Errorf("unexpected entry %T", entry)
			}
			key, ok := parts[0].(string)
			if !ok {
				return nil, fmt.Errorf("unexpected key %T", parts[0])
			}
			if err := add(key, parts[1:]); err != nil {
				return nil, err
			}
		}
	case map[any]any:
		for k, entry := range reply {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected key %T", k)
			}
			parts, ok := entry.([]any)
			if !ok {
				return nil, fmt.Errorf("unexpected entry %T", entry)
			}
			if err := add(key, parts); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unexpected reply %T", v)
	}
	return groups, nil
}

// findSamples returns the last element shaped like a list of [ts, value] pairs.
func findSamples(parts []any) []any {
	for i := len(parts) - 1; i >= 0; i-- {
		list, ok := parts[i].([]any)
		if !ok {
			continue
		}
		if len(list) == 0 {
			return nil
		}
		if pair, ok := list[0].([]any); ok && len(pair) == 2 {
			return list
		}
	}
	return nil
}

func maxValue(samples []any) (float64, error) {
	var best float64
	for i, s := range samples {
		pair, ok := s.([]any)
		if !ok || len(pair) != 2 {
			return 0, fmt.Errorf("sample %d: unexpected shape %T", i, s)
		}
		v, err := toFloat(pair[1])
		if err != nil {
			return 0, fmt.Errorf("sample %d: %w", i, err)
		}
		if i == 0 || v > best {
			best = v
		}
	}
	return best, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("unexpected value %T", v)
}
