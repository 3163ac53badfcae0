package collection

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/elonfeng/meatballs/pkg/apperr"
)

// DateKey identifies one UTC calendar day, written "YYYY:M:D".
type DateKey struct {
	Year  int
	Month int
	Day   int
}

// ParseDateKey parses "2022:8:22". Leading zeros are accepted.
func ParseDateKey(s string) (DateKey, error) {
	const op = "ParseDateKey"
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return DateKey{}, apperr.Errorf(apperr.Validation, op, "dateKey %q must look like YYYY:M:D", s)
	}
	var n [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return DateKey{}, apperr.Errorf(apperr.Validation, op, "dateKey %q: %q is not a number", s, p)
		}
		n[i] = v
	}
	k := DateKey{Year: n[0], Month: n[1], Day: n[2]}
	if !k.valid() {
		return DateKey{}, apperr.Errorf(apperr.Validation, op, "dateKey %q is not a calendar day", s)
	}
	return k, nil
}

// KeyOf returns the DateKey of t's UTC day.
func KeyOf(t time.Time) DateKey {
	t = t.UTC()
	return DateKey{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

func (k DateKey) valid() bool {
	if k.Year < 1970 || k.Month < 1 || k.Month > 12 || k.Day < 1 {
		return false
	}
	return KeyOf(k.Start()) == k
}

func (k DateKey) String() string {
	return fmt.Sprintf("%d:%d:%d", k.Year, k.Month, k.Day)
}

// Start is midnight UTC.
func (k DateKey) Start() time.Time {
	return time.Date(k.Year, time.Month(k.Month), k.Day, 0, 0, 0, 0, time.UTC)
}

// End is the last millisecond of the day.
func (k DateKey) End() time.Time {
	return k.Start().Add(24*time.Hour - time.Millisecond)
}

// CacheKey holds the day's published collection blob.
func (k DateKey) CacheKey() string {
	return "Collection:" + k.String() + ":_cache"
}

// LockKey guards a generation in progress.
func (k DateKey) LockKey() string {
	return "Collection:" + k.String() + ":_lock"
}
