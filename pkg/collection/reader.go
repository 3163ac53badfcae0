package collection

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/elonfeng/meatballs/internal/cache"
	"github.com/elonfeng/meatballs/internal/store"
	"github.com/elonfeng/meatballs/pkg/apperr"
)

// Reader serves published days, preferring the cached blob.
type Reader struct {
	docs  store.Store
	cache cache.Cache
	log   logrus.FieldLogger
}

func NewReader(docs store.Store, c cache.Cache, log logrus.FieldLogger) *Reader {
	return &Reader{docs: docs, cache: c, log: log}
}

// Day returns the entries for key ordered by position.
func (r *Reader) Day(ctx context.Context, key DateKey) ([]store.Collection, error) {
	const op = "GetCollections"
	blob, ok, err := r.cache.Get(ctx, key.CacheKey())
	if err != nil {
		r.log.WithError(err).WithField("date_key", key.String()).Warn("read collection cache")
	}
	if ok {
		var cols []store.Collection
		if err := json.Unmarshal(blob, &cols); err == nil {
			return cols, nil
		}
		r.log.WithField("date_key", key.String()).Warn("discard malformed collection cache")
	}

	cols, err := r.docs.CollectionsByDate(ctx, key.Year, key.Month, key.Day)
	if err != nil {
		return nil, apperr.E(apperr.Store, op, err)
	}
	if len(cols) == 0 {
		return nil, apperr.Errorf(apperr.NotFound, op, "no collections for %s", key)
	}
	return cols, nil
}
