package objstore

import (
	"context"

	"github.com/hashmap-kz/objstore/pkg/concur"
	"github.com/hashmap-kz/objstore/pkg/opath"
)

// rangeFetchLimit bounds concurrent per-range requests inside GetRanges.
const rangeFetchLimit = 10

// getRangesCommon fans out GetRange calls with bounded concurrency,
// preserving the order of the requested ranges. Each range is an independent
// request; nothing pins the object content between them.
func getRangesCommon(ctx context.Context, store ObjectStore, location opath.Path, ranges []Range) ([][]byte, error) {
	return concur.Map(ctx, rangeFetchLimit, ranges, func(ctx context.Context, _ int, rng Range) ([]byte, error) {
		return store.GetRange(ctx, location, rng)
	})
}

// DeleteMany deletes the given paths with at most limit concurrent requests.
// The first failure cancels outstanding deletes and is returned; already
// issued deletes are not rolled back.
func DeleteMany(ctx context.Context, store ObjectStore, paths []opath.Path, limit int) error {
	return concur.ForEach(ctx, limit, paths, func(ctx context.Context, _ int, p opath.Path) error {
		return store.Delete(ctx, p)
	})
}
