package tier

import (
	"context"

	"github.com/unkn0wn-root/querycache"
)

// ReadThrough wraps origin so that the store is consulted first and filled
// after a successful origin load. The generation is read before origin runs,
// so a load that races with Invalidate is never written back. Store failures
// are logged and never fail the fetch: origin stays authoritative.
func ReadThrough[V any](s *Store[V], origin querycache.FetchFunc[V]) querycache.FetchFunc[V] {
	return func(ctx context.Context, key string) (V, error) {
		if !s.enabled {
			return origin(ctx, key)
		}

		observed, genErr := s.SnapshotGen(ctx, key)
		if v, ok, err := s.Get(ctx, key); ok {
			return v, nil
		} else if err != nil {
			s.log.Warn("tier read failed, loading from origin", querycache.Fields{"ns": s.ns, "key": key, "err": err})
		}

		v, err := origin(ctx, key)
		if err != nil || genErr != nil {
			return v, err
		}
		if err := s.SetWithGen(ctx, key, v, observed, 0); err != nil {
			s.log.Warn("tier write failed", querycache.Fields{"ns": s.ns, "key": key, "err": err})
		}
		return v, nil
	}
}
