/*
Copyright 2026 The Loader Engine Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package segment maintains the persistent mapping from a loader-scoped
// 10-tuple of segment values to a dense integer segment code.
package segment

import (
	"context"

	"github.com/signaldata/loaderengine/pkg/models"
)

// Store is the persistence seam for the segment dictionary. A correct
// implementation performs an atomic upsert: the first inserter for a
// given (loaderCode, tuple) wins and every later caller observes the
// same code.
type Store interface {
	GetOrCreateCode(ctx context.Context, loaderCode string, tuple models.SegmentTuple) (int64, error)
}

// Dictionary is the C7 contract surface: getOrCreateSegmentCode plus an
// optional read-through cache layered in front of Store.
type Dictionary struct {
	store Store
	cache Cache // optional; nil disables caching
}

// Cache is an optional read-through layer (backed by Redis in the
// concrete deployment) sitting in front of Store.
type Cache interface {
	Get(ctx context.Context, loaderCode string, tuple models.SegmentTuple) (int64, bool, error)
	Set(ctx context.Context, loaderCode string, tuple models.SegmentTuple, code int64) error
}

func NewDictionary(store Store, cache Cache) *Dictionary {
	return &Dictionary{store: store, cache: cache}
}

// GetOrCreateCode resolves tuple to its segment code, consulting the
// cache first (if configured) and always falling back to Store, which
// remains the source of truth.
func (d *Dictionary) GetOrCreateCode(ctx context.Context, loaderCode string, tuple models.SegmentTuple) (int64, error) {
	if d.cache != nil {
		if code, ok, err := d.cache.Get(ctx, loaderCode, tuple); err == nil && ok {
			return code, nil
		}
	}

	code, err := d.store.GetOrCreateCode(ctx, loaderCode, tuple)
	if err != nil {
		return 0, err
	}

	if d.cache != nil {
		_ = d.cache.Set(ctx, loaderCode, tuple, code)
	}
	return code, nil
}
