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

package segment

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/signaldata/loaderengine/pkg/models"
)

// RedisCache caches segment codes in a per-loader Redis hash, trading a
// round trip to Postgres for a round trip to Redis on the common case
// (a segment tuple already seen for this loader).
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func hashKey(loaderCode string) string {
	return "loader:segment-dictionary:" + loaderCode
}

func tupleField(tuple models.SegmentTuple) string {
	parts := make([]string, len(tuple))
	for i, v := range tuple {
		if v == nil {
			parts[i] = "\x00"
			continue
		}
		parts[i] = *v
	}
	return strings.Join(parts, "\x1f")
}

func (c *RedisCache) Get(ctx context.Context, loaderCode string, tuple models.SegmentTuple) (int64, bool, error) {
	v, err := c.client.HGet(ctx, hashKey(loaderCode), tupleField(tuple)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	code, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return code, true, nil
}

func (c *RedisCache) Set(ctx context.Context, loaderCode string, tuple models.SegmentTuple, code int64) error {
	return c.client.HSet(ctx, hashKey(loaderCode), tupleField(tuple), code).Err()
}
