/*
Copyright 2025 The llm-d Authors

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

package cache

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/898djh/scalewave/internal/errs"
)

// Redis is the production State Cache backend, grounded on
// original_source's db_client.py (connect_to_redis / store_json_data /
// retrieve_json_data): values are JSON-encoded strings under plain keys.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to a Redis instance at addr.
func NewRedis(addr string) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *Redis) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errs.NewCacheError(key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, errs.NewCacheError(key, err)
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errs.NewCacheError(key, err)
	}
	if err := r.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return errs.NewCacheError(key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
