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

package cmd

import (
	"github.com/898djh/scalewave/internal/cache"
	"github.com/898djh/scalewave/internal/config"
)

// newStateCache picks the State Cache backend: the YAML file backend when
// CacheFilePath is set, Redis otherwise. The returned close func is always
// safe to call.
func newStateCache(cfg config.Config) (cache.Cache, func() error) {
	if cfg.CacheFilePath != "" {
		return cache.NewFile(cfg.CacheFilePath), func() error { return nil }
	}
	redis := cache.NewRedis(cfg.RedisAddr)
	return redis, redis.Close
}
