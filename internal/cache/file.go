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
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/898djh/scalewave/internal/errs"
)

// File is a YAML-document-backed Cache for single-node deployments that
// want the State Cache's durability across restarts without a Redis
// dependency. The whole store round-trips as one document per Get/Set,
// mirroring Memory's semantics but surviving process restarts.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a Cache backed by the YAML document at path. The file is
// created on first Set if it does not already exist.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Get(_ context.Context, key string, out any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return false, err
	}
	raw, ok := doc[key]
	if !ok {
		return false, nil
	}
	b, err := yaml.Marshal(raw)
	if err != nil {
		return false, errs.NewCacheError(key, err)
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return false, errs.NewCacheError(key, err)
	}
	return true, nil
}

func (f *File) Set(_ context.Context, key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	doc[key] = value

	b, err := yaml.Marshal(doc)
	if err != nil {
		return errs.NewCacheError(key, err)
	}
	if err := os.WriteFile(f.path, b, 0o644); err != nil {
		return errs.NewCacheError(key, err)
	}
	return nil
}

func (f *File) load() (map[string]any, error) {
	b, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return make(map[string]any), nil
	}
	if err != nil {
		return nil, errs.NewCacheError(f.path, err)
	}
	doc := make(map[string]any)
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, errs.NewCacheError(f.path, err)
	}
	return doc, nil
}
