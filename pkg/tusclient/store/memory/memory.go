// Copyright 2018-2020 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package memory is a process-local store.Store backed by
// jellydator/ttlcache/v2, matching spec.md §6's "memory" URL-store example.
// Records expire on their own after ttl, so a long-forgotten upload doesn't
// pin memory forever.
package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v2"
	"github.com/pkg/errors"

	"github.com/h3knix/tusclient/pkg/tusclient/store"
)

// Store is an in-memory store.Store. The zero value is not usable; build
// one with New.
type Store struct {
	cache *ttlcache.Cache
}

// New builds a Store whose records expire after ttl. A ttl of 0 disables
// expiration (records live as long as the process does).
func New(ttl time.Duration) *Store {
	c := ttlcache.NewCache()
	if ttl > 0 {
		c.SetTTL(ttl)
	}
	return &Store{cache: c}
}

// FindAllUploads implements store.Store.
func (s *Store) FindAllUploads(_ context.Context) ([]store.Entry, error) {
	keys := s.cache.GetKeys()
	entries := make([]store.Entry, 0, len(keys))
	for _, k := range keys {
		v, err := s.cache.Get(k)
		if err != nil {
			continue
		}
		entries = append(entries, v.(store.Entry))
	}
	return entries, nil
}

// FindUploadsByFingerprint implements store.Store.
func (s *Store) FindUploadsByFingerprint(ctx context.Context, fingerprint string) ([]store.Entry, error) {
	all, err := s.FindAllUploads(ctx)
	if err != nil {
		return nil, err
	}
	matches := make([]store.Entry, 0, len(all))
	for _, e := range all {
		if e.Fingerprint == fingerprint {
			matches = append(matches, e)
		}
	}
	return matches, nil
}

// RemoveUpload implements store.Store.
func (s *Store) RemoveUpload(_ context.Context, key string) error {
	if err := s.cache.Remove(key); err != nil && err != ttlcache.ErrNotFound {
		return errors.Wrap(err, "memory: remove upload")
	}
	return nil
}

// AddUpload implements store.Store.
func (s *Store) AddUpload(_ context.Context, fingerprint string, record store.Record) (string, error) {
	key := uuid.NewString()
	entry := store.Entry{Key: key, Fingerprint: fingerprint, Record: record}
	if err := s.cache.Set(key, entry); err != nil {
		return "", errors.Wrap(err, "memory: add upload")
	}
	return key, nil
}
