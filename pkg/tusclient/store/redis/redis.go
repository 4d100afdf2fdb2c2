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

// Package redis is a store.Store shared across hosts, backed by
// go-redis/v8, for the multi-process deployment spec.md §5 anticipates
// ("the URL-store may be shared across drivers").
package redis

import (
	"context"
	"encoding/json"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/h3knix/tusclient/pkg/tusclient/store"
)

const (
	keyPrefix = "tusclient:upload:"
	fpPrefix  = "tusclient:fingerprint:"
)

// Store is a redis-backed store.Store. Each record is a JSON blob at
// "tusclient:upload:<key>"; a redis set at "tusclient:fingerprint:<fp>"
// indexes the keys belonging to that fingerprint.
type Store struct {
	client *goredis.Client
}

// New wraps an existing *goredis.Client.
func New(client *goredis.Client) *Store {
	return &Store{client: client}
}

type record struct {
	Fingerprint string       `json:"fingerprint"`
	Record      store.Record `json:"record"`
}

// FindAllUploads implements store.Store.
func (s *Store) FindAllUploads(ctx context.Context) ([]store.Entry, error) {
	var entries []store.Entry
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		e, err := s.get(ctx, iter.Val())
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "redis: find all uploads")
	}
	return entries, nil
}

// FindUploadsByFingerprint implements store.Store.
func (s *Store) FindUploadsByFingerprint(ctx context.Context, fingerprint string) ([]store.Entry, error) {
	keys, err := s.client.SMembers(ctx, fpPrefix+fingerprint).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis: find uploads by fingerprint")
	}
	entries := make([]store.Entry, 0, len(keys))
	for _, fullKey := range keys {
		e, err := s.get(ctx, fullKey)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Store) get(ctx context.Context, fullKey string) (store.Entry, error) {
	raw, err := s.client.Get(ctx, fullKey).Bytes()
	if err != nil {
		return store.Entry{}, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return store.Entry{}, err
	}
	return store.Entry{
		Key:         fullKey[len(keyPrefix):],
		Fingerprint: rec.Fingerprint,
		Record:      rec.Record,
	}, nil
}

// RemoveUpload implements store.Store.
func (s *Store) RemoveUpload(ctx context.Context, key string) error {
	fullKey := keyPrefix + key
	raw, err := s.client.Get(ctx, fullKey).Bytes()
	if err == goredis.Nil {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "redis: remove upload")
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err == nil {
		s.client.SRem(ctx, fpPrefix+rec.Fingerprint, fullKey)
	}
	if err := s.client.Del(ctx, fullKey).Err(); err != nil {
		return errors.Wrap(err, "redis: remove upload")
	}
	return nil
}

// AddUpload implements store.Store.
func (s *Store) AddUpload(ctx context.Context, fingerprint string, rec store.Record) (string, error) {
	key := uuid.NewString()
	fullKey := keyPrefix + key
	raw, err := json.Marshal(record{Fingerprint: fingerprint, Record: rec})
	if err != nil {
		return "", errors.Wrap(err, "redis: encode record")
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, fullKey, raw, 0)
	pipe.SAdd(ctx, fpPrefix+fingerprint, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", errors.Wrap(err, "redis: add upload")
	}
	return key, nil
}
