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

// Package sqlite is an on-disk store.Store backed by mattn/go-sqlite3, the
// way reva's pkg/share/manager/sql keeps a durable keyed record store. It
// survives process restarts, which is the whole point of persisting
// PersistedRecord in the first place (spec.md §8 "persist/resume" law).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" database/sql driver
	"github.com/pkg/errors"

	"github.com/h3knix/tusclient/pkg/tusclient/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	key           TEXT PRIMARY KEY,
	fingerprint   TEXT NOT NULL,
	size          INTEGER NOT NULL,
	metadata      TEXT NOT NULL,
	creation_time TEXT NOT NULL,
	upload_url    TEXT NOT NULL,
	parallel_urls TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS uploads_fingerprint ON uploads(fingerprint);
`

// Store is an on-disk store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: open")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sqlite: create schema")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func scanRow(row interface {
	Scan(dest ...interface{}) error
}) (store.Entry, error) {
	var (
		e            store.Entry
		metadataJSON string
		parallelJSON string
	)
	if err := row.Scan(&e.Key, &e.Fingerprint, &e.Record.Size, &metadataJSON, &e.Record.CreationTime, &e.Record.UploadURL, &parallelJSON); err != nil {
		return store.Entry{}, err
	}
	if err := json.Unmarshal([]byte(metadataJSON), &e.Record.Metadata); err != nil {
		return store.Entry{}, errors.Wrap(err, "sqlite: decode metadata")
	}
	if err := json.Unmarshal([]byte(parallelJSON), &e.Record.ParallelUploadURLs); err != nil {
		return store.Entry{}, errors.Wrap(err, "sqlite: decode parallel urls")
	}
	return e, nil
}

// FindAllUploads implements store.Store.
func (s *Store) FindAllUploads(ctx context.Context) ([]store.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, fingerprint, size, metadata, creation_time, upload_url, parallel_urls FROM uploads`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: find all uploads")
	}
	defer rows.Close()
	return collect(rows)
}

// FindUploadsByFingerprint implements store.Store.
func (s *Store) FindUploadsByFingerprint(ctx context.Context, fingerprint string) ([]store.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, fingerprint, size, metadata, creation_time, upload_url, parallel_urls FROM uploads WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: find uploads by fingerprint")
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]store.Entry, error) {
	var entries []store.Entry
	for rows.Next() {
		e, err := scanRow(rows)
		if err != nil {
			return nil, errors.Wrap(err, "sqlite: scan row")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RemoveUpload implements store.Store.
func (s *Store) RemoveUpload(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM uploads WHERE key = ?`, key)
	if err != nil {
		return errors.Wrap(err, "sqlite: remove upload")
	}
	return nil
}

// AddUpload implements store.Store.
func (s *Store) AddUpload(ctx context.Context, fingerprint string, record store.Record) (string, error) {
	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return "", errors.Wrap(err, "sqlite: encode metadata")
	}
	parallelJSON, err := json.Marshal(record.ParallelUploadURLs)
	if err != nil {
		return "", errors.Wrap(err, "sqlite: encode parallel urls")
	}
	key := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO uploads (key, fingerprint, size, metadata, creation_time, upload_url, parallel_urls) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key, fingerprint, record.Size, string(metadataJSON), record.CreationTime, record.UploadURL, string(parallelJSON),
	)
	if err != nil {
		return "", errors.Wrap(err, "sqlite: add upload")
	}
	return key, nil
}
