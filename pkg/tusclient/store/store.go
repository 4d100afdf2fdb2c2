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

// Package store defines the driver's URL-store capability (component C):
// the fingerprint-keyed persistence contract spec.md §3 calls
// PersistedRecord, plus memory/sqlite/redis reference implementations.
package store

import "context"

// SizeUnknown mirrors source.SizeUnknown; duplicated here rather than
// imported so this package has no dependency on the source package (a
// record's size is just an int64, not a live source).
const SizeUnknown int64 = -1

// Record is one PersistedRecord (spec §3): either a single contiguous
// upload URL, or — in parallel mode — the full set of part URLs, never a
// mix of both.
type Record struct {
	Size               int64
	Metadata           map[string]string
	CreationTime       string
	UploadURL          string
	ParallelUploadURLs []string
}

// Entry pairs a stored Record with its fingerprint and the opaque key the
// Store assigned it.
type Entry struct {
	Key         string
	Fingerprint string
	Record      Record
}

// Store is the URL-store capability (component C). Implementations must be
// atomic at the record level; cross-record transactions are not required
// (spec §5).
type Store interface {
	FindAllUploads(ctx context.Context) ([]Entry, error)
	FindUploadsByFingerprint(ctx context.Context, fingerprint string) ([]Entry, error)
	RemoveUpload(ctx context.Context, key string) error
	// AddUpload persists record under fingerprint and returns a non-empty
	// opaque key, or an error. Per spec §9's resolved open question, a
	// conforming Store never returns ("", nil).
	AddUpload(ctx context.Context, fingerprint string, record Record) (string, error)
}
