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

// Package source defines the driver's byte-source capability (component B)
// and ships file-backed and reader-backed reference implementations.
package source

import (
	"context"
	"io"
	"time"
)

// SizeUnknown is the sentinel Size returns when the source cannot report
// its total length up front (deferred-length mode).
const SizeUnknown int64 = -1

// Slice is one [start,end) cut of a Source.
type Slice struct {
	// Body is the bytes in [start,end). Nil means the source was already
	// exhausted at start (an empty-null slice, per spec §4.4).
	Body io.Reader
	// Len is the number of bytes Body will yield, when known up front;
	// SizeUnknown otherwise (the driver learns the true length as it
	// reads Body).
	Len int64
	// Done reports that the source is exhausted at end: no further bytes
	// exist beyond this slice.
	Done bool
}

// Source is a random-access (or forward-only, for deferred length) byte
// source the driver slices into chunks.
type Source interface {
	// Size returns the total byte length, or SizeUnknown if it cannot be
	// determined without consuming the source (deferred length).
	Size() int64
	// Slice returns the bytes in [start,end). end may exceed the true
	// remaining length; implementations clamp and report Done.
	Slice(ctx context.Context, start, end int64) (Slice, error)
	Close() error
}

// Identity is implemented by sources that have a stable identity across
// process restarts (a file path, say) — the hook the default fingerprinter
// uses to turn a source into a reusable string (spec §6 "fingerprint
// capability", §9 open question about null fingerprints).
type Identity interface {
	// Identify returns a stable name, the source's size (SizeUnknown if
	// not yet known) and modification time, and whether identity could be
	// established at all.
	Identify() (name string, size int64, modTime time.Time, ok bool)
}
