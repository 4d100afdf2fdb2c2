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

package source

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// Reader is a Source backed by a forward-only io.Reader: streams, pipes,
// anything without a stable size up front. It buffers only the bytes of
// the chunk currently being read, never the whole body, so deferred-length
// uploads of unbounded streams stay bounded in memory.
//
// Reader is not seekable: Slice must be called with strictly increasing,
// contiguous start offsets (exactly the access pattern the single-upload
// engine uses; parallel mode rejects deferred length and never touches a
// Reader out of order).
type Reader struct {
	mu     sync.Mutex
	r      io.Reader
	read   int64
	closer io.Closer
}

// NewReader wraps r. If r also implements io.Closer, Close closes it.
func NewReader(r io.Reader) *Reader {
	s := &Reader{r: r}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Size implements Source: always unknown, by construction.
func (s *Reader) Size() int64 { return SizeUnknown }

// Slice implements Source.
func (s *Reader) Slice(_ context.Context, start, end int64) (Slice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if start != s.read {
		return Slice{}, io.ErrUnexpectedEOF
	}

	want := end - start
	buf := make([]byte, want)
	n, err := io.ReadFull(s.r, buf)
	s.read += int64(n)
	switch {
	case err == nil:
		return Slice{Body: bytes.NewReader(buf[:n]), Len: int64(n), Done: false}, nil
	case err == io.ErrUnexpectedEOF || err == io.EOF:
		if n == 0 {
			return Slice{Done: true}, nil
		}
		return Slice{Body: bytes.NewReader(buf[:n]), Len: int64(n), Done: true}, nil
	default:
		return Slice{}, err
	}
}

// Close implements Source.
func (s *Reader) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
