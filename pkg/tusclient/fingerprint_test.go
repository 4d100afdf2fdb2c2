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

package tusclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h3knix/tusclient/pkg/tusclient/source"
)

type identifiableSource struct {
	name    string
	size    int64
	modTime time.Time
	ok      bool
}

func (s *identifiableSource) Size() int64                                        { return s.size }
func (s *identifiableSource) Slice(context.Context, int64, int64) (source.Slice, error) { return source.Slice{}, nil }
func (s *identifiableSource) Close() error                                       { return nil }
func (s *identifiableSource) Identify() (string, int64, time.Time, bool) {
	return s.name, s.size, s.modTime, s.ok
}

type anonymousSource struct{}

func (anonymousSource) Size() int64                                        { return 0 }
func (anonymousSource) Slice(context.Context, int64, int64) (source.Slice, error) { return source.Slice{}, nil }
func (anonymousSource) Close() error                                       { return nil }

func TestDefaultFingerprintIsStableForTheSameIdentity(t *testing.T) {
	modTime := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	src := &identifiableSource{name: "a.bin", size: 100, modTime: modTime, ok: true}
	opts := &Options{ParallelUploads: 1}

	fp1, err := DefaultFingerprint.Fingerprint(context.Background(), src, opts)
	require.NoError(t, err)
	assert.NotEmpty(t, fp1)

	fp2, err := DefaultFingerprint.Fingerprint(context.Background(), src, opts)
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)
}

func TestDefaultFingerprintDiffersByParallelism(t *testing.T) {
	src := &identifiableSource{name: "a.bin", size: 100, modTime: time.Now(), ok: true}

	fp1, err := DefaultFingerprint.Fingerprint(context.Background(), src, &Options{ParallelUploads: 1})
	require.NoError(t, err)
	fp2, err := DefaultFingerprint.Fingerprint(context.Background(), src, &Options{ParallelUploads: 2})
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp2)
}

func TestDefaultFingerprintIsEmptyWithoutIdentity(t *testing.T) {
	fp, err := DefaultFingerprint.Fingerprint(context.Background(), anonymousSource{}, &Options{})
	require.NoError(t, err)
	assert.Empty(t, fp)
}

func TestDefaultFingerprintIsEmptyWhenIdentifyFails(t *testing.T) {
	src := &identifiableSource{ok: false}
	fp, err := DefaultFingerprint.Fingerprint(context.Background(), src, &Options{})
	require.NoError(t, err)
	assert.Empty(t, fp)
}
