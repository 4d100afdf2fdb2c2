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
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/h3knix/tusclient/pkg/tusclient/source"
)

// DefaultFingerprint hashes the source's stable identity (name, size,
// modification time) into a hex string. It returns "" with a nil error
// when src exposes no stable identity (e.g. an anonymous source.Reader) —
// a null fingerprint is non-fatal, it just disables persistent resumption
// for this run (spec §4.3).
//
// crypto/sha256 is stdlib rather than a pack dependency: this is a narrow,
// already-solved concern (stable content hashing) with no domain-specific
// shape a third-party library would add value to, and none of the example
// repos reach for an external hashing library for this kind of identity
// fingerprint either.
var DefaultFingerprint FingerprinterFunc = func(_ context.Context, src source.Source, opts *Options) (string, error) {
	ident, ok := src.(source.Identity)
	if !ok {
		return "", nil
	}
	name, size, modTime, ok := ident.Identify()
	if !ok || name == "" {
		return "", nil
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d\x00%d", name, size, modTime.UnixNano(), opts.ParallelUploads)
	return hex.EncodeToString(h.Sum(nil)), nil
}
