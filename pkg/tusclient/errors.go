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
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// reqres carries the request/response pair an error occurred against, so
// that onShouldRetry predicates can classify without string matching. Both
// fields are nil when the error has no associated HTTP exchange.
type reqres struct {
	req *http.Request
	res *http.Response
}

// OriginalRequest returns the request that was in flight when the error
// occurred, or nil if the error predates any request (e.g. ConfigurationError).
func (r reqres) OriginalRequest() *http.Request { return r.req }

// Response returns the response that triggered the error, or nil if none
// was received (e.g. a transport-level failure).
func (r reqres) Response() *http.Response { return r.res }

// ConfigurationError reports a precondition on UploadRequest options that
// was violated before any network activity started. Never retried.
type ConfigurationError struct {
	reqres
	Reason string
}

func (e *ConfigurationError) Error() string { return "tusclient: configuration error: " + e.Reason }

// IsConfigurationError implements the marker interface reva's errtypes uses.
func (e *ConfigurationError) IsConfigurationError() {}

// TransportError wraps a failure of the transport capability to complete a
// request: DNS, connection refused, context cancellation, and the like.
// Whether it is retried is up to the retry controller.
type TransportError struct {
	reqres
	Cause error
}

func (e *TransportError) Error() string {
	return errors.Wrap(e.Cause, "tusclient: transport error").Error()
}

// Unwrap exposes the underlying cause to errors.Is/errors.As.
func (e *TransportError) Unwrap() error { return e.Cause }

// IsTransportError implements the marker interface.
func (e *TransportError) IsTransportError() {}

// HttpError reports a non-success HTTP status. 4xx (other than 409, 423) is
// terminal; everything else is a candidate for retry.
//
//nolint:revive // Http, not HTTP: matches the header/protocol vocabulary used throughout this package.
type HttpError struct {
	reqres
	StatusCode int
	Body       string
}

func (e *HttpError) Error() string {
	return fmt.Sprintf("tusclient: unexpected status code %d: %s", e.StatusCode, e.Body)
}

// IsHttpError implements the marker interface.
//
//nolint:revive
func (e *HttpError) IsHttpError() {}

// Retriable reports whether this status is in the retriable set: anything
// outside the 4xx class, plus 409 and 423 which the protocol uses for
// transient locking conditions.
func (e *HttpError) Retriable() bool {
	if e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusLocked {
		return true
	}
	return e.StatusCode < 400 || e.StatusCode >= 500
}

// ProtocolError reports a success status with a malformed or missing
// protocol-mandated header: no Location, no/non-numeric Upload-Offset, no
// Upload-Length when required.
type ProtocolError struct {
	reqres
	Reason string
}

func (e *ProtocolError) Error() string { return "tusclient: protocol error: " + e.Reason }

// IsProtocolError implements the marker interface.
func (e *ProtocolError) IsProtocolError() {}

// SizeMismatchError reports that the byte source's observed length
// contradicts the announced uploadSize. Terminal, never retried (not even
// when OnShouldRetry is set): retrying would loop forever against a source
// that cannot change its mind.
type SizeMismatchError struct {
	reqres
	Announced int64
	Observed  int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("tusclient: size mismatch: announced %d, source produced %d", e.Announced, e.Observed)
}

// IsSizeMismatchError implements the marker interface.
func (e *SizeMismatchError) IsSizeMismatchError() {}

// StorageError reports a failure of the URL-store capability. It is
// surfaced through the normal error path; a StorageError that follows a
// successful upload never un-succeeds it (see Driver.persist).
type StorageError struct {
	reqres
	Cause error
}

func (e *StorageError) Error() string {
	return errors.Wrap(e.Cause, "tusclient: storage error").Error()
}

// Unwrap exposes the underlying cause.
func (e *StorageError) Unwrap() error { return e.Cause }

// IsStorageError implements the marker interface.
func (e *StorageError) IsStorageError() {}

// hasOriginalRequest is satisfied by any error that can report whether it
// arose from an actual I/O attempt, as opposed to a logic/programming
// error. The retry controller uses this to implement "if the error has no
// associated original request ... do not retry" (spec §4.2).
type hasOriginalRequest interface {
	OriginalRequest() *http.Request
}

// errEmptyStoreKey is the cause wrapped into a StorageError when a Store
// returns ("", nil) from AddUpload, violating the contract spec §9
// resolves: a conforming Store returns a non-empty key or an error.
var errEmptyStoreKey = errors.New("tusclient: store returned an empty upload key")

func originalRequestOf(err error) *http.Request {
	var h hasOriginalRequest
	if errors.As(err, &h) {
		return h.OriginalRequest()
	}
	return nil
}
