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

// Package transport defines the driver's transport capability (component A
// of the upload driver) and ships a net/http-backed reference
// implementation.
package transport

import (
	"context"
	"io"
	"net/http"
)

// ProgressFunc is invoked as a request body is streamed out, reporting the
// cumulative bytes sent for the in-flight request.
type ProgressFunc func(bytesSent int64)

// Request is a single outbound HTTP request the driver builds and sends
// exactly once. Implementations must support Abort being called
// concurrently with an in-flight Send.
type Request interface {
	Method() string
	URL() string
	SetHeader(key, value string)
	Header(key string) string
	SetProgressHandler(fn ProgressFunc)
	// Send dispatches the request with the given body (nil for bodyless
	// requests) and blocks until a response or error is available.
	Send(ctx context.Context, body io.Reader) (Response, error)
	// Abort cancels an in-flight Send. Safe to call even if no Send is
	// outstanding, and safe to call more than once.
	Abort()
	// Underlying is the escape hatch spec §6 requires: callers that need
	// transport-specific behavior unreachable through this interface may
	// type-assert the result.
	Underlying() *http.Request
}

// Response is the result of a successfully dispatched Request. "Successful
// dispatch" means the round trip completed; the status code may still be
// an error the driver's error taxonomy turns into an HttpError.
type Response interface {
	StatusCode() int
	Header(key string) string
	Body() string
	Underlying() *http.Response
}

// Transport builds requests. One Transport is shared across every request a
// driver (and its parallel children) issue.
type Transport interface {
	NewRequest(method, url string) (Request, error)
}
