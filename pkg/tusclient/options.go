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

// Package tusclient implements the resumable-upload driver: components D
// (request builder), E (retry controller), F (single-upload engine), G
// (parallel-upload engine) and H (termination) of the protocol client.
// Components A (transport), B (byte source) and C (URL store) are the
// pluggable capabilities in the sibling transport, source and store
// packages.
package tusclient

import (
	"context"
	"math"
	"time"

	"github.com/h3knix/tusclient/pkg/tusclient/source"
	"github.com/h3knix/tusclient/pkg/tusclient/store"
	"github.com/h3knix/tusclient/pkg/tusclient/transport"
)

// Protocol selects which wire dialect of the upload protocol the driver
// speaks (spec §1, §4.1, §6).
type Protocol int

const (
	// ProtocolV1 is the stable dialect: "Tus-Resumable: 1.0.0".
	ProtocolV1 Protocol = iota
	// ProtocolDraft is the interop draft: "Upload-Draft-Interop-Version: 5",
	// which additionally uses Upload-Complete on creation and chunk requests.
	ProtocolDraft
)

// SizeUnknown is the UploadRequest.UploadSize sentinel meaning "deferred
// length": the total is not known until the final chunk.
const SizeUnknown = source.SizeUnknown

// ChunkSizeUnbounded means a single request transmits the entire
// remainder of the source, however large.
const ChunkSizeUnbounded int64 = math.MaxInt64

// Boundary is one [Start,End) part of a parallel upload's source range.
type Boundary struct {
	Start, End int64
}

// Fingerprinter computes the fingerprint capability (spec §6): a stable
// string identifier for src, or "" with a nil error when no stable
// identity is available (non-fatal: it just disables resumption).
type Fingerprinter interface {
	Fingerprint(ctx context.Context, src source.Source, opts *Options) (string, error)
}

// FingerprinterFunc adapts a function to a Fingerprinter.
type FingerprinterFunc func(ctx context.Context, src source.Source, opts *Options) (string, error)

// Fingerprint implements Fingerprinter.
func (f FingerprinterFunc) Fingerprint(ctx context.Context, src source.Source, opts *Options) (string, error) {
	return f(ctx, src, opts)
}

// ShouldRetryFunc is a user-supplied retry predicate (spec §4.2 step 3).
type ShouldRetryFunc func(err error, attempt int, opts *Options) bool

// RequestHookFunc is a before-send/after-receive hook (spec §4.1). Hooks
// may do I/O; the driver awaits them like any other suspension point.
type RequestHookFunc func(ctx context.Context, req transport.Request, res transport.Response) error

// Callbacks are the driver's user-visible events (spec §6). Every field is
// optional; nil callbacks are simply not invoked. Each callback fires at
// most once per logical event and never after Abort (spec §9).
type Callbacks struct {
	OnProgress            func(bytesSent, bytesTotal int64)
	OnChunkComplete       func(chunkSize, bytesAccepted, bytesTotal int64)
	OnSuccess             func()
	OnError               func(err error)
	OnUploadURLAvailable  func()
	OnBeforeRequest       func(ctx context.Context, req transport.Request) error
	OnAfterResponse       func(ctx context.Context, req transport.Request, res transport.Response) error
	OnShouldRetry         ShouldRetryFunc
}

// Options is the driver's immutable input (spec §3 UploadRequest), built up
// with Option functions passed to NewDriver.
type Options struct {
	Endpoint  string
	UploadURL string

	Metadata map[string]string

	UploadSize int64
	ChunkSize  int64

	RetryDelays []time.Duration

	ParallelUploads    int
	ParallelBoundaries []Boundary

	StoreFingerprint           bool
	RemoveFingerprintOnSuccess bool
	OverridePatchMethod       bool
	UploadDataDuringCreation  bool
	AddRequestID              bool
	UploadLengthDeferred      bool

	Headers map[string]string

	Protocol Protocol

	Transport     transport.Transport
	Store         store.Store
	Fingerprinter Fingerprinter

	Callbacks Callbacks

	// concat is set internally by the parallel-upload engine (component G)
	// on each child driver's options: "partial" while a part is being sent,
	// "final;<url1> <url2> ..." for the concatenation request. It has no
	// public Option constructor; host code never sets it directly.
	concat string
}

// withConcat is unexported: only the parallel-upload engine in this package
// uses it, to mark a child driver's creation request as a partial upload.
func withConcat(v string) Option {
	return func(o *Options) { o.concat = v }
}

// Option configures an Options value. NewDriver applies opts in order over
// its defaults (ParallelUploads 1, ChunkSizeUnbounded, UploadSize
// SizeUnknown, ProtocolV1, DefaultFingerprint), the same functional-options
// idiom reva's rhttp client wrapper uses.
type Option func(*Options)

// WithEndpoint sets the base URL used to create new upload resources.
func WithEndpoint(endpoint string) Option {
	return func(o *Options) { o.Endpoint = endpoint }
}

// WithUploadURL sets a pre-known resource URL to resume against, skipping
// creation.
func WithUploadURL(url string) Option {
	return func(o *Options) { o.UploadURL = url }
}

// WithMetadata attaches upload metadata. Keys must not contain a space or
// comma (spec §3); NewDriver validates this.
func WithMetadata(metadata map[string]string) Option {
	return func(o *Options) { o.Metadata = metadata }
}

// WithUploadSize announces the total byte count up front.
func WithUploadSize(size int64) Option {
	return func(o *Options) { o.UploadSize = size }
}

// WithUploadLengthDeferred enables deferred-length mode: the total is
// communicated on the final chunk instead of at creation time.
func WithUploadLengthDeferred(deferred bool) Option {
	return func(o *Options) { o.UploadLengthDeferred = deferred }
}

// WithChunkSize bounds how many bytes a single PATCH-style request
// transmits. Use ChunkSizeUnbounded to send the whole remainder in one
// request.
func WithChunkSize(size int64) Option {
	return func(o *Options) { o.ChunkSize = size }
}

// WithRetryDelays sets the ordered retry schedule. An empty (or unset)
// schedule disables retry entirely.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(o *Options) { o.RetryDelays = delays }
}

// WithParallelUploads splits the upload into n concurrent partial uploads,
// concatenated server-side once all complete.
func WithParallelUploads(n int) Option {
	return func(o *Options) { o.ParallelUploads = n }
}

// WithParallelBoundaries supplies explicit part ranges instead of letting
// the driver split evenly.
func WithParallelBoundaries(boundaries ...Boundary) Option {
	return func(o *Options) { o.ParallelBoundaries = boundaries }
}

// WithStoreFingerprint enables persisting the fingerprint/URL record so a
// later process can resume.
func WithStoreFingerprint(store bool) Option {
	return func(o *Options) { o.StoreFingerprint = store }
}

// WithRemoveFingerprintOnSuccess deletes the persisted record once the
// upload succeeds.
func WithRemoveFingerprintOnSuccess(remove bool) Option {
	return func(o *Options) { o.RemoveFingerprintOnSuccess = remove }
}

// WithOverridePatchMethod sends PATCH-style requests as POST with an
// X-HTTP-Method-Override header, for intermediaries that strip PATCH.
func WithOverridePatchMethod(override bool) Option {
	return func(o *Options) { o.OverridePatchMethod = override }
}

// WithUploadDataDuringCreation appends the first chunk's body to the
// creation request itself, saving a round trip.
func WithUploadDataDuringCreation(enabled bool) Option {
	return func(o *Options) { o.UploadDataDuringCreation = enabled }
}

// WithRequestID adds a fresh X-Request-ID header to every request.
func WithRequestID(enabled bool) Option {
	return func(o *Options) { o.AddRequestID = enabled }
}

// WithHeaders adds headers sent with every request, after the protocol
// header and before X-Request-ID.
func WithHeaders(headers map[string]string) Option {
	return func(o *Options) { o.Headers = headers }
}

// WithProtocol selects the wire dialect.
func WithProtocol(p Protocol) Option {
	return func(o *Options) { o.Protocol = p }
}

// WithTransport sets the transport capability. Required.
func WithTransport(t transport.Transport) Option {
	return func(o *Options) { o.Transport = t }
}

// WithStore sets the URL-store capability.
func WithStore(s store.Store) Option {
	return func(o *Options) { o.Store = s }
}

// WithFingerprinter sets the fingerprint capability. Defaults to
// DefaultFingerprint.
func WithFingerprinter(f Fingerprinter) Option {
	return func(o *Options) { o.Fingerprinter = f }
}

// WithCallbacks sets every callback at once.
func WithCallbacks(cb Callbacks) Option {
	return func(o *Options) { o.Callbacks = cb }
}
