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
	"strings"
	"sync"
	"time"

	"github.com/h3knix/tusclient/pkg/tusclient/source"
	"github.com/h3knix/tusclient/pkg/tusclient/store"
	"github.com/h3knix/tusclient/pkg/tusclient/transport"
)

// state is the single-upload engine's state (spec §4.4). Parallel mode
// drives N child Drivers, each progressing through these same states as a
// partial upload.
type state int

const (
	stateIdle state = iota
	stateValidating
	stateOpening
	stateSizeResolved
	stateCreating
	stateResuming
	stateSending
	stateDone
	stateError
	stateAborted
)

// Driver is one logical upload's state machine (spec §3 UploadState owned
// by one driver instance). The zero value is not usable; build one with
// NewDriver.
type Driver struct {
	mu sync.Mutex

	opts Options
	src  source.Source

	state state

	url               string
	offset            int64
	size              int64
	fingerprint       string
	urlStoreKey       string
	retryAttempt      int
	offsetBeforeRetry int64
	aborted           bool

	activeReq  transport.Request
	retryTimer *time.Timer
	abortCh    chan struct{}

	// parallel is non-nil only on the parent driver of a parallel upload
	// (spec §4.5); child drivers are plain single-upload Drivers.
	parallel *parallelEngine

	// shouldTerminate records the flag Abort was last called with, for the
	// termination-on-abort behavior in spec §4.4.
	shouldTerminate bool
}

// NewDriver builds a Driver over src with the given options, running the
// validation spec §4.4 "Validation" describes. It performs no I/O.
func NewDriver(src source.Source, opts ...Option) (*Driver, error) {
	o := Options{
		ParallelUploads: 1,
		ChunkSize:       ChunkSizeUnbounded,
		UploadSize:      SizeUnknown,
		Protocol:        ProtocolV1,
		Fingerprinter:   DefaultFingerprint,
	}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Driver{opts: o, src: src, state: stateValidating, size: SizeUnknown}
	if err := d.validate(); err != nil {
		return nil, err
	}
	d.state = stateIdle
	return d, nil
}

func (d *Driver) validate() error {
	o := &d.opts
	switch o.Protocol {
	case ProtocolV1, ProtocolDraft:
	default:
		return &ConfigurationError{Reason: "unknown protocol"}
	}
	if o.Endpoint == "" && o.UploadURL == "" {
		return &ConfigurationError{Reason: "either an endpoint or an upload URL is required"}
	}
	for k := range o.Metadata {
		if strings.ContainsAny(k, " ,") {
			return &ConfigurationError{Reason: "metadata key " + k + " contains a space or comma"}
		}
	}
	if o.ParallelUploads > 1 {
		if o.UploadURL != "" {
			return &ConfigurationError{Reason: "parallelUploads>1 is incompatible with uploadUrl"}
		}
		if o.UploadSize != SizeUnknown {
			return &ConfigurationError{Reason: "parallelUploads>1 is incompatible with an explicit uploadSize"}
		}
		if o.UploadLengthDeferred {
			return &ConfigurationError{Reason: "parallelUploads>1 is incompatible with uploadLengthDeferred"}
		}
	}
	if o.ParallelBoundaries != nil {
		if o.ParallelUploads <= 1 {
			return &ConfigurationError{Reason: "parallelBoundaries requires parallelUploads>1"}
		}
		if len(o.ParallelBoundaries) != o.ParallelUploads {
			return &ConfigurationError{Reason: "parallelBoundaries length must equal parallelUploads"}
		}
	}
	if o.ChunkSize <= 0 {
		return &ConfigurationError{Reason: "chunkSize must be positive (use ChunkSizeUnbounded for no limit)"}
	}
	return nil
}

// URL returns the resource URL, or "" if none has been created or resumed
// yet.
func (d *Driver) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// Offset returns the last server-acknowledged byte count.
func (d *Driver) Offset() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offset
}

// Size returns the total byte size, or SizeUnknown.
func (d *Driver) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

// FindPreviousUploads returns every persisted record whose fingerprint
// matches src's computed fingerprint (spec §4.3). The host picks one and
// passes it to ResumeFromPreviousUpload.
func (d *Driver) FindPreviousUploads(ctx context.Context) ([]store.Entry, error) {
	if d.opts.Store == nil {
		return nil, nil
	}
	fp, err := d.opts.Fingerprinter.Fingerprint(ctx, d.src, &d.opts)
	if err != nil || fp == "" {
		return nil, err
	}
	entries, err := d.opts.Store.FindUploadsByFingerprint(ctx, fp)
	if err != nil {
		return nil, &StorageError{Cause: err}
	}
	return entries, nil
}

// ResumeFromPreviousUpload populates url/parallelUrls/urlStoreKey from a
// previously found record. It performs no I/O (spec §4.3).
func (d *Driver) ResumeFromPreviousUpload(entry store.Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urlStoreKey = entry.Key
	d.fingerprint = entry.Fingerprint
	if len(entry.Record.ParallelUploadURLs) > 0 {
		d.opts.ParallelUploads = len(entry.Record.ParallelUploadURLs)
		d.parallel = newParallelEngine(d, len(entry.Record.ParallelUploadURLs))
		d.parallel.urls = append([]string(nil), entry.Record.ParallelUploadURLs...)
	} else {
		d.url = entry.Record.UploadURL
	}
}

// Start begins or resumes the upload. It is the only entry point that
// issues network activity; re-entering Start after Abort runs the state
// machine again from wherever offset/url left off (spec §4.4 "Any ─abort()→
// Aborted (terminal until next start())").
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	d.aborted = false
	d.abortCh = make(chan struct{})
	parallel := d.parallel != nil || d.opts.ParallelUploads > 1
	d.mu.Unlock()

	if parallel {
		return d.startParallel(ctx)
	}
	return d.startSingle(ctx)
}

// Abort cancels any in-flight request and pending retry timer, and — in
// parallel mode — every child driver. It is idempotent (spec §5). If
// shouldTerminate is set and a resource URL exists, the termination
// component (H) is invoked and the persisted record removed.
func (d *Driver) Abort(ctx context.Context, shouldTerminateResource bool) error {
	d.mu.Lock()
	d.aborted = true
	d.shouldTerminate = shouldTerminateResource
	if d.retryTimer != nil {
		d.retryTimer.Stop()
		d.retryTimer = nil
	}
	if d.abortCh != nil {
		select {
		case <-d.abortCh:
		default:
			close(d.abortCh)
		}
	}
	active := d.activeReq
	d.activeReq = nil
	url := d.url
	parallel := d.parallel
	d.mu.Unlock()

	if active != nil {
		active.Abort()
	}
	if parallel != nil {
		parallel.abort(ctx, shouldTerminateResource)
	}

	if shouldTerminateResource && url != "" {
		if err := Terminate(ctx, d.opts.Transport, url, d.opts.Protocol, d.opts.RetryDelays); err != nil {
			return err
		}
		return d.removeRecord(ctx)
	}
	return nil
}

func (d *Driver) isAborted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.aborted
}

// abortSignal returns the channel for the run Start() most recently began;
// it closes when Abort is called, interrupting any pending retry wait.
func (d *Driver) abortSignal() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.abortCh
}

func (d *Driver) emitProgress(sent, total int64) {
	if d.isAborted() {
		return
	}
	if cb := d.opts.Callbacks.OnProgress; cb != nil {
		cb(sent, total)
	}
}

func (d *Driver) emitChunkComplete(chunkSize, accepted, total int64) {
	if d.isAborted() {
		return
	}
	if cb := d.opts.Callbacks.OnChunkComplete; cb != nil {
		cb(chunkSize, accepted, total)
	}
}

func (d *Driver) emitSuccess() {
	if d.isAborted() {
		return
	}
	if cb := d.opts.Callbacks.OnSuccess; cb != nil {
		cb()
	}
}

func (d *Driver) emitError(err error) {
	if d.isAborted() {
		return
	}
	if cb := d.opts.Callbacks.OnError; cb != nil {
		cb(err)
	}
}

func (d *Driver) emitURLAvailable() {
	if d.isAborted() {
		return
	}
	if cb := d.opts.Callbacks.OnUploadURLAvailable; cb != nil {
		cb()
	}
}

// persist writes the current record to the URL-store, exactly when spec
// §4.3 requires it: storeFingerprint is set, a fingerprint exists, and no
// key has been assigned yet. A StorageError here is emitted but never
// un-succeeds an upload that already reported success (spec §7).
func (d *Driver) persist(ctx context.Context, record store.Record) {
	d.mu.Lock()
	shouldPersist := d.opts.StoreFingerprint && d.fingerprint != "" && d.urlStoreKey == ""
	fp := d.fingerprint
	d.mu.Unlock()
	if !shouldPersist || d.opts.Store == nil {
		return
	}
	key, err := d.opts.Store.AddUpload(ctx, fp, record)
	if err != nil {
		d.emitError(&StorageError{Cause: err})
		return
	}
	if key == "" {
		d.emitError(&StorageError{Cause: errEmptyStoreKey})
		return
	}
	d.mu.Lock()
	d.urlStoreKey = key
	d.mu.Unlock()
}

func (d *Driver) removeRecord(ctx context.Context) error {
	d.mu.Lock()
	key := d.urlStoreKey
	d.mu.Unlock()
	if key == "" || d.opts.Store == nil {
		return nil
	}
	if err := d.opts.Store.RemoveUpload(ctx, key); err != nil {
		se := &StorageError{Cause: err}
		d.emitError(se)
		return se
	}
	return nil
}

func (d *Driver) ensureFingerprint(ctx context.Context) {
	d.mu.Lock()
	has := d.fingerprint != ""
	d.mu.Unlock()
	if has || d.opts.Fingerprinter == nil {
		return
	}
	fp, err := d.opts.Fingerprinter.Fingerprint(ctx, d.src, &d.opts)
	if err != nil {
		return
	}
	d.mu.Lock()
	d.fingerprint = fp
	d.mu.Unlock()
}
