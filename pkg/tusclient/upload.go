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
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/h3knix/tusclient/pkg/tusclient/metrics"
	"github.com/h3knix/tusclient/pkg/tusclient/store"
	"github.com/h3knix/tusclient/pkg/tusclient/transport"
)

// errSwitchToCreate signals that resumeOnce dropped the stored URL and
// wants the caller to fall through to creation (spec §4.4 "Resuming
// ─4xx (not 423)→ ... retry create if endpoint → Creating").
var errSwitchToCreate = errors.New("tusclient: switch to creation")

// startSingle implements the single-upload engine (component F): Opening,
// then Creating/Resuming until a resource URL and offset are established,
// then the Sending chunk loop until offset == size.
func (d *Driver) startSingle(ctx context.Context) error {
	d.mu.Lock()
	d.state = stateOpening
	d.mu.Unlock()

	d.ensureFingerprint(ctx)

	if err := d.resolveSize(); err != nil {
		d.emitError(err)
		return err
	}

	bo := newFixedDelaysBackOff(d.opts.RetryDelays)

	for {
		if d.isAborted() {
			return errAborted
		}
		d.mu.Lock()
		hasURL := d.url != ""
		d.mu.Unlock()

		var err error
		if hasURL {
			d.mu.Lock()
			d.state = stateResuming
			d.mu.Unlock()
			err = d.withRetry(ctx, bo, func() error { return d.resumeOnce(ctx) })
		} else {
			d.mu.Lock()
			d.state = stateCreating
			d.mu.Unlock()
			err = d.withRetry(ctx, bo, func() error { return d.createOnce(ctx) })
		}
		if errors.Is(err, errSwitchToCreate) {
			continue
		}
		if err != nil {
			d.emitError(err)
			return err
		}
		break
	}

	if d.isFinished() {
		d.finish(ctx)
		return nil
	}

	d.mu.Lock()
	d.state = stateSending
	d.mu.Unlock()
	for {
		if d.isAborted() {
			return errAborted
		}
		if err := d.withRetry(ctx, bo, func() error { return d.sendChunkOnce(ctx) }); err != nil {
			d.emitError(err)
			return err
		}
		if d.isFinished() {
			d.finish(ctx)
			return nil
		}
	}
}

func (d *Driver) isFinished() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size != SizeUnknown && d.offset == d.size
}

// withRetry runs op until it succeeds, the retry controller declines to
// retry the error, or the driver is aborted. errSwitchToCreate is never
// retried, it is returned straight through to the caller.
func (d *Driver) withRetry(ctx context.Context, bo *fixedDelaysBackOff, op func() error) error {
	for {
		if d.isAborted() {
			return errAborted
		}
		err := op()
		if err == nil || errors.Is(err, errSwitchToCreate) {
			return err
		}

		d.mu.Lock()
		if d.offset > d.offsetBeforeRetry {
			bo.Reset()
			d.offsetBeforeRetry = d.offset
		}
		d.mu.Unlock()

		retry, delay := d.shouldRetry(err, bo)
		if !retry {
			return err
		}
		metrics.RetriesTotal.WithLabelValues(retryReason(err)).Inc()
		d.mu.Lock()
		d.retryAttempt = bo.attempt()
		d.mu.Unlock()
		if werr := d.waitRetry(ctx, delay); werr != nil {
			return werr
		}
	}
}

func retryReason(err error) string {
	var httpErr *HttpError
	if errors.As(err, &httpErr) {
		return strconv.Itoa(httpErr.StatusCode)
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return "transport"
	}
	return "other"
}

// resolveSize implements "Opening" (spec §4.4).
func (d *Driver) resolveSize() error {
	d.mu.Lock()
	deferred := d.opts.UploadLengthDeferred
	explicit := d.opts.UploadSize
	d.mu.Unlock()

	switch {
	case deferred:
		d.mu.Lock()
		d.size = SizeUnknown
		d.state = stateSizeResolved
		d.mu.Unlock()
		return nil
	case explicit != SizeUnknown:
		d.mu.Lock()
		d.size = explicit
		d.state = stateSizeResolved
		d.mu.Unlock()
		return nil
	}

	sz := d.src.Size()
	if sz == SizeUnknown {
		return &ConfigurationError{Reason: "upload size is unknown: set UploadSize, enable UploadLengthDeferred, or use a source that reports its size"}
	}
	d.mu.Lock()
	d.size = sz
	d.state = stateSizeResolved
	d.mu.Unlock()
	return nil
}

// chunkEnd computes the exclusive end bound for the next slice starting at
// offset, per spec §4.4's "Sending" bounds rule.
func (d *Driver) chunkEnd(offset int64) int64 {
	d.mu.Lock()
	size := d.size
	chunkSize := d.opts.ChunkSize
	d.mu.Unlock()

	if chunkSize == ChunkSizeUnbounded {
		if size != SizeUnknown {
			return size
		}
		return math.MaxInt64
	}
	end := offset + chunkSize
	if size != SizeUnknown && end > size {
		end = size
	}
	return end
}

func completeHeader(done bool) string {
	if done {
		return "?1"
	}
	return "?0"
}

// createOnce implements "Creating" (spec §4.4), one attempt.
func (d *Driver) createOnce(ctx context.Context) error {
	d.mu.Lock()
	endpoint := d.opts.Endpoint
	size := d.size
	deferred := d.opts.UploadLengthDeferred
	metadata := d.opts.Metadata
	uploadDataDuringCreation := d.opts.UploadDataDuringCreation
	protocol := d.opts.Protocol
	d.mu.Unlock()

	if endpoint == "" {
		return &ConfigurationError{Reason: "no endpoint configured to create a resource against"}
	}

	req, err := d.newRequest(http.MethodPost, endpoint)
	if err != nil {
		return err
	}

	if deferred {
		req.SetHeader(headerDeferLength, "1")
	} else {
		req.SetHeader(headerUploadLength, strconv.FormatInt(size, 10))
	}
	if meta := encodeMetadata(metadata); meta != "" {
		req.SetHeader(headerUploadMetadata, meta)
	}
	d.mu.Lock()
	concat := d.opts.concat
	d.mu.Unlock()
	if concat != "" {
		req.SetHeader(headerUploadConcat, concat)
	}

	var body io.Reader
	var chunkLen int64
	if uploadDataDuringCreation && !deferred {
		slice, err := d.src.Slice(ctx, 0, d.chunkEnd(0))
		if err != nil {
			return &TransportError{Cause: err}
		}
		if slice.Body != nil {
			body = slice.Body
			chunkLen = slice.Len
			req.SetProgressHandler(func(sent int64) { d.emitProgress(sent, size) })
		}
		if protocol == ProtocolDraft {
			req.SetHeader(headerUploadComplete, completeHeader(slice.Done))
		}
	} else if protocol == ProtocolDraft {
		req.SetHeader(headerUploadComplete, "?0")
	}

	res, err := d.send(ctx, req, body)
	if err != nil {
		return err
	}
	if err := checkStatus(req, res); err != nil {
		return err
	}

	loc := res.Header(headerLocation)
	if loc == "" {
		return &ProtocolError{reqres: reqres{req: req.Underlying(), res: res.Underlying()}, Reason: "missing Location header"}
	}
	resolved, err := resolveURL(endpoint, loc)
	if err != nil {
		return &ProtocolError{reqres: reqres{req: req.Underlying(), res: res.Underlying()}, Reason: "invalid Location header: " + err.Error()}
	}

	d.mu.Lock()
	d.url = resolved
	d.mu.Unlock()
	d.emitURLAvailable()

	if size == 0 {
		d.mu.Lock()
		d.offset = 0
		d.mu.Unlock()
		d.persist(ctx, d.currentRecord())
		return nil
	}

	d.persist(ctx, d.currentRecord())

	if body != nil {
		return d.handleChunkResponse(ctx, req, res, chunkLen)
	}
	d.mu.Lock()
	d.offset = 0
	d.mu.Unlock()
	return nil
}

// resumeOnce implements "Resuming" (spec §4.4), one attempt.
func (d *Driver) resumeOnce(ctx context.Context) error {
	d.mu.Lock()
	url := d.url
	deferred := d.opts.UploadLengthDeferred
	endpoint := d.opts.Endpoint
	protocol := d.opts.Protocol
	d.mu.Unlock()

	req, err := d.newRequest(http.MethodHead, url)
	if err != nil {
		return err
	}
	res, err := d.send(ctx, req, nil)
	if err != nil {
		return err
	}

	if res.StatusCode() == http.StatusLocked {
		return &HttpError{reqres: reqres{req: req.Underlying(), res: res.Underlying()}, StatusCode: http.StatusLocked, Body: res.Body()}
	}
	if res.StatusCode() >= 400 && res.StatusCode() < 500 {
		_ = d.removeRecord(ctx)
		d.mu.Lock()
		d.urlStoreKey = ""
		d.mu.Unlock()
		if endpoint != "" {
			d.mu.Lock()
			d.url = ""
			d.mu.Unlock()
			return errSwitchToCreate
		}
		return &ProtocolError{
			reqres: reqres{req: req.Underlying(), res: res.Underlying()},
			Reason: fmt.Sprintf("resuming failed with status %d and no endpoint configured to recreate", res.StatusCode()),
		}
	}
	if err := checkStatus(req, res); err != nil {
		return err
	}

	offset, err := parseOffset(req, res)
	if err != nil {
		return err
	}

	length := SizeUnknown
	if raw := res.Header(headerUploadLength); raw != "" {
		length, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return &ProtocolError{reqres: reqres{req: req.Underlying(), res: res.Underlying()}, Reason: "non-numeric Upload-Length header"}
		}
	} else if protocol == ProtocolV1 && !deferred {
		return &ProtocolError{reqres: reqres{req: req.Underlying(), res: res.Underlying()}, Reason: "missing Upload-Length header"}
	}

	d.mu.Lock()
	if length != SizeUnknown {
		d.size = length
	}
	d.offset = offset
	d.mu.Unlock()
	d.emitURLAvailable()
	d.persist(ctx, d.currentRecord())
	return nil
}

// sendChunkOnce implements one iteration of "Sending" (spec §4.4).
func (d *Driver) sendChunkOnce(ctx context.Context) error {
	d.mu.Lock()
	offset := d.offset
	size := d.size
	url := d.url
	deferred := d.opts.UploadLengthDeferred
	overrideMethod := d.opts.OverridePatchMethod
	protocol := d.opts.Protocol
	d.mu.Unlock()

	end := d.chunkEnd(offset)
	slice, err := d.src.Slice(ctx, offset, end)
	if err != nil {
		return &TransportError{Cause: err}
	}

	method := http.MethodPatch
	req, err := d.newRequest(method, url)
	if err != nil {
		return err
	}
	if overrideMethod {
		req, err = d.newRequest(http.MethodPost, url)
		if err != nil {
			return err
		}
		req.SetHeader(headerMethodOverride, http.MethodPatch)
	}
	req.SetHeader(headerUploadOffset, strconv.FormatInt(offset, 10))
	req.SetHeader(headerContentType, contentTypeOffsetOctetStream)

	newSize := size
	if deferred && slice.Done {
		newSize = offset + slice.Len
		req.SetHeader(headerUploadLength, strconv.FormatInt(newSize, 10))
		d.mu.Lock()
		d.size = newSize
		d.mu.Unlock()
	}
	if !deferred && slice.Done && offset+slice.Len != size {
		return &SizeMismatchError{reqres: reqres{req: req.Underlying()}, Announced: size, Observed: offset + slice.Len}
	}

	var body io.Reader
	if slice.Body != nil {
		body = slice.Body
		if protocol == ProtocolDraft {
			req.SetHeader(headerUploadComplete, completeHeader(slice.Done))
		}
		req.SetProgressHandler(func(sent int64) { d.emitProgress(offset+sent, newSize) })
	}

	res, err := d.send(ctx, req, body)
	if err != nil {
		return err
	}
	if err := checkStatus(req, res); err != nil {
		return err
	}
	return d.handleChunkResponse(ctx, req, res, slice.Len)
}

// handleChunkResponse implements spec §4.4's "Response handling".
func (d *Driver) handleChunkResponse(_ context.Context, req transport.Request, res transport.Response, chunkLen int64) error {
	newOffset, err := parseOffset(req, res)
	if err != nil {
		return err
	}

	d.mu.Lock()
	prevOffset := d.offset
	size := d.size
	fingerprinted := d.fingerprint != ""
	d.offset = newOffset
	d.mu.Unlock()

	d.emitProgress(newOffset, size)
	d.emitChunkComplete(newOffset-prevOffset, newOffset, size)
	recordRequestOutcome(fingerprinted, chunkLen)
	return nil
}

// finish implements "Done / success" (spec §4.4).
func (d *Driver) finish(ctx context.Context) {
	d.mu.Lock()
	d.state = stateDone
	d.mu.Unlock()
	if err := d.src.Close(); err != nil {
		d.emitError(&TransportError{Cause: err})
	}
	if d.opts.RemoveFingerprintOnSuccess {
		_ = d.removeRecord(ctx)
	}
	d.emitSuccess()
}

func (d *Driver) currentRecord() store.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return store.Record{
		Size:         d.size,
		Metadata:     d.opts.Metadata,
		CreationTime: time.Now().UTC().Format(time.RFC3339),
		UploadURL:    d.url,
	}
}

// resolveURL resolves a (possibly relative) Location header against base,
// per spec §4.4 "The returned Location is resolved relative to the
// endpoint".
func resolveURL(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	locURL, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(locURL).String(), nil
}
