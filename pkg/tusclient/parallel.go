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
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/h3knix/tusclient/pkg/tusclient/source"
	"github.com/h3knix/tusclient/pkg/tusclient/store"
)

// parallelEngine is component G's state: one per parent Driver running a
// parallel upload. Each slot tracks one child Driver, its part's bytes
// sent so far, and its final part URL once known.
type parallelEngine struct {
	mu       sync.Mutex
	children []*Driver
	urls     []string
	sent     []int64
}

func newParallelEngine(_ *Driver, n int) *parallelEngine {
	return &parallelEngine{
		children: make([]*Driver, n),
		urls:     make([]string, n),
		sent:     make([]int64, n),
	}
}

// abort propagates Abort to every spawned child (spec §4.5's "aborting the
// parent aborts every part").
func (pe *parallelEngine) abort(ctx context.Context, shouldTerminate bool) {
	pe.mu.Lock()
	children := append([]*Driver(nil), pe.children...)
	pe.mu.Unlock()
	for _, c := range children {
		if c != nil {
			_ = c.Abort(ctx, shouldTerminate)
		}
	}
}

// computeBoundaries splits [0,size) into n roughly equal parts, the
// remainder from integer division landing in the last part (spec §4.5).
func computeBoundaries(size int64, n int) []Boundary {
	base := size / int64(n)
	boundaries := make([]Boundary, n)
	start := int64(0)
	for i := 0; i < n; i++ {
		end := start + base
		if i == n-1 {
			end = size
		}
		boundaries[i] = Boundary{Start: start, End: end}
		start = end
	}
	return boundaries
}

// partSource restricts a parent Source to one [base,base+len) range, the
// per-part view each parallel child Driver is built over.
type partSource struct {
	parent source.Source
	base   int64
	length int64
}

func (p *partSource) Size() int64 { return p.length }

func (p *partSource) Slice(ctx context.Context, start, end int64) (source.Slice, error) {
	if end > p.length {
		end = p.length
	}
	s, err := p.parent.Slice(ctx, p.base+start, p.base+end)
	if err != nil {
		return source.Slice{}, err
	}
	return source.Slice{Body: s.Body, Len: s.Len, Done: start+s.Len >= p.length}, nil
}

// Close is a no-op: the parent Source is closed once, by the parent Driver,
// not by each part.
func (p *partSource) Close() error { return nil }

// startParallel implements the parallel-upload engine (component G, spec
// §4.5): split the source into N ranges, drive N child Drivers concurrently
// as partial uploads, then concatenate them server-side.
func (d *Driver) startParallel(ctx context.Context) error {
	d.mu.Lock()
	d.state = stateOpening
	n := d.opts.ParallelUploads
	boundaries := d.opts.ParallelBoundaries
	endpoint := d.opts.Endpoint
	protocol := d.opts.Protocol
	retryDelays := d.opts.RetryDelays
	tr := d.opts.Transport
	metadata := d.opts.Metadata
	chunkSize := d.opts.ChunkSize
	overrideMethod := d.opts.OverridePatchMethod
	addReqID := d.opts.AddRequestID
	headers := d.opts.Headers
	d.mu.Unlock()

	d.ensureFingerprint(ctx)

	size := d.src.Size()
	if size == SizeUnknown {
		err := &ConfigurationError{Reason: "parallel uploads require a source with a known size"}
		d.emitError(err)
		return err
	}

	if len(boundaries) == 0 {
		boundaries = computeBoundaries(size, n)
	}

	d.mu.Lock()
	if d.parallel == nil {
		d.parallel = newParallelEngine(d, n)
	}
	pe := d.parallel
	d.mu.Unlock()

	d.mu.Lock()
	d.state = stateSending
	d.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		i := i
		b := boundaries[i]

		pe.mu.Lock()
		child := pe.children[i]
		priorURL := pe.urls[i]
		pe.mu.Unlock()

		if child == nil {
			partSrc := &partSource{parent: d.src, base: b.Start, length: b.End - b.Start}

			var childRef *Driver
			onProgress := func(sentPart, _ int64) {
				pe.mu.Lock()
				pe.sent[i] = sentPart
				total := int64(0)
				for _, s := range pe.sent {
					total += s
				}
				pe.mu.Unlock()
				d.emitProgress(total, size)
			}
			onURLAvailable := func() {
				pe.mu.Lock()
				pe.urls[i] = childRef.URL()
				allSet := true
				for _, u := range pe.urls {
					if u == "" {
						allSet = false
						break
					}
				}
				urls := append([]string(nil), pe.urls...)
				pe.mu.Unlock()
				if allSet {
					d.persist(ctx, store.Record{
						Size:               size,
						Metadata:           metadata,
						CreationTime:       time.Now().UTC().Format(time.RFC3339),
						ParallelUploadURLs: urls,
					})
				}
			}

			childOpts := []Option{
				WithEndpoint(endpoint),
				WithProtocol(protocol),
				WithTransport(tr),
				WithRetryDelays(retryDelays...),
				WithChunkSize(chunkSize),
				WithParallelUploads(1),
				WithStoreFingerprint(false),
				WithRemoveFingerprintOnSuccess(false),
				WithOverridePatchMethod(overrideMethod),
				WithRequestID(addReqID),
				WithHeaders(headers),
				withConcat("partial"),
				WithCallbacks(Callbacks{OnProgress: onProgress, OnUploadURLAvailable: onURLAvailable}),
			}
			if priorURL != "" {
				childOpts = append(childOpts, WithUploadURL(priorURL))
			} else {
				childOpts = append(childOpts, WithUploadSize(b.End-b.Start))
			}

			c, err := NewDriver(partSrc, childOpts...)
			if err != nil {
				d.emitError(err)
				return err
			}
			childRef = c
			pe.mu.Lock()
			pe.children[i] = c
			pe.mu.Unlock()
			child = c
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = child.Start(ctx)
		}()
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			d.emitError(err)
			return err
		}
	}

	if err := d.finalizeParallel(ctx, pe, endpoint, size); err != nil {
		d.emitError(err)
		return err
	}
	d.finish(ctx)
	return nil
}

// finalizeParallel issues the "final" concatenation POST (spec §4.5) once
// every part has finished uploading.
func (d *Driver) finalizeParallel(ctx context.Context, pe *parallelEngine, endpoint string, size int64) error {
	pe.mu.Lock()
	urls := append([]string(nil), pe.urls...)
	pe.mu.Unlock()

	req, err := d.newRequest(http.MethodPost, endpoint)
	if err != nil {
		return err
	}
	req.SetHeader(headerUploadConcat, "final;"+strings.Join(urls, " "))

	res, err := d.send(ctx, req, nil)
	if err != nil {
		return err
	}
	if err := checkStatus(req, res); err != nil {
		return err
	}

	loc := res.Header(headerLocation)
	if loc == "" {
		return &ProtocolError{reqres: reqres{req: req.Underlying(), res: res.Underlying()}, Reason: "missing Location header on concatenation response"}
	}
	resolved, err := resolveURL(endpoint, loc)
	if err != nil {
		return &ProtocolError{reqres: reqres{req: req.Underlying(), res: res.Underlying()}, Reason: "invalid Location header: " + err.Error()}
	}

	d.mu.Lock()
	d.url = resolved
	d.offset = size
	d.size = size
	d.mu.Unlock()
	d.emitURLAvailable()
	return nil
}
