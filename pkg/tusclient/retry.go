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
	"time"

	"github.com/cenkalti/backoff"
)

// fixedDelaysBackOff realizes spec.md's explicit retryDelays schedule as a
// cenkalti/backoff.BackOff, the interface reva's pkg/events/stream uses
// around backoff.NewExponentialBackOff(). A real schedule here is a fixed
// list rather than an exponential curve, so NextBackOff walks the list and
// returns backoff.Stop once exhausted.
type fixedDelaysBackOff struct {
	delays []time.Duration
	next   int
}

func newFixedDelaysBackOff(delays []time.Duration) *fixedDelaysBackOff {
	return &fixedDelaysBackOff{delays: delays}
}

// NextBackOff implements backoff.BackOff.
func (b *fixedDelaysBackOff) NextBackOff() time.Duration {
	if b.next >= len(b.delays) {
		return backoff.Stop
	}
	d := b.delays[b.next]
	b.next++
	return d
}

// Reset implements backoff.BackOff, replenishing the full schedule — used
// when a chunk makes progress between retries (spec §4.2).
func (b *fixedDelaysBackOff) Reset() { b.next = 0 }

// attempt reports how many delays have already been consumed, i.e. the
// UploadState.retryAttempt spec §3 tracks.
func (b *fixedDelaysBackOff) attempt() int { return b.next }

// shouldRetry implements the retry controller (component E, spec §4.2).
// When it allows a retry it consumes one delay from b; it never resets b,
// callers do that themselves when progress was made, per the "before
// deciding" rule. A SizeMismatchError is never retried.
func (d *Driver) shouldRetry(err error, b *fixedDelaysBackOff) (bool, time.Duration) {
	if len(d.opts.RetryDelays) == 0 || b.attempt() >= len(d.opts.RetryDelays) {
		return false, 0
	}
	var sizeErr *SizeMismatchError
	if errors.As(err, &sizeErr) {
		return false, 0
	}
	if originalRequestOf(err) == nil {
		// no associated request: a programming/logic error, not an I/O error.
		return false, 0
	}
	if cb := d.opts.Callbacks.OnShouldRetry; cb != nil {
		if !cb(err, b.attempt(), &d.opts) {
			return false, 0
		}
	} else if !defaultShouldRetry(err) {
		return false, 0
	}
	delay := b.NextBackOff()
	if delay == backoff.Stop {
		return false, 0
	}
	return true, delay
}

// defaultShouldRetry implements spec §4.2 step 4: retriable unless the
// response is 4xx outside {409, 423}, and the network is reachable where
// that's detectable (it always is here — this process has no offline
// detector, so it always reports online, matching "always true where not
// detectable").
func defaultShouldRetry(err error) bool {
	var httpErr *HttpError
	if errors.As(err, &httpErr) {
		return httpErr.Retriable()
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	return false
}

// waitRetry sleeps for delay, returning early with an error if ctx is
// canceled or the driver is aborted — the cancelable, abort-aware timer
// spec §9 requires.
func (d *Driver) waitRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	d.mu.Lock()
	d.retryTimer = timer
	d.mu.Unlock()
	defer func() {
		timer.Stop()
		d.mu.Lock()
		d.retryTimer = nil
		d.mu.Unlock()
	}()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.abortSignal():
		return errAborted
	}
}

var errAborted = errors.New("tusclient: aborted")
