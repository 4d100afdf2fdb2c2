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
	"time"

	"github.com/h3knix/tusclient/pkg/tusclient/transport"
)

// Terminate implements the termination capability (component H, spec §4.6):
// a DELETE against the resource URL, retried against the same schedule the
// retry controller (component E) uses elsewhere. It never touches the
// URL-store; callers that want the persisted record removed too do that
// themselves (Driver.Abort does, right after this returns).
func Terminate(ctx context.Context, t transport.Transport, url string, protocol Protocol, retryDelays []time.Duration) error {
	bo := newFixedDelaysBackOff(retryDelays)
	d := &Driver{opts: Options{Transport: t, Protocol: protocol, RetryDelays: retryDelays}, abortCh: make(chan struct{})}

	for {
		req, err := d.newRequest(http.MethodDelete, url)
		if err != nil {
			return err
		}
		res, err := d.send(ctx, req, nil)
		if err == nil {
			if res.StatusCode() == http.StatusNoContent {
				return nil
			}
			err = checkStatus(req, res)
			if err == nil {
				// any status other than 204, 2xx included, is not a successful termination.
				err = &HttpError{reqres: reqres{req: req.Underlying(), res: res.Underlying()}, StatusCode: res.StatusCode(), Body: res.Body()}
			}
		}

		retry, delay := d.shouldRetry(err, bo)
		if !retry {
			return err
		}
		if werr := d.waitRetry(ctx, delay); werr != nil {
			return werr
		}
	}
}
