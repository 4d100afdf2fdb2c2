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
	"encoding/base64"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/h3knix/tusclient/pkg/appctx"
	"github.com/h3knix/tusclient/pkg/tusclient/metrics"
	"github.com/h3knix/tusclient/pkg/tusclient/transport"
)

const (
	headerTusResumable   = "Tus-Resumable"
	headerDraftVersion   = "Upload-Draft-Interop-Version"
	headerUploadLength   = "Upload-Length"
	headerDeferLength    = "Upload-Defer-Length"
	headerUploadOffset   = "Upload-Offset"
	headerUploadMetadata = "Upload-Metadata"
	headerUploadConcat   = "Upload-Concat"
	headerUploadComplete = "Upload-Complete"
	headerContentType    = "Content-Type"
	headerMethodOverride = "X-HTTP-Method-Override"
	headerRequestID      = "X-Request-ID"
	headerLocation       = "Location"

	contentTypeOffsetOctetStream = "application/offset+octet-stream"
)

// protocolHeader returns the protocol-version header spec §4.1 mandates
// first, before any other header.
func protocolHeader(p Protocol) (string, string) {
	if p == ProtocolDraft {
		return headerDraftVersion, "5"
	}
	return headerTusResumable, "1.0.0"
}

// newRequest implements the request builder (component D, spec §4.1):
// protocol header, then user headers, then an optional X-Request-ID.
func (d *Driver) newRequest(method, url string) (transport.Request, error) {
	req, err := d.opts.Transport.NewRequest(method, url)
	if err != nil {
		return nil, &TransportError{Cause: err}
	}
	key, value := protocolHeader(d.opts.Protocol)
	req.SetHeader(key, value)
	for k, v := range d.opts.Headers {
		req.SetHeader(k, v)
	}
	if d.opts.AddRequestID {
		req.SetHeader(headerRequestID, uuid.NewString())
	}
	return req, nil
}

// encodeMetadata renders spec §6's Upload-Metadata header: comma-separated
// "<key> <base64(value)>" pairs, key order is stabilized (not mandated by
// the protocol, but it makes round-trip tests and request logs
// deterministic). Returns "" when metadata is empty, so callers can omit
// the header entirely as spec §4.4 requires.
func encodeMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+" "+base64.StdEncoding.EncodeToString([]byte(metadata[k])))
	}
	return strings.Join(pairs, ",")
}

// decodeMetadata is encodeMetadata's inverse, used by tests to check the
// round-trip law in spec §8.
func decodeMetadata(header string) (map[string]string, error) {
	if header == "" {
		return map[string]string{}, nil
	}
	out := map[string]string{}
	for _, pair := range strings.Split(header, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), " ", 2)
		key := parts[0]
		value := ""
		if len(parts) == 2 {
			decoded, err := base64.StdEncoding.DecodeString(parts[1])
			if err != nil {
				return nil, &ProtocolError{Reason: "malformed Upload-Metadata value for key " + key}
			}
			value = string(decoded)
		}
		out[key] = value
	}
	return out, nil
}

// send wraps a request's dispatch with the before-send/after-receive
// hooks spec §4.1 installs, awaiting both (they may be asynchronous on the
// host side; from the driver's perspective they're just blocking calls).
func (d *Driver) send(ctx context.Context, req transport.Request, body io.Reader) (transport.Response, error) {
	if cb := d.opts.Callbacks.OnBeforeRequest; cb != nil {
		if err := cb(ctx, req); err != nil {
			return nil, &TransportError{Cause: err}
		}
	}

	d.mu.Lock()
	d.activeReq = req
	d.mu.Unlock()
	log := appctx.GetLogger(ctx)
	log.Debug().Str("method", req.Method()).Str("url", req.URL()).Msg("tusclient: sending request")
	res, err := req.Send(ctx, body)
	d.mu.Lock()
	d.activeReq = nil
	d.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("method", req.Method()).Str("url", req.URL()).Msg("tusclient: request failed")
		return nil, &TransportError{reqres: reqres{req: req.Underlying()}, Cause: err}
	}
	log.Debug().Int("status", res.StatusCode()).Msg("tusclient: received response")

	if cb := d.opts.Callbacks.OnAfterResponse; cb != nil {
		if herr := cb(ctx, req, res); herr != nil {
			return res, &TransportError{reqres: reqres{req: req.Underlying(), res: res.Underlying()}, Cause: herr}
		}
	}
	return res, nil
}

// checkStatus turns a non-2xx response into an HttpError.
func checkStatus(req transport.Request, res transport.Response) error {
	if res.StatusCode() < 200 || res.StatusCode() >= 300 {
		return &HttpError{
			reqres:     reqres{req: req.Underlying(), res: res.Underlying()},
			StatusCode: res.StatusCode(),
			Body:       res.Body(),
		}
	}
	return nil
}

// parseOffset parses the required Upload-Offset response header.
func parseOffset(req transport.Request, res transport.Response) (int64, error) {
	raw := res.Header(headerUploadOffset)
	if raw == "" {
		return 0, &ProtocolError{reqres: reqres{req: req.Underlying(), res: res.Underlying()}, Reason: "missing Upload-Offset header"}
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &ProtocolError{reqres: reqres{req: req.Underlying(), res: res.Underlying()}, Reason: "non-numeric Upload-Offset header"}
	}
	return n, nil
}

func recordRequestOutcome(fingerprinted bool, n int64) {
	label := "anonymous"
	if fingerprinted {
		label = "known"
	}
	metrics.BytesSent.WithLabelValues(label).Add(float64(n))
}
