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

package transport

import (
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"context"

	"github.com/h3knix/tusclient/pkg/tusclient/metrics"
)

// Option configures an HTTPTransport. Modeled on reva's
// rhttp.GetHTTPClient(rhttp.Context(ctx), rhttp.Timeout(d), rhttp.Insecure(b))
// functional-options constructor.
type Option func(*options)

type options struct {
	timeout    time.Duration
	insecure   bool
	underlying *http.Client
}

// WithTimeout bounds every request's round trip.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithInsecureSkipVerify disables TLS certificate verification. Intended
// for talking to test servers; never enable against a real endpoint.
func WithInsecureSkipVerify(insecure bool) Option {
	return func(o *options) { o.insecure = insecure }
}

// WithHTTPClient overrides the underlying *http.Client entirely, bypassing
// WithTimeout/WithInsecureSkipVerify.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.underlying = c }
}

// HTTPTransport is the reference Transport backed by net/http.
type HTTPTransport struct {
	client *http.Client
}

// New builds an HTTPTransport, applying opts in order.
func New(opts ...Option) *HTTPTransport {
	o := &options{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(o)
	}
	if o.underlying != nil {
		return &HTTPTransport{client: o.underlying}
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if o.insecure {
		if tr.TLSClientConfig == nil {
			tr.TLSClientConfig = &tls.Config{} //nolint:gosec // explicit opt-in via WithInsecureSkipVerify
		}
		tr.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec
	}
	return &HTTPTransport{client: &http.Client{Timeout: o.timeout, Transport: tr}}
}

// NewRequest implements Transport.
func (t *HTTPTransport) NewRequest(method, url string) (Request, error) {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}
	return &httpRequest{client: t.client, req: req}, nil
}

type httpRequest struct {
	client   *http.Client
	req      *http.Request
	progress ProgressFunc
	cancel   context.CancelFunc
}

func (r *httpRequest) Method() string { return r.req.Method }
func (r *httpRequest) URL() string    { return r.req.URL.String() }

func (r *httpRequest) SetHeader(key, value string) { r.req.Header.Set(key, value) }
func (r *httpRequest) Header(key string) string    { return r.req.Header.Get(key) }

func (r *httpRequest) SetProgressHandler(fn ProgressFunc) { r.progress = fn }

func (r *httpRequest) Send(ctx context.Context, body io.Reader) (Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	defer cancel()

	req := r.req.WithContext(ctx)
	if body != nil {
		req.Body = io.NopCloser(&progressReader{r: body, onRead: r.progress})
	}

	metrics.RequestsInFlight.WithLabelValues(req.Method).Inc()
	defer metrics.RequestsInFlight.WithLabelValues(req.Method).Dec()

	res, err := r.client.Do(req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(req.Method, "error").Inc()
		return nil, err
	}
	defer res.Body.Close()

	buf, err := io.ReadAll(res.Body)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(req.Method, "error").Inc()
		return nil, err
	}
	metrics.RequestsTotal.WithLabelValues(req.Method, res.Status).Inc()

	return &httpResponse{res: res, body: string(buf)}, nil
}

func (r *httpRequest) Abort() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *httpRequest) Underlying() *http.Request { return r.req }

type httpResponse struct {
	res  *http.Response
	body string
}

func (r *httpResponse) StatusCode() int            { return r.res.StatusCode }
func (r *httpResponse) Header(key string) string   { return r.res.Header.Get(key) }
func (r *httpResponse) Body() string               { return r.body }
func (r *httpResponse) Underlying() *http.Response { return r.res }

// progressReader reports cumulative bytes read to onRead, if set, matching
// spec §4.4's "install a progress handler that reports start+bytesSent".
type progressReader struct {
	r      io.Reader
	read   int64
	onRead ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		if p.onRead != nil {
			p.onRead(p.read)
		}
	}
	return n, err
}
