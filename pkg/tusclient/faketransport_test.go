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

package tusclient_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/h3knix/tusclient/pkg/tusclient/source"
	"github.com/h3knix/tusclient/pkg/tusclient/transport"
)

// memResource is one resource a fakeServer tracks: enough state to behave
// like a real tus server for the driver's purposes.
type memResource struct {
	offset   int64
	size     int64
	deferred bool
	data     []byte
}

// fakeServer is an in-process stand-in for a resumable-upload server,
// exercising the driver against the transport.Transport interface without a
// real network round trip.
type fakeServer struct {
	mu        sync.Mutex
	base      string
	resources map[string]*memResource
	nextID    int
	inject    map[string]int
}

func newFakeServer(base string) *fakeServer {
	return &fakeServer{base: base, resources: map[string]*memResource{}}
}

// failNextSends makes the next n requests to method+url fail with a
// transport-level error, for exercising the retry controller.
func (s *fakeServer) failNextSends(method, url string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inject == nil {
		s.inject = map[string]int{}
	}
	s.inject[method+" "+url] = n
}

func (s *fakeServer) createURL() string { return s.base + "/files" }

func (s *fakeServer) NewRequest(method, url string) (transport.Request, error) {
	return &fakeRequest{method: method, url: url, headers: map[string]string{}, server: s}, nil
}

type fakeRequest struct {
	method  string
	url     string
	headers map[string]string
	server  *fakeServer
	aborted bool
}

func (r *fakeRequest) Method() string                          { return r.method }
func (r *fakeRequest) URL() string                             { return r.url }
func (r *fakeRequest) SetHeader(key, value string)              { r.headers[key] = value }
func (r *fakeRequest) Header(key string) string                 { return r.headers[key] }
func (r *fakeRequest) SetProgressHandler(transport.ProgressFunc) {}
func (r *fakeRequest) Abort()                                    { r.aborted = true }
func (r *fakeRequest) Underlying() *http.Request {
	req, _ := http.NewRequest(r.method, r.url, nil)
	return req
}

func (r *fakeRequest) Send(_ context.Context, body io.Reader) (transport.Response, error) {
	var data []byte
	if body != nil {
		var err error
		data, err = io.ReadAll(body)
		if err != nil {
			return nil, err
		}
	}
	return r.server.handle(r, data)
}

type fakeResponse struct {
	status  int
	headers map[string]string
	body    string
}

func (r *fakeResponse) StatusCode() int            { return r.status }
func (r *fakeResponse) Header(key string) string   { return r.headers[key] }
func (r *fakeResponse) Body() string                { return r.body }
func (r *fakeResponse) Underlying() *http.Response  { return nil }

func (s *fakeServer) handle(req *fakeRequest, body []byte) (transport.Response, error) {
	s.mu.Lock()
	key := req.method + " " + req.url
	if n := s.inject[key]; n > 0 {
		s.inject[key] = n - 1
		s.mu.Unlock()
		return nil, fmt.Errorf("fake: injected transport failure")
	}
	s.mu.Unlock()

	method := req.method
	if method == http.MethodPost && req.headers["X-HTTP-Method-Override"] == http.MethodPatch {
		method = http.MethodPatch
	}

	switch {
	case method == http.MethodPost && req.url == s.createURL():
		return s.handleCreate(req, body)
	case method == http.MethodHead:
		return s.handleHead(req)
	case method == http.MethodPatch:
		return s.handlePatch(req, body)
	case method == http.MethodDelete:
		return s.handleDelete(req)
	default:
		return &fakeResponse{status: http.StatusNotFound}, nil
	}
}

func (s *fakeServer) handleCreate(req *fakeRequest, body []byte) (transport.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if concat := req.headers["Upload-Concat"]; strings.HasPrefix(concat, "final;") {
		urls := strings.Fields(strings.TrimPrefix(concat, "final;"))
		var final []byte
		for _, u := range urls {
			id := s.idFromURL(u)
			r, ok := s.resources[id]
			if !ok {
				return &fakeResponse{status: http.StatusNotFound}, nil
			}
			final = append(final, r.data...)
		}
		id := s.allocID()
		s.resources[id] = &memResource{offset: int64(len(final)), size: int64(len(final)), data: final}
		return &fakeResponse{status: http.StatusCreated, headers: map[string]string{"Location": s.base + "/files/" + id}}, nil
	}

	id := s.allocID()
	r := &memResource{}
	if defer_ := req.headers["Upload-Defer-Length"]; defer_ == "1" {
		r.deferred = true
		r.size = source.SizeUnknown
	} else if lenHeader := req.headers["Upload-Length"]; lenHeader != "" {
		n, _ := strconv.ParseInt(lenHeader, 10, 64)
		r.size = n
	}
	s.resources[id] = r

	headers := map[string]string{"Location": s.base + "/files/" + id}
	if len(body) > 0 {
		r.data = append(r.data, body...)
		r.offset = int64(len(r.data))
		headers["Upload-Offset"] = strconv.FormatInt(r.offset, 10)
	}
	return &fakeResponse{status: http.StatusCreated, headers: headers}, nil
}

func (s *fakeServer) handleHead(req *fakeRequest) (transport.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[s.idFromURL(req.url)]
	if !ok {
		return &fakeResponse{status: http.StatusNotFound}, nil
	}
	headers := map[string]string{"Upload-Offset": strconv.FormatInt(r.offset, 10)}
	if !r.deferred {
		headers["Upload-Length"] = strconv.FormatInt(r.size, 10)
	}
	return &fakeResponse{status: http.StatusOK, headers: headers}, nil
}

func (s *fakeServer) handlePatch(req *fakeRequest, body []byte) (transport.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[s.idFromURL(req.url)]
	if !ok {
		return &fakeResponse{status: http.StatusNotFound}, nil
	}
	offset, _ := strconv.ParseInt(req.headers["Upload-Offset"], 10, 64)
	if offset != r.offset {
		return &fakeResponse{status: http.StatusConflict}, nil
	}
	r.data = append(r.data, body...)
	r.offset += int64(len(body))
	if r.deferred {
		if lenHeader := req.headers["Upload-Length"]; lenHeader != "" {
			n, _ := strconv.ParseInt(lenHeader, 10, 64)
			r.size = n
			r.deferred = false
		}
	}
	return &fakeResponse{status: http.StatusNoContent, headers: map[string]string{"Upload-Offset": strconv.FormatInt(r.offset, 10)}}, nil
}

func (s *fakeServer) handleDelete(req *fakeRequest) (transport.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.idFromURL(req.url)
	if _, ok := s.resources[id]; !ok {
		return &fakeResponse{status: http.StatusNotFound}, nil
	}
	delete(s.resources, id)
	return &fakeResponse{status: http.StatusNoContent}, nil
}

func (s *fakeServer) allocID() string {
	s.nextID++
	return strconv.Itoa(s.nextID)
}

func (s *fakeServer) idFromURL(url string) string {
	i := strings.LastIndex(url, "/")
	return url[i+1:]
}

// memSource is a fixed in-memory byte source for driver specs, implementing
// source.Source and source.Identity without touching the filesystem.
type memSource struct {
	name   string
	data   []byte
	closed bool
}

func newMemSource(name string, data []byte) *memSource {
	return &memSource{name: name, data: data}
}

func (s *memSource) Size() int64 { return int64(len(s.data)) }

func (s *memSource) Slice(_ context.Context, start, end int64) (source.Slice, error) {
	if end > int64(len(s.data)) {
		end = int64(len(s.data))
	}
	if start > end {
		start = end
	}
	return source.Slice{Body: strings.NewReader(string(s.data[start:end])), Len: end - start, Done: end == int64(len(s.data))}, nil
}

func (s *memSource) Close() error { s.closed = true; return nil }

func (s *memSource) Identify() (string, int64, time.Time, bool) {
	return s.name, int64(len(s.data)), time.Time{}, true
}

// deferredSource behaves like memSource but reports SizeUnknown, for
// exercising uploadLengthDeferred.
type deferredSource struct {
	data   []byte
	closed bool
}

func (s *deferredSource) Size() int64 { return source.SizeUnknown }

func (s *deferredSource) Slice(_ context.Context, start, end int64) (source.Slice, error) {
	if end > int64(len(s.data)) {
		end = int64(len(s.data))
	}
	if start > end {
		start = end
	}
	return source.Slice{Body: strings.NewReader(string(s.data[start:end])), Len: end - start, Done: end == int64(len(s.data))}, nil
}

func (s *deferredSource) Close() error { s.closed = true; return nil }
