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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/h3knix/tusclient/pkg/tusclient"
	"github.com/h3knix/tusclient/pkg/tusclient/store/memory"
)

var _ = Describe("Driver", func() {
	var (
		server *fakeServer
		ctx    context.Context
	)

	BeforeEach(func() {
		server = newFakeServer("http://fake.example")
		ctx = context.Background()
	})

	Context("a single upload that fits in one chunk", func() {
		It("creates the resource and completes in one request", func() {
			var succeeded bool
			var sawURL string

			src := newMemSource("a.bin", []byte("hello world"))
			d, err := tusclient.NewDriver(src,
				tusclient.WithTransport(server),
				tusclient.WithEndpoint(server.createURL()),
				tusclient.WithCallbacks(tusclient.Callbacks{
					OnSuccess:            func() { succeeded = true },
					OnUploadURLAvailable: func() {},
				}),
			)
			Expect(err).NotTo(HaveOccurred())

			Expect(d.Start(ctx)).To(Succeed())
			Expect(succeeded).To(BeTrue())
			Expect(d.Offset()).To(Equal(int64(11)))
			Expect(d.Size()).To(Equal(int64(11)))
			sawURL = d.URL()
			Expect(sawURL).To(ContainSubstring("/files/"))
		})
	})

	Context("a chunked upload", func() {
		It("sends one PATCH per chunk until the offset reaches the size", func() {
			var chunks int
			src := newMemSource("a.bin", []byte("0123456789"))
			d, err := tusclient.NewDriver(src,
				tusclient.WithTransport(server),
				tusclient.WithEndpoint(server.createURL()),
				tusclient.WithChunkSize(3),
				tusclient.WithCallbacks(tusclient.Callbacks{
					OnChunkComplete: func(chunkSize, accepted, total int64) { chunks++ },
				}),
			)
			Expect(err).NotTo(HaveOccurred())

			Expect(d.Start(ctx)).To(Succeed())
			Expect(d.Offset()).To(Equal(int64(10)))
			Expect(chunks).To(Equal(4)) // 3+3+3+1
		})
	})

	Context("retry behavior", func() {
		It("retries a transient transport failure and still completes", func() {
			src := newMemSource("a.bin", []byte("retry me"))
			d, err := tusclient.NewDriver(src,
				tusclient.WithTransport(server),
				tusclient.WithEndpoint(server.createURL()),
				tusclient.WithRetryDelays(time.Millisecond, time.Millisecond),
			)
			Expect(err).NotTo(HaveOccurred())

			// fail the creation POST once; the driver should retry and succeed.
			server.failNextSends("POST", server.createURL(), 1)

			Expect(d.Start(ctx)).To(Succeed())
			Expect(d.Offset()).To(Equal(int64(8)))
		})

		It("gives up once the retry schedule is exhausted", func() {
			src := newMemSource("a.bin", []byte("never works"))
			d, err := tusclient.NewDriver(src,
				tusclient.WithTransport(server),
				tusclient.WithEndpoint(server.createURL()),
				tusclient.WithRetryDelays(time.Millisecond),
			)
			Expect(err).NotTo(HaveOccurred())

			server.failNextSends("POST", server.createURL(), 5)

			err = d.Start(ctx)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("deferred-length uploads", func() {
		It("announces the total size only on the final chunk", func() {
			src := &deferredSource{data: []byte("defer this please")}
			d, err := tusclient.NewDriver(src,
				tusclient.WithTransport(server),
				tusclient.WithEndpoint(server.createURL()),
				tusclient.WithUploadLengthDeferred(true),
				tusclient.WithChunkSize(6),
			)
			Expect(err).NotTo(HaveOccurred())

			Expect(d.Start(ctx)).To(Succeed())
			Expect(d.Size()).To(Equal(int64(len(src.data))))
			Expect(d.Offset()).To(Equal(d.Size()))
		})
	})

	Context("resuming across a process restart", func() {
		It("persists the upload URL and resumes from the stored offset", func() {
			st := memory.New(0)
			src := newMemSource("a.bin", []byte("0123456789"))

			first, err := tusclient.NewDriver(src,
				tusclient.WithTransport(server),
				tusclient.WithEndpoint(server.createURL()),
				tusclient.WithChunkSize(4),
				tusclient.WithStore(st),
				tusclient.WithStoreFingerprint(true),
			)
			Expect(err).NotTo(HaveOccurred())

			Expect(first.Start(ctx)).To(Succeed())
			uploadedURL := first.URL()
			Expect(uploadedURL).NotTo(BeEmpty())

			entries, err := st.FindAllUploads(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Record.UploadURL).To(Equal(uploadedURL))

			second, err := tusclient.NewDriver(newMemSource("a.bin", []byte("0123456789")),
				tusclient.WithTransport(server),
				tusclient.WithEndpoint(server.createURL()),
				tusclient.WithStore(st),
				tusclient.WithStoreFingerprint(true),
			)
			Expect(err).NotTo(HaveOccurred())
			second.ResumeFromPreviousUpload(entries[0])

			Expect(second.Start(ctx)).To(Succeed())
			Expect(second.Offset()).To(Equal(int64(10)))
			Expect(second.URL()).To(Equal(uploadedURL))
		})
	})

	Context("aborting before the upload starts", func() {
		It("succeeds and is idempotent", func() {
			src := newMemSource("a.bin", []byte("abortable content here"))
			d, err := tusclient.NewDriver(src,
				tusclient.WithTransport(server),
				tusclient.WithEndpoint(server.createURL()),
				tusclient.WithChunkSize(4),
			)
			Expect(err).NotTo(HaveOccurred())

			Expect(d.Abort(ctx, false)).To(Succeed())
			Expect(d.Abort(ctx, false)).To(Succeed())
		})
	})
})
