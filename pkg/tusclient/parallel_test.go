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

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/h3knix/tusclient/pkg/tusclient"
)

var _ = Describe("Parallel uploads", func() {
	It("splits the source into parts and concatenates them server-side", func() {
		server := newFakeServer("http://fake.example")
		data := []byte("abcdefghij")
		src := newMemSource("a.bin", data)

		d, err := tusclient.NewDriver(src,
			tusclient.WithTransport(server),
			tusclient.WithEndpoint(server.createURL()),
			tusclient.WithParallelUploads(2),
		)
		Expect(err).NotTo(HaveOccurred())

		Expect(d.Start(context.Background())).To(Succeed())
		Expect(d.Offset()).To(Equal(int64(len(data))))
		Expect(d.Size()).To(Equal(int64(len(data))))

		finalID := server.idFromURL(d.URL())
		Expect(server.resources[finalID].data).To(Equal(data))
	})

	It("rejects parallelUploads>1 together with an explicit upload URL", func() {
		server := newFakeServer("http://fake.example")
		src := newMemSource("a.bin", []byte("x"))
		_, err := tusclient.NewDriver(src,
			tusclient.WithTransport(server),
			tusclient.WithUploadURL("http://fake.example/files/1"),
			tusclient.WithParallelUploads(2),
		)
		Expect(err).To(HaveOccurred())
		var cfgErr *tusclient.ConfigurationError
		Expect(err).To(BeAssignableToTypeOf(cfgErr))
	})
})
