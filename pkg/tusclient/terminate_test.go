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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h3knix/tusclient/pkg/tusclient"
)

func TestTerminateDeletesTheResource(t *testing.T) {
	server := newFakeServer("http://fake.example")
	src := newMemSource("a.bin", []byte("hello"))
	d, err := tusclient.NewDriver(src, tusclient.WithTransport(server), tusclient.WithEndpoint(server.createURL()))
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))

	err = tusclient.Terminate(context.Background(), server, d.URL(), tusclient.ProtocolV1, nil)
	assert.NoError(t, err)

	id := server.idFromURL(d.URL())
	assert.Nil(t, server.resources[id])
}

func TestTerminateReturnsHttpErrorForNotFound(t *testing.T) {
	server := newFakeServer("http://fake.example")
	err := tusclient.Terminate(context.Background(), server, server.base+"/files/never-existed", tusclient.ProtocolV1, nil)
	require.Error(t, err)
	var httpErr *tusclient.HttpError
	assert.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 404, httpErr.StatusCode)
}

func TestTerminateRetriesTransientFailures(t *testing.T) {
	server := newFakeServer("http://fake.example")
	src := newMemSource("a.bin", []byte("hello"))
	d, err := tusclient.NewDriver(src, tusclient.WithTransport(server), tusclient.WithEndpoint(server.createURL()))
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))

	server.failNextSends("DELETE", d.URL(), 1)

	err = tusclient.Terminate(context.Background(), server, d.URL(), tusclient.ProtocolV1, []time.Duration{time.Millisecond})
	assert.NoError(t, err)
}
