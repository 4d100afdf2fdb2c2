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

// Package metrics collects Prometheus counters for the upload driver, the
// way reva's HTTP interceptors declare package-level collectors and register
// them explicitly rather than through a wrapping helper.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RequestsTotal counts every dispatched request by method and outcome
	// (either the HTTP status line, or "error" for a transport failure).
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tusclient",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests dispatched by the upload driver.",
	}, []string{"method", "outcome"})

	// RequestsInFlight tracks requests currently awaiting a response.
	RequestsInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tusclient",
		Name:      "requests_in_flight",
		Help:      "Number of upload driver HTTP requests currently in flight.",
	}, []string{"method"})

	// RetriesTotal counts every retry the retry controller schedules, by
	// the reason the retry was allowed (error kind).
	RetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tusclient",
		Name:      "retries_total",
		Help:      "Total number of retries scheduled by the upload driver.",
	}, []string{"reason"})

	// BytesSent counts payload bytes accepted by the server across all
	// chunk-complete events, per logical upload fingerprint bucket
	// ("known"/"anonymous" to avoid unbounded label cardinality).
	BytesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tusclient",
		Name:      "bytes_sent_total",
		Help:      "Total payload bytes acknowledged by the server.",
	}, []string{"fingerprinted"})
)

func init() {
	prometheus.MustRegister(RequestsTotal, RequestsInFlight, RetriesTotal, BytesSent)
}
