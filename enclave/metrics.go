// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package enclave

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "swtr_enclave"

// metrics holds the router collectors.
type metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	doorbellWait    prometheus.Histogram
	busy            prometheus.Counter
	inFlight        prometheus.Gauge
	provisioning    *prometheus.CounterVec
	gasUsed         prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "requests_total",
				Help:      "Requests handled by type and status",
			},
			[]string{"kind", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "request_duration_seconds",
				Help:      "Time spent handling a request",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"kind"},
		),
		doorbellWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "doorbell",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a doorbell slot",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		busy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "doorbell",
			Name:      "busy_total",
			Help:      "Queries rejected after the doorbell timeout",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "doorbell",
			Name:      "in_flight",
			Help:      "Top level queries currently inside the enclave",
		}),
		provisioning: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provisioning",
				Name:      "sessions_total",
				Help:      "Master key provisioning sessions by role and result",
			},
			[]string{"role", "result"},
		),
		gasUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evm",
			Name:      "gas_used",
			Help:      "Gas used per executed transaction",
			Buckets:   prometheus.ExponentialBuckets(21000, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.requestDuration, m.doorbellWait, m.busy, m.inFlight, m.provisioning, m.gasUsed)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
