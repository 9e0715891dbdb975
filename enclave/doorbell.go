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
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when no doorbell slot frees up in time.
var ErrBusy = errors.New("enclave busy")

type depthKey struct{}

// Doorbell bounds the number of top level queries inside the enclave.
// Queries re-entering from a host callback run on the slot of the query
// that made the callback.
type Doorbell struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	metrics *metrics
}

// NewDoorbell returns a doorbell admitting slots concurrent queries and
// waiting at most timeout for a free slot.
func NewDoorbell(slots int, timeout time.Duration) *Doorbell {
	if slots <= 0 {
		slots = 1
	}
	return &Doorbell{sem: semaphore.NewWeighted(int64(slots)), timeout: timeout}
}

// Depth returns the query nesting depth recorded in ctx.
func Depth(ctx context.Context) int {
	depth, _ := ctx.Value(depthKey{}).(int)
	return depth
}

// Enter admits a query. The returned context records the nesting depth and
// must be passed to host callbacks so re-entrant queries skip the counter.
// The release function must be called once the query unwinds.
func (d *Doorbell) Enter(ctx context.Context) (context.Context, func(), error) {
	depth := Depth(ctx) + 1
	ctx = context.WithValue(ctx, depthKey{}, depth)
	if depth > 1 {
		return ctx, func() {}, nil
	}

	start := time.Now()
	wait, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.sem.Acquire(wait, 1); err != nil {
		if d.metrics != nil {
			d.metrics.busy.Inc()
		}
		return nil, nil, ErrBusy
	}
	if d.metrics != nil {
		d.metrics.doorbellWait.Observe(time.Since(start).Seconds())
		d.metrics.inFlight.Inc()
	}
	return ctx, func() {
		if d.metrics != nil {
			d.metrics.inFlight.Dec()
		}
		d.sem.Release(1)
	}, nil
}
