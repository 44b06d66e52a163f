// Copyright 2025 Google LLC
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

// Package telemetry counts and times VFS operations via OpenTelemetry, the
// way a mount daemon's operator dashboard needs: calls per operation,
// latency distributions, and error counts broken out by operation name.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// defaultLatencyBuckets mirrors the wide, log-ish spread a mixed
// metadata/data-path workload needs (bounds from 1 ms to 10 s; faster
// operations land in the lowest bucket).
var defaultLatencyBuckets = metric.WithExplicitBucketBoundaries(
	1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100,
	130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000, 10000,
)

// OpHandle records one VFS operation's outcome and latency.
type OpHandle interface {
	OpsCount(ctx context.Context, op string, inc int64)
	OpsLatency(ctx context.Context, op string, latency time.Duration)
	OpsErrorCount(ctx context.Context, op string, inc int64)
}

// NewOtel builds an OpHandle backed by the global otel.Meter, registered
// under meterName (typically "glidixfsd").
func NewOtel(meterName string) (OpHandle, error) {
	meter := otel.Meter(meterName)

	count, err := meter.Int64Counter("vfs.ops.count", metric.WithDescription("Number of VFS operations"))
	if err != nil {
		return nil, err
	}
	errCount, err := meter.Int64Counter("vfs.ops.errors", metric.WithDescription("Number of failed VFS operations"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("vfs.ops.latency",
		metric.WithDescription("VFS operation latency in milliseconds"),
		metric.WithUnit("ms"),
		defaultLatencyBuckets)
	if err != nil {
		return nil, err
	}

	return &otelHandle{count: count, errCount: errCount, latency: latency}, nil
}

type otelHandle struct {
	count    metric.Int64Counter
	errCount metric.Int64Counter
	latency  metric.Float64Histogram
}

func (h *otelHandle) OpsCount(ctx context.Context, op string, inc int64) {
	h.count.Add(ctx, inc, metric.WithAttributes(attribute.String("fs_op", op)))
}

func (h *otelHandle) OpsErrorCount(ctx context.Context, op string, inc int64) {
	h.errCount.Add(ctx, inc, metric.WithAttributes(attribute.String("fs_op", op)))
}

func (h *otelHandle) OpsLatency(ctx context.Context, op string, latency time.Duration) {
	h.latency.Record(ctx, float64(latency.Microseconds())/1000, metric.WithAttributes(attribute.String("fs_op", op)))
}

// NewNoop returns an OpHandle that records nothing; glidixfsd's serve uses
// it when metrics are disabled.
func NewNoop() OpHandle { return noopHandle{} }

type noopHandle struct{}

func (noopHandle) OpsCount(context.Context, string, int64)            {}
func (noopHandle) OpsErrorCount(context.Context, string, int64)       {}
func (noopHandle) OpsLatency(context.Context, string, time.Duration) {}

// Track times fn and records its outcome under op, returning fn's error.
func Track(ctx context.Context, h OpHandle, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	h.OpsLatency(ctx, op, time.Since(start))
	h.OpsCount(ctx, op, 1)
	if err != nil {
		h.OpsErrorCount(ctx, op, 1)
	}
	return err
}
