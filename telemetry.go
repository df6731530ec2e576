package gocbmcx

import (
	"context"
	"net"
	"time"

	"github.com/couchbase/gocbmcx/contrib/atomiccowcache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

type clientTelem struct {
	tracer        trace.Tracer
	meterProvider metric.MeterProvider

	localHost  string
	localPort  int
	remoteHost string
	remotePort int

	durationMetric metric.Float64Histogram
	attribsCache   *atomiccowcache.Cache[string, attribute.Set]
}

func newClientTelem(
	tracerProvider trace.TracerProvider,
	meterProvider metric.MeterProvider,
	localAddr net.Addr,
	remoteAddr net.Addr,
) *clientTelem {
	localHost, localPort := hostPortFromNetAddr(localAddr)
	remoteHost, remotePort := hostPortFromNetAddr(remoteAddr)

	opTracer := tracer
	if tracerProvider != nil {
		opTracer = tracerProvider.Tracer(instrumentationName,
			trace.WithInstrumentationVersion(buildVersion))
	}

	opMeter := meter
	if meterProvider != nil {
		opMeter = meterProvider.Meter(instrumentationName,
			metric.WithInstrumentationVersion(buildVersion))
	}

	durationMetric, _ := opMeter.Float64Histogram("db.client.operation.duration",
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10))

	attribsCache := atomiccowcache.NewCache(
		func(opName string) attribute.Set {
			return attribute.NewSet(
				semconv.DBSystemMemcached,
				semconv.ServerAddress(remoteHost),
				semconv.ServerPort(remotePort),
				semconv.NetworkPeerAddress(localHost),
				semconv.NetworkPeerPort(localPort),
				semconv.DBOperationName(opName),
			)
		})

	return &clientTelem{
		tracer:         opTracer,
		meterProvider:  meterProvider,
		localHost:      localHost,
		localPort:      localPort,
		remoteHost:     remoteHost,
		remotePort:     remotePort,
		durationMetric: durationMetric,
		attribsCache:   attribsCache,
	}
}

func (k *clientTelem) metricsEnabled() bool {
	provider := k.meterProvider
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	switch provider.(type) {
	case metricnoop.MeterProvider, *metricnoop.MeterProvider:
		return false
	}
	return true
}

type clientTelemOp struct {
	parent *clientTelem

	startTime time.Time
	opName    string
	span      trace.Span
}

func (k *clientTelem) BeginOp(ctx context.Context, opName string) (context.Context, *clientTelemOp) {
	startTime := time.Now()

	ctx, span := k.tracer.Start(ctx, "memcached/"+opName,
		trace.WithSpanKind(trace.SpanKindClient))
	if span.IsRecording() {
		span.SetAttributes(
			semconv.ServerAddress(k.remoteHost),
			semconv.ServerPort(k.remotePort),
			semconv.NetworkPeerAddress(k.localHost),
			semconv.NetworkPeerPort(k.localPort),
			semconv.RPCMethod(opName),
			semconv.RPCSystemKey.String("memcached"))
	}

	return ctx, &clientTelemOp{
		parent:    k,
		startTime: startTime,
		opName:    opName,
		span:      span,
	}
}

func (k *clientTelemOp) MarkSent() {
	k.span.AddEvent("SENT")
}

func (k *clientTelemOp) MarkReceived() {
	k.span.AddEvent("RECEIVED")
}

func (k *clientTelemOp) recordDurationMetric(ctx context.Context, d time.Duration) {
	if !k.parent.metricsEnabled() {
		return
	}

	attribs := k.parent.attribsCache.Get(k.opName)

	dtimeSecs := float64(d) / float64(time.Second)
	k.parent.durationMetric.Record(ctx, dtimeSecs, metric.WithAttributeSet(attribs))
}

func (k *clientTelemOp) End(ctx context.Context, err error) {
	dtime := time.Since(k.startTime)

	if err != nil {
		k.span.RecordError(err)
	}
	k.span.End()

	// a cancelled operation did not take as long as the server needed, so it
	// would skew the histogram
	if ctx.Err() == nil {
		k.recordDurationMetric(ctx, dtime)
	}
}
