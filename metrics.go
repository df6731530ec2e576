package gocbmcx

import (
	"github.com/couchbase/gocbmcx/contrib/buildversion"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/couchbase/gocbmcx"

var buildVersion string = buildversion.GetVersion(instrumentationName)

var (
	meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(buildVersion))

	tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(buildVersion))
)
