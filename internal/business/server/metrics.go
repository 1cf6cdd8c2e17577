package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-auth/internal/config"
	"github.com/openkcm/session-auth/internal/middleware/responsewriter"
	"github.com/openkcm/session-auth/internal/serviceerr"
)

const outcomeSuccess = "success"

var (
	counter       metric.Int64Counter
	hist          metric.Int64Histogram
	signInCounter metric.Int64Counter
)

func initMeters(ctx context.Context, cfg *config.Config) error {
	meter := otel.Meter(
		"kms20/"+cfg.Application.Name,
		metric.WithInstrumentationVersion(otel.Version()),
		metric.WithInstrumentationAttributes(otlp.CreateAttributesFrom(cfg.Application)...),
	)

	var err error

	counter, err = meter.Int64Counter(
		"http.request_count",
		metric.WithDescription("Incoming request count"),
		metric.WithUnit("request"),
	)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating request_count meter")
	}

	hist, err = meter.Int64Histogram(
		"http.duration",
		metric.WithDescription("Incoming end to end duration"),
		metric.WithUnit("milliseconds"),
	)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating duration meter")
	}

	signInCounter, err = meter.Int64Counter(
		"auth.sign_in",
		metric.WithDescription("Sign-in attempts by method and outcome"),
		metric.WithUnit("attempt"),
	)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating sign_in meter")
	}

	return nil
}

// newTraceMiddleware covers an operation with a request id, a span and the
// request metrics.
func newTraceMiddleware(cfg *config.Config, operation string, next http.HandlerFunc) http.Handler {
	traceAttrs := otlp.CreateAttributesFrom(cfg.Application, attribute.String(commoncfg.AttrOperation, operation))
	tracer := otel.Tracer(operation, trace.WithInstrumentationAttributes(traceAttrs...))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := slogctx.With(r.Context(),
			commoncfg.AttrRequestID, uuid.NewString(),
			commoncfg.AttrOperation, operation,
		)

		parentCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))

		ctx, span := tracer.Start(parentCtx, operation+"-span", trace.WithAttributes(traceAttrs...))
		defer span.End()

		requestStartTime := time.Now()
		sr := responsewriter.NewStatusRecorder(w)

		defer func() {
			if counter == nil || hist == nil {
				return
			}

			attrs := metric.WithAttributes(
				otlp.CreateAttributesFrom(cfg.Application,
					attribute.String("userAgent", r.UserAgent()),
					attribute.String(commoncfg.AttrOperation, operation),
					attribute.Int("status", sr.Status()),
				)...,
			)

			counter.Add(ctx, 1, attrs)
			hist.Record(ctx, time.Since(requestStartTime).Milliseconds(), attrs)
		}()

		slogctx.Debug(ctx, "Processing request", "method", r.Method, "path", r.URL.Path)
		next(sr, r.WithContext(ctx))
		slogctx.Debug(ctx, "Finished request", "status", sr.Status())
	})
}

// recordSignIn counts a sign-in attempt. The outcome is the error code or
// "success".
func recordSignIn(ctx context.Context, method string, err error) {
	if signInCounter == nil {
		return
	}

	outcome := outcomeSuccess
	if err != nil {
		outcome = string(serviceerr.CodeServerError)
		var serr *serviceerr.Error
		if errors.As(err, &serr) {
			outcome = string(serr.Err)
		}
	}

	signInCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
}
