package server

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/gaborage/go-retrieval/logger"
	"github.com/gaborage/go-retrieval/trace"
)

const bodyLimit = "1M"

// SetupMiddlewares registers the status API middleware chain on e.
// A nil tp makes otelecho fall back to the global tracer provider.
func SetupMiddlewares(e *echo.Echo, log logger.Logger, serviceName string, tp oteltrace.TracerProvider) {
	// Request ID
	e.Use(middleware.RequestID())

	// OpenTelemetry server spans; probes stay out of traces.
	otelOpts := []otelecho.Option{
		otelecho.WithSkipper(func(c echo.Context) bool {
			return c.Path() == HealthPath
		}),
	}
	if tp != nil {
		otelOpts = append(otelOpts, otelecho.WithTracerProvider(tp))
	}
	e.Use(otelecho.Middleware(serviceName, otelOpts...))

	// Request ID into the request context for outbound correlation.
	e.Use(RequestContext())

	e.Use(Logger(log, HealthPath))

	// Recovery
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Error().
				Err(err).
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Bytes("stack", stack).
				Msg("Panic recovered")
			return err
		},
	}))

	// Security headers
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ContentSecurityPolicy: "default-src 'none'",
	}))

	e.Use(middleware.BodyLimit(bodyLimit))
}

// RequestContext copies the echo request ID into the request context so that
// fetches started from a handler carry the same X-Request-ID.
func RequestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
				c.SetRequest(req.WithContext(trace.WithRequestID(req.Context(), id)))
			}
			return next(c)
		}
	}
}
