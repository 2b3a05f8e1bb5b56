/*
Package tracing provides lightweight request tracing.

A trace follows one request from the HTTP edge or a sandbox envelope through
the RPC router. Spans are handed to a buffered collector and written to the
structured log when they finish; nothing is exported elsewhere.

# Usage

	tracer := tracing.New("host", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "rpc_ping")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

# Propagation

HTTP callers may pass X-Trace-ID and X-Span-ID; the middleware continues
that trace and echoes the ids on the response. Inside the process the ids
travel on the context (see GetTraceID and WithTrace).
*/
package tracing
