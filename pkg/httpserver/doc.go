// Package httpserver runs the HTTP API with graceful shutdown.
//
// Run and Serve block until their context is cancelled and then give in-flight requests
// up to the configured shutdown timeout. The process entrypoint owns signal handling and
// cancels the context, so the server composes with other long running components in an
// errgroup.
//
// LivenessHandler and ReadinessHandler back the /healthz and /readyz endpoints;
// readiness takes named dependency probes such as pg.Healthcheck.
package httpserver
