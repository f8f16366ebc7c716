// Package http serves the operational surface of the attendance service.
//
// The router exposes the following endpoints:
//   - GET /healthz: liveness. Always 200 {"status":"ok"} while the process serves.
//   - GET /readyz: readiness. Pings the datastore within ReadyTimeout and
//     answers 200 {"status":"ready"} or 503 {"status":"unavailable","message":...}.
//   - GET /metrics: Prometheus exposition of the registry handed to the router.
//
// Every request is tagged with a request ID by chi's RequestID middleware and
// logged by RequestLogger, which also places the request-scoped logger in the
// context for downstream code.
package http
