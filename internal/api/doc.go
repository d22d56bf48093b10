// ABOUTME: Package documentation for the HTTP API surface
// ABOUTME: Route layout, identity expectations, and status mapping

// Package api exposes group and study session operations over HTTP.
//
// All routes expect an authenticated identity in the request context (see
// package identity). Handlers translate domain errors into statuses: unknown
// entities are 404, losing an initialization race is 409, non-admin
// membership changes are 403, and completion provider failures are 502.
package api
