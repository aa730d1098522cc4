// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Handlers use these helpers instead of raw http.ResponseWriter calls so that
// JSON formatting and the error envelope stay consistent across endpoints.
package httputil
