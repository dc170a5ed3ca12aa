// Package httputil provides shared HTTP response/request helpers for the
// tracking and site handlers.
//
// Handlers use these instead of writing raw http.ResponseWriter calls so that
// JSON formatting, error envelopes and logging stay consistent.
package httputil
