// Package server hosts the mixroom API from a single HTTP server.
//
// The server builds a consistent middleware chain of logging, rate limiting,
// and auth so handlers all share common protections and instrumentation.
package server
