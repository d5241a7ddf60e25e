// Package middleware provides HTTP middleware for the image vault server.
//
// It includes:
//   - Request logging in W3C Extended Log Format
//   - Prometheus request metrics with route-template path labels
//   - gzip compression of JSON responses
//   - Panic recovery that answers with the standard error envelope
package middleware
