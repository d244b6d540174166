// Package httpserver exposes the read-only status API:
//
//	GET /v1/healthz     storage health probe
//	GET /v1/partitions  committed offset and live key count per partition
package httpserver
