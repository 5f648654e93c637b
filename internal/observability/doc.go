// Package observability builds the process-wide structured logger.
//
// Every component receives a *zap.Logger from here; request scoped fields
// (request id, backend) are attached with With at the call site.
package observability
