package vstore

import "context"

// Runner is a long running transport such as the HTTP or gRPC server. Start
// must not block.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
