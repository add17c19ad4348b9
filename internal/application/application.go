// Package application holds the use cases. Each one is driven through UseCase
// so transports can depend on the shape rather than the concrete type.
package application

import "context"

type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}
