//go:generate mockgen -destination=../internal/mocks/mock_task.go -package=mocks github.com/rubens21/go-lifetimes/service Task

package service

import "context"

// Task is a long-running unit started by a Manager. Start blocks until the
// task is done; Stop must make Start return.
type Task interface {
	Name() string
	Start() error
	Stop(ctx context.Context) error
}
