// Package system starts and stops the long-running parts of the tribute
// layer, such as the tick scheduler, in a fixed order.
package system

import "context"

// Service is a component with background work. Start must return once the
// work is running; Stop must wait for it to finish or for ctx to expire.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
