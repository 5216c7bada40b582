package robot

import (
	"context"
	"sync"
)

// Insertion is an accepted insert request whose robot may not be in the
// world yet. It completes once the world confirms the insertion or fails.
type Insertion struct {
	done  chan struct{}
	once  sync.Once
	robot Robot
	err   error
}

// NewInsertion returns an unresolved insertion.
func NewInsertion() *Insertion {
	return &Insertion{done: make(chan struct{})}
}

// Inserted returns an insertion that already completed with r.
func Inserted(r Robot) *Insertion {
	ins := NewInsertion()
	ins.Resolve(r, nil)
	return ins
}

// Resolve completes the insertion. Only the first call has an effect.
func (i *Insertion) Resolve(r Robot, err error) {
	i.once.Do(func() {
		i.robot = r
		i.err = err
		close(i.done)
	})
}

// Done is closed once the insertion completed.
func (i *Insertion) Done() <-chan struct{} {
	return i.done
}

// Wait blocks until the insertion completes or ctx is done.
func (i *Insertion) Wait(ctx context.Context) (Robot, error) {
	select {
	case <-i.done:
		return i.robot, i.err
	case <-ctx.Done():
		return Robot{}, ctx.Err()
	}
}
