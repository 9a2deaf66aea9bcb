package lifetimes

import "context"

type contextHolder struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns a context that is canceled as soon as d leaves Alive. The
// context is created on first use; Eternal's context is never canceled.
func (d *Definition) Context() context.Context {
	if d == eternal {
		return context.Background()
	}
	if h := d.cancel.Load(); h != nil {
		return h.ctx
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &contextHolder{ctx: ctx, cancel: cancel}
	if !d.cancel.CompareAndSwap(nil, h) {
		cancel()
		return d.cancel.Load().ctx
	}

	// markCanceledRecursively may have run between the first Load and the CAS
	if !d.IsAlive() {
		cancel()
	}
	return ctx
}

func (d *Definition) cancelContext() {
	if h := d.cancel.Load(); h != nil {
		h.cancel()
	}
}
