package effect

import "sync/atomic"

// Guaranteed wraps a side effect payload that must be visibly processed.
//
// Content claims the payload: it returns it exactly once per claim cycle.
// Resend releases the claim and posts the same wrapper again, starting a
// new cycle. Once the owning store closes, or the payload was handled
// successfully through HandleOrResend, the resend capability is detached
// and Resend reports false.
//
//	Unhandled --Content--> Handled
//	Handled   --Resend---> Unhandled (reposted)
type Guaranteed[T any] struct {
	content T
	handled atomic.Bool
	resend  atomic.Pointer[func() bool]
}

// NewGuaranteed wraps content. The resend capability is attached by the
// store when the effect is posted.
func NewGuaranteed[T any](content T) *Guaranteed[T] {
	return &Guaranteed[T]{content: content}
}

// Content claims the payload. ok is false if it was already claimed in
// the current cycle.
func (g *Guaranteed[T]) Content() (value T, ok bool) {
	if g.handled.CompareAndSwap(false, true) {
		return g.content, true
	}
	var zero T
	return zero, false
}

// Peek returns the payload without claiming it.
func (g *Guaranteed[T]) Peek() T {
	return g.content
}

// Handled reports whether the payload is claimed in the current cycle.
func (g *Guaranteed[T]) Handled() bool {
	return g.handled.Load()
}

// Resend releases the claim and reposts the effect. The repost does not
// wait for buffer room. It returns false when the resend capability is
// detached or the repost failed; a failed repost detaches it.
func (g *Guaranteed[T]) Resend() bool {
	fn := g.resend.Load()
	if fn == nil {
		return false
	}
	g.handled.Store(false)
	if !(*fn)() {
		g.resend.CompareAndSwap(fn, nil)
		return false
	}
	return true
}

// HandleOrResend claims the payload and passes it to handle. On error the
// effect is resent; on success the resend capability is detached.
// claimed is false if another consumer already holds the claim.
func (g *Guaranteed[T]) HandleOrResend(handle func(T) error) (claimed bool, err error) {
	v, ok := g.Content()
	if !ok {
		return false, nil
	}
	if err := handle(v); err != nil {
		g.Resend()
		return true, err
	}
	g.Close()
	return true, nil
}

// Close detaches the resend capability. Idempotent.
func (g *Guaranteed[T]) Close() {
	g.resend.Store(nil)
}

// Resendable reports whether the resend capability is still attached.
func (g *Guaranteed[T]) Resendable() bool {
	return g.resend.Load() != nil
}

func (g *Guaranteed[T]) bindResend(fn func() bool) {
	g.resend.Store(&fn)
}

// binder is implemented by every Guaranteed instantiation.
type binder interface {
	bindResend(fn func() bool)
	Close()
}

// Bind attaches resend to v if it is a Guaranteed effect and reports
// whether it did.
func Bind(v any, resend func() bool) bool {
	b, ok := v.(binder)
	if !ok {
		return false
	}
	b.bindResend(resend)
	return true
}

// Detach detaches the resend capability of v if it is a Guaranteed effect.
func Detach(v any) {
	if b, ok := v.(binder); ok {
		b.Close()
	}
}
