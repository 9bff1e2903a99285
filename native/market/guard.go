package market

// reentrancyGuard is a two-valued flag protecting operations that hand control
// to untrusted code via an outbound value transfer. Acquisition is scoped: the
// caller must pair enter with a deferred leave so the flag resets on every
// exit path, including failures.
type reentrancyGuard struct {
	entered bool
}

func (g *reentrancyGuard) enter() error {
	if g.entered {
		return ErrReentrantCall
	}
	g.entered = true
	return nil
}

func (g *reentrancyGuard) leave() {
	g.entered = false
}
