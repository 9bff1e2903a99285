package market

import (
	"assetmarket/core/events"
	"assetmarket/core/types"
)

type adminState interface {
	ParamsGet() (Params, error)
	ParamsPut(Params) error
}

// AdminEngine mutates the shared marketplace configuration. Every setter is
// gated to the admin principal recorded in the params themselves. The engine
// doubles as the pause view consulted by the market engines.
type AdminEngine struct {
	state   adminState
	emitter events.Emitter
}

// NewAdminEngine constructs an admin engine with a no-op emitter.
func NewAdminEngine() *AdminEngine {
	return &AdminEngine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *AdminEngine) SetState(state adminState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *AdminEngine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *AdminEngine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

// Params returns a snapshot of the current configuration.
func (e *AdminEngine) Params() (Params, error) {
	if e == nil || e.state == nil {
		return Params{}, errNilState
	}
	params, err := e.state.ParamsGet()
	if err != nil {
		return Params{}, err
	}
	return params.Clone(), nil
}

// IsPaused implements nativecommon.PauseView over the stored params. Lookup
// failures read as paused so a broken state backend fails closed.
func (e *AdminEngine) IsPaused(module string) bool {
	if e == nil || e.state == nil {
		return true
	}
	params, err := e.state.ParamsGet()
	if err != nil {
		return true
	}
	return params.Paused[module]
}

func (e *AdminEngine) update(caller [20]byte, mutate func(*Params) error) (Params, error) {
	if e == nil || e.state == nil {
		return Params{}, errNilState
	}
	params, err := e.state.ParamsGet()
	if err != nil {
		return Params{}, err
	}
	if caller != params.Admin {
		return Params{}, ErrUnauthorized
	}
	updated := params.Clone()
	if err := mutate(&updated); err != nil {
		return Params{}, err
	}
	sanitized, err := SanitizeParams(updated)
	if err != nil {
		return Params{}, err
	}
	if err := e.state.ParamsPut(sanitized); err != nil {
		return Params{}, err
	}
	return sanitized, nil
}

// SetFeePercentage updates the platform fee taken from every sale.
func (e *AdminEngine) SetFeePercentage(caller [20]byte, pct uint32) error {
	params, err := e.update(caller, func(p *Params) error {
		if pct > maxPercentage {
			return ErrInvalidInput
		}
		p.FeePercentage = pct
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(ParamsUpdatedEvent(&params))
	return nil
}

// SetMaxRoyaltyPercentage updates the cap applied to royalties at listing
// time. Existing royalties are unaffected.
func (e *AdminEngine) SetMaxRoyaltyPercentage(caller [20]byte, pct uint32) error {
	params, err := e.update(caller, func(p *Params) error {
		if pct > maxPercentage {
			return ErrInvalidInput
		}
		p.MaxRoyaltyPercentage = pct
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(ParamsUpdatedEvent(&params))
	return nil
}

// SetFeeRecipient updates the address receiving platform fees.
func (e *AdminEngine) SetFeeRecipient(caller, recipient [20]byte) error {
	params, err := e.update(caller, func(p *Params) error {
		if isZeroAddress(recipient) {
			return ErrInvalidInput
		}
		p.FeeRecipient = recipient
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(ParamsUpdatedEvent(&params))
	return nil
}

// SetPaused halts or resumes a market module.
func (e *AdminEngine) SetPaused(caller [20]byte, module string, paused bool) error {
	if !validModule(module) {
		return ErrInvalidInput
	}
	_, err := e.update(caller, func(p *Params) error {
		if paused {
			p.Paused[module] = true
		} else {
			delete(p.Paused, module)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(PausedEvent(module, paused))
	return nil
}
