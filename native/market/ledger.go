package market

import (
	"fmt"
	"math/big"

	"assetmarket/core/events"
	"assetmarket/core/types"
	nativecommon "assetmarket/native/common"
)

type ledgerState interface {
	BalanceGet(addr [20]byte) (*big.Int, error)
	BalancePut(addr [20]byte, amount *big.Int) error
}

// LedgerEngine keeps the per-principal withdrawable balances of the
// marketplace. Sale proceeds and outbid refunds are credited here and pulled
// by their owners later; only Withdraw hands control to untrusted code, so
// only Withdraw runs under the reentrancy guard.
type LedgerEngine struct {
	state   ledgerState
	payer   PaymentSender
	emitter events.Emitter
	pauses  nativecommon.PauseView
	guard   reentrancyGuard
}

// NewLedgerEngine constructs a ledger engine with a no-op emitter.
func NewLedgerEngine() *LedgerEngine {
	return &LedgerEngine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (l *LedgerEngine) SetState(state ledgerState) { l.state = state }

// SetPaymentSender configures the external value transfer primitive.
func (l *LedgerEngine) SetPaymentSender(payer PaymentSender) { l.payer = payer }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *LedgerEngine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetPauses configures the admin pause view consulted before withdrawals.
func (l *LedgerEngine) SetPauses(p nativecommon.PauseView) { l.pauses = p }

func (l *LedgerEngine) emit(evt *types.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(WrapEvent(evt))
}

// BalanceOf returns the withdrawable balance of the principal.
func (l *LedgerEngine) BalanceOf(addr [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	balance, err := l.state.BalanceGet(addr)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(balance), nil
}

// Credit adds the amount to the principal's balance. Negative amounts are
// rejected; a zero amount is a no-op.
func (l *LedgerEngine) Credit(addr [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidInput
	}
	if amount.Sign() == 0 {
		return nil
	}
	balance, err := l.state.BalanceGet(addr)
	if err != nil {
		return err
	}
	return l.state.BalancePut(addr, new(big.Int).Add(cloneBigInt(balance), amount))
}

// Withdraw moves amount from the caller's ledger balance to the destination
// via the external transfer primitive. The balance is decremented before the
// send and restored if the send fails, so a reentrant transfer callback can
// never double-spend: the nested call observes the already-decremented
// balance and is rejected by the guard anyway.
func (l *LedgerEngine) Withdraw(caller [20]byte, amount *big.Int, destination [20]byte) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if l.payer == nil {
		return errNilPayer
	}
	if err := l.guard.enter(); err != nil {
		return err
	}
	defer l.guard.leave()
	if err := nativecommon.Guard(l.pauses, ModuleLedger); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidInput
	}
	balance, err := l.state.BalanceGet(caller)
	if err != nil {
		return err
	}
	balance = cloneBigInt(balance)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := l.state.BalancePut(caller, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	if err := l.payer.Send(destination, amount); err != nil {
		// Re-read rather than restoring the snapshot: the send callback may
		// have legitimately credited the caller before failing.
		current, getErr := l.state.BalanceGet(caller)
		if getErr != nil {
			return getErr
		}
		if putErr := l.state.BalancePut(caller, new(big.Int).Add(cloneBigInt(current), amount)); putErr != nil {
			return putErr
		}
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	l.emit(WithdrawnEvent(caller, destination, amount))
	return nil
}
