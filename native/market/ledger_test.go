package market

import (
	"errors"
	"math/big"
	"testing"
)

func TestLedgerCreditAndBalance(t *testing.T) {
	env := newTestEnv(t)

	if err := env.ledger.Credit(bidderA, big.NewInt(-1)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative credit: got %v", err)
	}
	if err := env.ledger.Credit(bidderA, big.NewInt(40)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := env.ledger.Credit(bidderA, big.NewInt(2)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if got := env.balance(t, bidderA); got.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("balance = %s, want 42", got)
	}
	if got := env.balance(t, bidderB); got.Sign() != 0 {
		t.Fatalf("untouched balance = %s, want 0", got)
	}
}

func TestWithdrawMovesValueOnce(t *testing.T) {
	env := newTestEnv(t)
	if err := env.ledger.Credit(bidderA, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if err := env.ledger.Withdraw(bidderA, big.NewInt(101), bidderA); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overdraw: got %v", err)
	}
	if err := env.ledger.Withdraw(bidderA, big.NewInt(0), bidderA); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero withdraw: got %v", err)
	}
	if err := env.ledger.Withdraw(bidderA, big.NewInt(30), buyerAddr); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := env.balance(t, bidderA); got.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("balance = %s, want 70", got)
	}
	if got := env.payer.sentTo(buyerAddr); got.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("destination received %s, want 30", got)
	}
	if evt := env.emitter.last(); evt == nil || evt.Type != EventTypeWithdrawn {
		t.Fatalf("expected withdrawn event, got %+v", evt)
	}
}

func TestWithdrawTransferFailureRestoresBalance(t *testing.T) {
	env := newTestEnv(t)
	if err := env.ledger.Credit(bidderA, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	env.payer.failFor[buyerAddr] = errors.New("destination rejected")

	err := env.ledger.Withdraw(bidderA, big.NewInt(30), buyerAddr)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	if got := env.balance(t, bidderA); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("balance = %s, want 100 after rollback", got)
	}
}

func TestWithdrawRejectsReentrancy(t *testing.T) {
	env := newTestEnv(t)
	if err := env.ledger.Credit(bidderA, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	var nestedErr error
	calls := 0
	env.payer.onSend = func(to [20]byte, amount *big.Int) error {
		calls++
		if calls == 1 {
			// The destination tries to drain the ledger again while its
			// incoming transfer is still in flight.
			nestedErr = env.ledger.Withdraw(bidderA, big.NewInt(30), buyerAddr)
		}
		return nil
	}

	if err := env.ledger.Withdraw(bidderA, big.NewInt(30), buyerAddr); err != nil {
		t.Fatalf("outer withdraw: %v", err)
	}
	if !errors.Is(nestedErr, ErrReentrantCall) {
		t.Fatalf("nested withdraw: got %v, want ErrReentrantCall", nestedErr)
	}
	if got := env.balance(t, bidderA); got.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("balance = %s, want exactly one 30 decrement", got)
	}
	if got := env.payer.sentTo(buyerAddr); got.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("destination received %s, want 30", got)
	}
}
