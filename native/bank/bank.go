package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"

	"carbonlink/core/events"
	"carbonlink/core/state"
)

var (
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrInvalidAmount     = errors.New("bank: invalid amount")
	ErrBalanceOverflow   = errors.New("bank: balance overflow")
)

var balancePrefix = []byte("bank/balance/")

func balanceKey(addr [20]byte) []byte {
	return state.HashedKey(balancePrefix, addr)
}

// Bank keeps native balances for every account and moves value between them.
// Each transfer updates both balances in a single batch.
type Bank struct {
	manager *state.Manager
	mu      sync.Mutex
	emitter events.Emitter
}

// New returns a bank persisting balances through manager.
func New(manager *state.Manager) *Bank {
	return &Bank{manager: manager, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used by the bank. Passing nil resets
// the emitter to a no-op implementation.
func (b *Bank) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		b.emitter = events.NoopEmitter{}
		return
	}
	b.emitter = emitter
}

func (b *Bank) balance(addr [20]byte) (*uint256.Int, error) {
	bal := new(uint256.Int)
	if _, err := b.manager.KVGet(balanceKey(addr), bal); err != nil {
		return nil, err
	}
	return bal, nil
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("%w: amount exceeds 256 bits", ErrInvalidAmount)
	}
	return value, nil
}

// BalanceOf returns the spendable balance of holder.
func (b *Bank) BalanceOf(ctx context.Context, holder [20]byte) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, err := b.balance(holder)
	if err != nil {
		return nil, err
	}
	return bal.ToBig(), nil
}

// Transfer moves amount from one holder to another. Both balances are left
// untouched when the transfer fails.
func (b *Bank) Transfer(ctx context.Context, from, to [20]byte, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	fromBal, err := b.balance(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(value) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, fromBal.Dec(), value.Dec())
	}
	if from == to || value.IsZero() {
		return nil
	}
	toBal, err := b.balance(to)
	if err != nil {
		return err
	}
	nextTo, overflow := new(uint256.Int).AddOverflow(toBal, value)
	if overflow {
		return ErrBalanceOverflow
	}
	nextFrom := new(uint256.Int).Sub(fromBal, value)
	if err := b.manager.KVPutBatch(
		state.KVEntry{Key: balanceKey(from), Value: nextFrom},
		state.KVEntry{Key: balanceKey(to), Value: nextTo},
	); err != nil {
		return err
	}
	b.emitter.Emit(newTransferEvent(from, to, amount))
	return nil
}

// Mint credits amount to holder. It is used for genesis allocations.
func (b *Bank) Mint(holder [20]byte, amount *big.Int) error {
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, err := b.balance(holder)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, value)
	if overflow {
		return ErrBalanceOverflow
	}
	if err := b.manager.KVPut(balanceKey(holder), next); err != nil {
		return err
	}
	b.emitter.Emit(newMintEvent(holder, amount))
	return nil
}
