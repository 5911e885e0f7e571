package mock

import (
	"context"
	"math/big"
	"sync"
)

// Payout is one recorded Send call.
type Payout struct {
	To     string
	Amount *big.Int
}

// Sender implements settlement.Sender for tests. Payouts are recorded in
// order; FailWith makes every subsequent Send fail until cleared.
type Sender struct {
	mu       sync.Mutex
	payouts  []Payout
	failWith error
}

func NewSender() *Sender {
	return &Sender{}
}

func (m *Sender) Send(ctx context.Context, to string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.payouts = append(m.payouts, Payout{To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func (m *Sender) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *Sender) Payouts() []Payout {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Payout, len(m.payouts))
	copy(out, m.payouts)
	return out
}
