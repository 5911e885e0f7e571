package settlement

import (
	"context"
	"log"
	"math/big"
)

// Sender is the outbound payout hook invoked by withdrawals. The ledger
// zeroes the owed balance before calling Send and rolls it back if Send
// fails, so implementations must report failure rather than retry silently.
type Sender interface {
	Send(ctx context.Context, to string, amount *big.Int) error
}

// LogSender is the default rail: it records the payout in the process log
// and reports success. Actual value movement is settled out-of-band by the
// hosting environment.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) Send(ctx context.Context, to string, amount *big.Int) error {
	log.Printf("payout,to=%s,amount=%s", to, amount.String())
	return nil
}
