// Package ledgertest provides an in-memory ledger for tests.
package ledgertest

import (
	"context"
	"errors"
	"shieldchat/internal/codec"
	"shieldchat/internal/model"
	"shieldchat/internal/service/ledger"
	"sync"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
)

var ErrUnavailable = errors.New("ledgertest: rpc unavailable")

type FakeRPC struct {
	mu      sync.Mutex
	txs     map[string]*ledger.Transaction
	order   map[solana.PublicKey][]string
	failTx  map[string]bool
	listErr error

	inFlight    atomic.Int32
	MaxInFlight atomic.Int32
	Calls       atomic.Int32
}

func NewFakeRPC() *FakeRPC {
	return &FakeRPC{
		txs:    make(map[string]*ledger.Transaction),
		order:  make(map[solana.PublicKey][]string),
		failTx: make(map[string]bool),
	}
}

// Add appends a transaction touching account; newest is listed first.
func (f *FakeRPC) Add(account solana.PublicKey, tx *ledger.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[tx.Signature] = tx
	f.order[account] = append([]string{tx.Signature}, f.order[account]...)
}

// AddSignatureOnly lists a signature whose body the node cannot return.
func (f *FakeRPC) AddSignatureOnly(account solana.PublicKey, sig string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order[account] = append([]string{sig}, f.order[account]...)
}

func (f *FakeRPC) FailTransaction(sig string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTx[sig] = true
}

func (f *FakeRPC) SetListError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *FakeRPC) ListRecentSignatures(ctx context.Context, account solana.PublicKey, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	sigs := f.order[account]
	if len(sigs) > limit {
		sigs = sigs[:limit]
	}
	return append([]string(nil), sigs...), nil
}

func (f *FakeRPC) GetTransaction(ctx context.Context, signature string) (*ledger.Transaction, error) {
	f.Calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.MaxInFlight.Load()
		if n <= cur || f.MaxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTx[signature] {
		return nil, ErrUnavailable
	}
	return f.txs[signature], nil
}

// EventTransaction builds a transaction whose logs carry a MessageLogged event.
func EventTransaction(sig string, program solana.PublicKey, ev *model.RawEvent) *ledger.Transaction {
	return &ledger.Transaction{
		Signature: sig,
		Logs: []string{
			"Program " + program.String() + " invoke [1]",
			"Program log: Instruction: LogMessage",
			codec.ProgramDataLog(codec.EncodeEvent(ev)),
			"Program " + program.String() + " success",
		},
		AccountKeys: []solana.PublicKey{ev.Sender, ev.Channel, program},
		BlockTime:   ev.OccurredAt,
	}
}

// InstructionTransaction builds a transaction with no event in its logs, only
// the log_message instruction and the textual sequence line.
func InstructionTransaction(sig string, program, channel, member, sender solana.PublicKey, ref, seqLine string, blockTime int64) *ledger.Transaction {
	logs := []string{"Program " + program.String() + " invoke [1]"}
	if seqLine != "" {
		logs = append(logs, "Program log: "+seqLine)
	}
	return &ledger.Transaction{
		Signature: sig,
		Logs:      logs,
		Instructions: []ledger.Instruction{
			{ProgramID: solana.PublicKey{0xcb}, Data: []byte{2, 0x40, 0x0d, 0x03, 0}},
			{
				ProgramID: program,
				Accounts:  []solana.PublicKey{channel, member, sender},
				Data:      codec.EncodeLogMessageInstruction(codec.MessageHash([]byte(ref)), ref),
			},
		},
		AccountKeys: []solana.PublicKey{sender, channel, member, program},
		BlockTime:   blockTime,
	}
}
