package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

type (
	Instruction struct {
		ProgramID solana.PublicKey
		Accounts  []solana.PublicKey
		Data      []byte
	}

	Transaction struct {
		Signature    string
		Logs         []string
		Instructions []Instruction
		AccountKeys  []solana.PublicKey
		BlockTime    int64
	}

	// RPC is the slice of the ledger node API the source needs.
	RPC interface {
		ListRecentSignatures(ctx context.Context, account solana.PublicKey, limit int) ([]string, error)
		// GetTransaction returns nil, nil when the node does not know the signature.
		GetTransaction(ctx context.Context, signature string) (*Transaction, error)
	}

	SolanaRPC struct {
		client     *rpc.Client
		commitment rpc.CommitmentType
	}
)

func NewSolanaRPC(endpoint, commitment string) *SolanaRPC {
	if commitment == "" {
		commitment = string(rpc.CommitmentConfirmed)
	}
	return &SolanaRPC{
		client:     rpc.New(endpoint),
		commitment: rpc.CommitmentType(commitment),
	}
}

// ListRecentSignatures returns newest first, skipping failed transactions.
func (s *SolanaRPC) ListRecentSignatures(ctx context.Context, account solana.PublicKey, limit int) ([]string, error) {
	out, err := s.client.GetSignaturesForAddressWithOpts(ctx, account, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: s.commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress: %w", err)
	}

	sigs := make([]string, 0, len(out))
	for _, o := range out {
		if o == nil || o.Err != nil {
			continue
		}
		sigs = append(sigs, o.Signature.String())
	}
	return sigs, nil
}

func (s *SolanaRPC) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("parse signature: %w", err)
	}

	maxVersion := uint64(0)
	res, err := s.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     s.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getTransaction: %w", err)
	}
	if res == nil || res.Transaction == nil {
		return nil, nil
	}

	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	out := &Transaction{
		Signature:   signature,
		AccountKeys: tx.Message.AccountKeys,
	}
	if res.Meta != nil {
		out.Logs = res.Meta.LogMessages
	}
	if res.BlockTime != nil {
		out.BlockTime = int64(*res.BlockTime)
	}

	keys := out.AccountKeys
	for _, ci := range tx.Message.Instructions {
		if int(ci.ProgramIDIndex) >= len(keys) {
			continue
		}
		ins := Instruction{
			ProgramID: keys[ci.ProgramIDIndex],
			Data:      []byte(ci.Data),
		}
		for _, idx := range ci.Accounts {
			if int(idx) < len(keys) {
				ins.Accounts = append(ins.Accounts, keys[idx])
			}
		}
		out.Instructions = append(out.Instructions, ins)
	}
	return out, nil
}
