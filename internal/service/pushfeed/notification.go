package pushfeed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

type (
	// Notification carries one program instruction seen on the wire.
	Notification struct {
		Data []byte
		// Channel is the instruction's first account, empty if it has none.
		Channel   string
		Sender    string
		Signature string
		Timestamp time.Time
	}

	rpcError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	rpcMessage struct {
		ID     *int            `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
		Method string          `json:"method"`
		Params *struct {
			Result txNotification `json:"result"`
		} `json:"params"`
	}

	txNotification struct {
		Signature   string `json:"signature"`
		Transaction struct {
			BlockTime   *int64 `json:"blockTime"`
			Transaction struct {
				Signatures []string `json:"signatures"`
				Message    struct {
					AccountKeys  []accountKey        `json:"accountKeys"`
					Instructions []parsedInstruction `json:"instructions"`
				} `json:"message"`
			} `json:"transaction"`
		} `json:"transaction"`
	}

	accountKey struct {
		Pubkey string `json:"pubkey"`
		Signer bool   `json:"signer"`
	}

	parsedInstruction struct {
		ProgramID string   `json:"programId"`
		Accounts  []string `json:"accounts"`
		Data      string   `json:"data"`
	}
)

const (
	notificationMethod = "transactionNotification"

	// log_message accounts: channel, member, sender
	senderAccountIndex = 2
)

// parseNotifications extracts the program's instructions from a
// transactionNotification frame. Other frames yield nothing.
func parseNotifications(frame []byte, program solana.PublicKey, now time.Time) ([]Notification, error) {
	var msg rpcMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Method != notificationMethod || msg.Params == nil {
		return nil, nil
	}

	n := msg.Params.Result
	sig := n.Signature
	if sig == "" && len(n.Transaction.Transaction.Signatures) > 0 {
		sig = n.Transaction.Transaction.Signatures[0]
	}

	ts := now
	if n.Transaction.BlockTime != nil {
		ts = time.Unix(*n.Transaction.BlockTime, 0)
	}

	var feePayer string
	for _, k := range n.Transaction.Transaction.Message.AccountKeys {
		if k.Signer {
			feePayer = k.Pubkey
			break
		}
	}

	var out []Notification
	for _, ins := range n.Transaction.Transaction.Message.Instructions {
		if ins.ProgramID != program.String() || ins.Data == "" {
			continue
		}
		data, err := base58.Decode(ins.Data)
		if err != nil {
			continue
		}
		sender := feePayer
		if len(ins.Accounts) > senderAccountIndex {
			sender = ins.Accounts[senderAccountIndex]
		}
		var channel string
		if len(ins.Accounts) > 0 {
			channel = ins.Accounts[0]
		}
		out = append(out, Notification{
			Data:      data,
			Channel:   channel,
			Sender:    sender,
			Signature: sig,
			Timestamp: ts.UTC(),
		})
	}
	return out, nil
}
