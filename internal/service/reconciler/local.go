package reconciler

import (
	"context"
	"errors"
	"fmt"
	"shieldchat/internal/codec"
	"shieldchat/internal/model"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

type LocalResult struct {
	ContentRef string
	// MessageHash and InstructionData are what the caller's own ledger write
	// step needs for log_message.
	MessageHash     [32]byte
	InstructionData []byte
	Message         model.Message
}

// AddLocalMessage seals content for channel, uploads the envelope and shows
// the plaintext at once under a local id. The confirmed copy replaces it
// later through push, ledger or cache.
func (r *Reconciler) AddLocalMessage(ctx context.Context, channel solana.PublicKey, content, sender string, attachment *model.Attachment) (*LocalResult, error) {
	if r.store == nil {
		return nil, errors.New("reconciler: no content store configured")
	}

	payload := model.NewTextPayload(content, attachment)
	plain, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	env, err := r.box.Encrypt(plain, channel)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	ref, blob, err := r.store.UploadEnvelope(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("upload envelope: %w", err)
	}

	msg := &model.Message{
		ID:         model.LocalID(uuid.NewString()),
		Channel:    channel.String(),
		Sender:     sender,
		Timestamp:  r.now().UTC(),
		ContentRef: ref,
	}
	msg.Apply(payload)

	r.mu.Lock()
	if r.hasChannel && r.channel.Equals(channel) {
		r.mergeLocked(channel, []*model.Message{msg})
	}
	r.mu.Unlock()

	hash := codec.MessageHash(blob)
	return &LocalResult{
		ContentRef:      ref,
		MessageHash:     hash,
		InstructionData: codec.EncodeLogMessageInstruction(hash, ref),
		Message:         *msg,
	}, nil
}
