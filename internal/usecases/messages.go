package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"go.uber.org/zap"

	"world-indexer.backend/internal/domain/entities"
	domainerrors "world-indexer.backend/internal/domain/errors"
	"world-indexer.backend/internal/domain/repositories"
	"world-indexer.backend/internal/infrastructure/metrics"
	"world-indexer.backend/pkg/dojo"
	"world-indexer.backend/pkg/logger"
	"world-indexer.backend/pkg/typeddata"
	"world-indexer.backend/pkg/utils"
)

// Signature is the tagged signature union carried by relay envelopes.
// Exactly one variant is set.
type Signature struct {
	Starknet []string `json:"Starknet,omitempty"`
	Webauthn []string `json:"Webauthn,omitempty"`
	Session  []string `json:"Session,omitempty"`
}

// MessageEnvelope is the relay wire payload.
type MessageEnvelope struct {
	Message   typeddata.TypedData `json:"message"`
	Signature Signature           `json:"signature"`
}

// MessageUsecase validates signed off-chain messages and stores them as
// entity updates. It shares the executor with the indexer, so the
// single-writer invariant holds for relayed writes too.
type MessageUsecase struct {
	storage  repositories.WorldStorage
	reader   repositories.WorldReader
	provider repositories.ChainProvider
}

func NewMessageUsecase(storage repositories.WorldStorage, reader repositories.WorldReader, provider repositories.ChainProvider) *MessageUsecase {
	return &MessageUsecase{storage: storage, reader: reader, provider: provider}
}

// HandleRaw decodes and processes one envelope. Invalid messages are
// dropped with a warning; only storage failures propagate.
func (u *MessageUsecase) HandleRaw(ctx context.Context, raw []byte) error {
	var envelope MessageEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		u.drop(ctx, "unparseable envelope", err)
		return nil
	}
	err := u.Handle(ctx, &envelope)
	switch {
	case err == nil:
		return nil
	case isDroppable(err):
		u.drop(ctx, "message rejected", err)
		return nil
	default:
		return err
	}
}

func isDroppable(err error) bool {
	for _, target := range []error{
		domainerrors.ErrInvalidMessage,
		domainerrors.ErrInvalidSignature,
		domainerrors.ErrContractNotFound,
		domainerrors.ErrUnknownResource,
		domainerrors.ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (u *MessageUsecase) drop(ctx context.Context, reason string, err error) {
	metrics.MessagesProcessed.WithLabelValues("dropped").Inc()
	logger.Warn(ctx, reason, zap.Error(err))
}

// Handle walks a message through parse, model resolution, identity
// resolution, signature verification and storage.
func (u *MessageUsecase) Handle(ctx context.Context, envelope *MessageEnvelope) error {
	td := &envelope.Message

	selector, err := dojo.SelectorFromTag(td.PrimaryType)
	if err != nil {
		return fmt.Errorf("%w: primary type %q is not a model tag", domainerrors.ErrInvalidMessage, td.PrimaryType)
	}
	model, err := u.storage.Model(utils.FeltToHex(selector))
	if err != nil {
		return fmt.Errorf("%w: no model for primary type %q", domainerrors.ErrInvalidMessage, td.PrimaryType)
	}

	record := model.Schema.Clone()
	if err := record.SetJSONValue(td.Message); err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrInvalidMessage, err)
	}
	keys, err := record.SerializedKeys()
	if err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrInvalidMessage, err)
	}
	entityID := utils.FeltToHex(dojo.EntityID(keys))

	identity, err := u.resolveIdentity(ctx, model, record, entityID)
	if err != nil {
		return err
	}

	hash, err := td.MessageHash(identity)
	if err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrInvalidMessage, err)
	}
	if err := u.verifySignature(ctx, td, identity, hash, envelope.Signature); err != nil {
		return err
	}

	messageID := fmt.Sprintf("message:%s", hash.String())
	now := uint64(time.Now().Unix())
	if err := u.storage.SetEventMessage(ctx, model, record, messageID, entityID, utils.JoinKeys(keys), now, false); err != nil {
		return err
	}
	if err := u.storage.Execute(ctx); err != nil {
		return err
	}

	metrics.MessagesProcessed.WithLabelValues("stored").Inc()
	logger.Info(ctx, "stored off-chain message",
		zap.String("model", model.Tag()), zap.String("entity_id", entityID))
	return nil
}

// resolveIdentity prefers the identity already stored for the entity; a
// first write must carry an identity member in the message itself.
func (u *MessageUsecase) resolveIdentity(ctx context.Context, model *entities.Model, record entities.Ty, entityID string) (*felt.Felt, error) {
	if stored, err := u.storedIdentity(ctx, model, entityID); err == nil && stored != nil {
		return stored, nil
	}
	return messageIdentity(record)
}

func (u *MessageUsecase) storedIdentity(ctx context.Context, model *entities.Model, entityID string) (*felt.Felt, error) {
	page, err := u.reader.Entities(ctx, entities.Query{
		Clause: entities.HashedKeysClause{IDs: []string{entityID}},
		Models: []string{model.Tag()},
	})
	if err != nil || len(page.Items) == 0 {
		return nil, err
	}
	for _, ty := range page.Items[0].Models {
		id, err := messageIdentity(ty)
		if err == nil {
			return id, nil
		}
	}
	return nil, nil
}

func messageIdentity(record entities.Ty) (*felt.Felt, error) {
	if record.Kind != entities.KindStruct {
		return nil, fmt.Errorf("%w: message is not a struct", domainerrors.ErrInvalidMessage)
	}
	for _, c := range record.Struct.Children {
		if c.Name != "identity" {
			continue
		}
		p := c.Ty.Primitive
		if c.Ty.Kind != entities.KindPrimitive || p.Type != entities.PrimitiveContractAddress || p.Value == nil {
			break
		}
		felts, err := p.ToFelts()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domainerrors.ErrInvalidMessage, err)
		}
		return felts[0], nil
	}
	return nil, fmt.Errorf("%w: message carries no identity", domainerrors.ErrInvalidMessage)
}

// verifySignature delegates to the signer contract against the pending
// state. Session signatures use the session validation entrypoint; other
// variants go through the standard account interface.
func (u *MessageUsecase) verifySignature(ctx context.Context, td *typeddata.TypedData, identity, hash *felt.Felt, sig Signature) error {
	var entrypoint string
	var calldata []*felt.Felt

	sigFelts, variant, err := signatureFelts(sig)
	if err != nil {
		return err
	}

	switch variant {
	case "Session":
		typeHash, err := td.TypeHash(td.PrimaryType)
		if err != nil {
			return fmt.Errorf("%w: %v", domainerrors.ErrInvalidMessage, err)
		}
		entrypoint = "is_session_sigature_valid"
		calldata = append([]*felt.Felt{typeHash, hash, new(felt.Felt).SetUint64(uint64(len(sigFelts)))}, sigFelts...)
	default:
		entrypoint = "is_valid_signature"
		calldata = append([]*felt.Felt{hash, new(felt.Felt).SetUint64(uint64(len(sigFelts)))}, sigFelts...)
	}

	out, err := u.provider.Call(ctx, identity, entrypoint, calldata)
	if err != nil {
		return err
	}
	if len(out) == 0 || out[0].IsZero() {
		return domainerrors.ErrInvalidSignature
	}
	return nil
}

func signatureFelts(sig Signature) ([]*felt.Felt, string, error) {
	var raw []string
	var variant string
	switch {
	case len(sig.Starknet) > 0:
		raw, variant = sig.Starknet, "Starknet"
	case len(sig.Webauthn) > 0:
		raw, variant = sig.Webauthn, "Webauthn"
	case len(sig.Session) > 0:
		raw, variant = sig.Session, "Session"
	default:
		return nil, "", fmt.Errorf("%w: empty signature", domainerrors.ErrInvalidMessage)
	}

	felts := make([]*felt.Felt, len(raw))
	for i, s := range raw {
		f, err := utils.HexToFelt(s)
		if err != nil {
			return nil, "", fmt.Errorf("%w: bad signature element %q", domainerrors.ErrInvalidMessage, s)
		}
		felts[i] = f
	}
	return felts, variant, nil
}
