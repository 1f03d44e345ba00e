package usecases

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/NethermindEth/juno/core/felt"
	"go.uber.org/zap"

	"world-indexer.backend/internal/domain/entities"
	domainerrors "world-indexer.backend/internal/domain/errors"
	"world-indexer.backend/internal/domain/repositories"
	"world-indexer.backend/pkg/dojo"
	"world-indexer.backend/pkg/logger"
	"world-indexer.backend/pkg/utils"
)

// EventProcessor folds world events into the replica and the store. One
// instance serves one world; it is driven sequentially by the engine so no
// internal locking is needed beyond the replica's own.
type EventProcessor struct {
	world      *entities.World
	storage    repositories.WorldStorage
	provider   repositories.ChainProvider
	namespaces map[string]bool
	historical map[string]bool

	handlers map[string]func(ctx context.Context, ev *entities.WorldEvent) error
}

// NewEventProcessor builds the dispatch table. namespaces is the whitelist
// (empty allows everything); historical lists the event model tags whose
// messages are also appended to the history log.
func NewEventProcessor(world *entities.World, storage repositories.WorldStorage, provider repositories.ChainProvider, namespaces, historical []string) *EventProcessor {
	p := &EventProcessor{
		world:      world,
		storage:    storage,
		provider:   provider,
		namespaces: map[string]bool{},
		historical: map[string]bool{},
	}
	for _, ns := range namespaces {
		p.namespaces[ns] = true
	}
	for _, tag := range historical {
		p.historical[tag] = true
	}

	p.handlers = map[string]func(context.Context, *entities.WorldEvent) error{}
	register := func(name string, h func(context.Context, *entities.WorldEvent) error) {
		p.handlers[utils.FeltToHex(dojo.EventSelector(name))] = h
	}
	register("WorldSpawned", p.worldSpawned)
	register("WorldUpgraded", p.worldUpgraded)
	register("NamespaceRegistered", p.namespaceRegistered)
	register("ModelRegistered", p.modelRegistered)
	register("EventRegistered", p.eventRegistered)
	register("ContractRegistered", p.contractRegistered)
	register("LibraryRegistered", p.libraryRegistered)
	register("ExternalContractRegistered", p.externalContractRegistered)
	register("ModelUpgraded", p.modelUpgraded)
	register("EventUpgraded", p.eventUpgraded)
	register("ContractUpgraded", p.contractUpgraded)
	register("ExternalContractUpgraded", p.externalContractUpgraded)
	register("ContractInitialized", p.contractInitialized)
	register("WriterUpdated", p.writerUpdated)
	register("OwnerUpdated", p.ownerUpdated)
	register("MetadataUpdate", p.metadataUpdate)
	register("StoreSetRecord", p.storeSetRecord)
	register("StoreUpdateRecord", p.storeUpdateRecord)
	register("StoreUpdateMember", p.storeUpdateMember)
	register("StoreDelRecord", p.storeDelRecord)
	register("EventEmitted", p.eventEmitted)
	return p
}

// Process dispatches one event. Recoverable failures (bad payloads, unknown
// resources, filtered namespaces) are logged and swallowed so the range can
// continue; provider and storage failures propagate to the engine.
func (p *EventProcessor) Process(ctx context.Context, ev *entities.WorldEvent) error {
	if len(ev.Keys) == 0 {
		logger.Error(ctx, "event without keys", zap.String("event_id", ev.ID))
		return nil
	}
	handler, ok := p.handlers[utils.FeltToHex(ev.Keys[0])]
	if !ok {
		logger.Debug(ctx, "unsubscribed event", zap.String("selector", ev.Keys[0].String()))
		return nil
	}

	err := handler(ctx, ev)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domainerrors.ErrUnknownResource):
		logger.Debug(ctx, "event for unknown resource", zap.String("event_id", ev.ID), zap.Error(err))
		return nil
	case errors.Is(err, domainerrors.ErrDecodeEvent), errors.Is(err, domainerrors.ErrInvalidSchema):
		logger.Error(ctx, "dropping undecodable event", zap.String("event_id", ev.ID), zap.Error(err))
		return nil
	default:
		return err
	}
}

func (p *EventProcessor) allowed(namespace string) bool {
	return len(p.namespaces) == 0 || p.namespaces[namespace]
}

func (p *EventProcessor) worldSpawned(ctx context.Context, ev *entities.WorldEvent) error {
	r := entities.NewFeltReader(ev.Data)
	creator, err := r.Next()
	if err != nil {
		return err
	}
	classHash, err := r.Next()
	if err != nil {
		return err
	}
	p.world.Spawn(utils.FeltToHex(classHash), utils.FeltToHex(creator))
	logger.Info(ctx, "world spawned", zap.String("class_hash", classHash.String()))
	return nil
}

func (p *EventProcessor) worldUpgraded(ctx context.Context, ev *entities.WorldEvent) error {
	r := entities.NewFeltReader(ev.Data)
	classHash, err := r.Next()
	if err != nil {
		return err
	}
	p.world.Upgrade(utils.FeltToHex(classHash))
	return nil
}

func (p *EventProcessor) namespaceRegistered(ctx context.Context, ev *entities.WorldEvent) error {
	keys := entities.NewFeltReader(ev.Keys[1:])
	namespace, err := keys.ReadByteArray()
	if err != nil {
		return err
	}
	if !p.allowed(namespace) {
		return nil
	}
	data := entities.NewFeltReader(ev.Data)
	hash, err := data.Next()
	if err != nil {
		return err
	}
	info := entities.NewResourceInfo(namespace, namespace, "", "")
	p.world.AddResource(utils.FeltToHex(hash), &entities.Resource{Type: entities.ResourceNamespace, Info: info})
	return nil
}

// registrationHeader decodes the namespace and name byte arrays carried by
// every resource registration event.
func registrationHeader(ev *entities.WorldEvent) (string, string, error) {
	keys := entities.NewFeltReader(ev.Keys[1:])
	namespace, err := keys.ReadByteArray()
	if err != nil {
		return "", "", err
	}
	name, err := keys.ReadByteArray()
	if err != nil {
		return "", "", err
	}
	return namespace, name, nil
}

func (p *EventProcessor) modelRegistered(ctx context.Context, ev *entities.WorldEvent) error {
	return p.registerModelResource(ctx, ev, entities.ResourceModel)
}

func (p *EventProcessor) eventRegistered(ctx context.Context, ev *entities.WorldEvent) error {
	return p.registerModelResource(ctx, ev, entities.ResourceEvent)
}

func (p *EventProcessor) registerModelResource(ctx context.Context, ev *entities.WorldEvent, kind entities.ResourceType) error {
	namespace, name, err := registrationHeader(ev)
	if err != nil {
		return err
	}
	if !p.allowed(namespace) {
		logger.Debug(ctx, "namespace not whitelisted", zap.String("namespace", namespace), zap.String("name", name))
		return nil
	}

	data := entities.NewFeltReader(ev.Data)
	classHash, err := data.Next()
	if err != nil {
		return err
	}
	address, err := data.Next()
	if err != nil {
		return err
	}

	model, err := p.fetchModel(ctx, namespace, name, classHash, address)
	if err != nil {
		return err
	}
	if err := p.storage.RegisterModel(ctx, model, ev.BlockTimestamp, false); err != nil {
		return err
	}

	info := entities.NewResourceInfo(namespace, name, utils.FeltToHex(address), utils.FeltToHex(classHash))
	p.world.AddResource(model.Selector, &entities.Resource{Type: kind, Info: info})
	logger.Info(ctx, "registered model", zap.String("tag", model.Tag()), zap.String("selector", model.Selector))
	return nil
}

// fetchModel introspects a model contract: its schema plus the packed and
// unpacked layout sizes.
func (p *EventProcessor) fetchModel(ctx context.Context, namespace, name string, classHash, address *felt.Felt) (*entities.Model, error) {
	selector, err := dojo.SelectorFromNames(namespace, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainerrors.ErrDecodeEvent, err)
	}

	raw, err := p.provider.Call(ctx, address, "schema", nil)
	if err != nil {
		return nil, err
	}
	schema, err := entities.ParseTy(raw)
	if err != nil {
		return nil, err
	}

	var packed, unpacked uint32
	if out, err := p.provider.Call(ctx, address, "packed_size", nil); err == nil && len(out) > 0 {
		packed = feltToSize(out[0])
	}
	if out, err := p.provider.Call(ctx, address, "unpacked_size", nil); err == nil && len(out) > 0 {
		unpacked = feltToSize(out[0])
	}

	return &entities.Model{
		Selector:        utils.FeltToHex(selector),
		Namespace:       namespace,
		Name:            name,
		ClassHash:       utils.FeltToHex(classHash),
		ContractAddress: utils.FeltToHex(address),
		Layout:          "[]",
		Schema:          schema,
		PackedSize:      packed,
		UnpackedSize:    unpacked,
	}, nil
}

func feltToSize(f *felt.Felt) uint32 {
	v := f.BigInt(new(big.Int))
	if v.IsUint64() && v.Uint64() <= uint64(^uint32(0)) {
		return uint32(v.Uint64())
	}
	return 0
}

func (p *EventProcessor) contractRegistered(ctx context.Context, ev *entities.WorldEvent) error {
	namespace, name, err := registrationHeader(ev)
	if err != nil {
		return err
	}
	if !p.allowed(namespace) {
		return nil
	}
	data := entities.NewFeltReader(ev.Data)
	classHash, err := data.Next()
	if err != nil {
		return err
	}
	address, err := data.Next()
	if err != nil {
		return err
	}
	selector, err := dojo.SelectorFromNames(namespace, name)
	if err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrDecodeEvent, err)
	}
	info := entities.NewResourceInfo(namespace, name, utils.FeltToHex(address), utils.FeltToHex(classHash))
	p.world.AddResource(utils.FeltToHex(selector), &entities.Resource{Type: entities.ResourceContract, Info: info})
	return nil
}

func (p *EventProcessor) libraryRegistered(ctx context.Context, ev *entities.WorldEvent) error {
	namespace, name, err := registrationHeader(ev)
	if err != nil {
		return err
	}
	if !p.allowed(namespace) {
		return nil
	}
	data := entities.NewFeltReader(ev.Data)
	classHash, err := data.Next()
	if err != nil {
		return err
	}
	version, err := data.ReadByteArray()
	if err != nil {
		return err
	}
	selector, err := dojo.SelectorFromNames(namespace, fmt.Sprintf("%s_v%s", name, version))
	if err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrDecodeEvent, err)
	}
	info := entities.NewResourceInfo(namespace, name, "", utils.FeltToHex(classHash))
	p.world.AddResource(utils.FeltToHex(selector), &entities.Resource{
		Type: entities.ResourceLibrary, Info: info, Version: version,
	})
	return nil
}

func (p *EventProcessor) externalContractRegistered(ctx context.Context, ev *entities.WorldEvent) error {
	namespace, name, err := registrationHeader(ev)
	if err != nil {
		return err
	}
	if !p.allowed(namespace) {
		return nil
	}
	data := entities.NewFeltReader(ev.Data)
	classHash, err := data.Next()
	if err != nil {
		return err
	}
	address, err := data.Next()
	if err != nil {
		return err
	}
	blockNumber, err := data.NextUint()
	if err != nil {
		return err
	}
	selector, err := dojo.SelectorFromNames(namespace, name)
	if err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrDecodeEvent, err)
	}
	info := entities.NewResourceInfo(namespace, name, utils.FeltToHex(address), utils.FeltToHex(classHash))
	p.world.AddResource(utils.FeltToHex(selector), &entities.Resource{
		Type: entities.ResourceExternalContract, Info: info, BlockNumber: blockNumber,
	})
	return nil
}

// resourceSelector reads the target selector carried in keys[1].
func resourceSelector(ev *entities.WorldEvent) (string, error) {
	if len(ev.Keys) < 2 {
		return "", fmt.Errorf("%w: missing resource selector", domainerrors.ErrDecodeEvent)
	}
	return utils.FeltToHex(ev.Keys[1]), nil
}

func (p *EventProcessor) modelUpgraded(ctx context.Context, ev *entities.WorldEvent) error {
	return p.upgradeModelResource(ctx, ev)
}

func (p *EventProcessor) eventUpgraded(ctx context.Context, ev *entities.WorldEvent) error {
	return p.upgradeModelResource(ctx, ev)
}

func (p *EventProcessor) upgradeModelResource(ctx context.Context, ev *entities.WorldEvent) error {
	selector, err := resourceSelector(ev)
	if err != nil {
		return err
	}
	resource, ok := p.world.Resource(selector)
	if !ok {
		return fmt.Errorf("%w: selector %s", domainerrors.ErrUnknownResource, selector)
	}

	data := entities.NewFeltReader(ev.Data)
	classHash, err := data.Next()
	if err != nil {
		return err
	}
	address, err := data.Next()
	if err != nil {
		return err
	}

	model, err := p.fetchModel(ctx, resource.Info.Namespace, resource.Info.Name, classHash, address)
	if err != nil {
		return err
	}
	if err := p.storage.RegisterModel(ctx, model, ev.BlockTimestamp, true); err != nil {
		return err
	}
	p.world.PushClassHash(selector, utils.FeltToHex(classHash))
	logger.Info(ctx, "upgraded model", zap.String("tag", model.Tag()))
	return nil
}

func (p *EventProcessor) contractUpgraded(ctx context.Context, ev *entities.WorldEvent) error {
	selector, err := resourceSelector(ev)
	if err != nil {
		return err
	}
	data := entities.NewFeltReader(ev.Data)
	classHash, err := data.Next()
	if err != nil {
		return err
	}
	if !p.world.PushClassHash(selector, utils.FeltToHex(classHash)) {
		return fmt.Errorf("%w: selector %s", domainerrors.ErrUnknownResource, selector)
	}
	return nil
}

func (p *EventProcessor) externalContractUpgraded(ctx context.Context, ev *entities.WorldEvent) error {
	selector, err := resourceSelector(ev)
	if err != nil {
		return err
	}
	data := entities.NewFeltReader(ev.Data)
	classHash, err := data.Next()
	if err != nil {
		return err
	}
	if !p.world.PushClassHash(selector, utils.FeltToHex(classHash)) {
		return fmt.Errorf("%w: selector %s", domainerrors.ErrUnknownResource, selector)
	}
	return nil
}

func (p *EventProcessor) contractInitialized(ctx context.Context, ev *entities.WorldEvent) error {
	selector, err := resourceSelector(ev)
	if err != nil {
		return err
	}
	if !p.world.SetInitialized(selector) {
		return fmt.Errorf("%w: selector %s", domainerrors.ErrUnknownResource, selector)
	}
	return nil
}

func permissionTarget(ev *entities.WorldEvent) (string, string, bool, error) {
	if len(ev.Keys) < 3 {
		return "", "", false, fmt.Errorf("%w: permission event needs resource and contract keys", domainerrors.ErrDecodeEvent)
	}
	if len(ev.Data) < 1 {
		return "", "", false, fmt.Errorf("%w: permission event needs a value", domainerrors.ErrDecodeEvent)
	}
	return utils.FeltToHex(ev.Keys[1]), utils.FeltToHex(ev.Keys[2]), !ev.Data[0].IsZero(), nil
}

func (p *EventProcessor) writerUpdated(ctx context.Context, ev *entities.WorldEvent) error {
	resource, contract, value, err := permissionTarget(ev)
	if err != nil {
		return err
	}
	p.world.UpdateWriter(resource, contract, value)
	return nil
}

func (p *EventProcessor) ownerUpdated(ctx context.Context, ev *entities.WorldEvent) error {
	resource, contract, value, err := permissionTarget(ev)
	if err != nil {
		return err
	}
	p.world.UpdateOwner(resource, contract, value)
	return nil
}

func (p *EventProcessor) metadataUpdate(ctx context.Context, ev *entities.WorldEvent) error {
	selector, err := resourceSelector(ev)
	if err != nil {
		return err
	}
	data := entities.NewFeltReader(ev.Data)
	uri, err := data.ReadByteArray()
	if err != nil {
		return err
	}
	hash, err := data.Next()
	if err != nil {
		return err
	}
	if !p.world.SetMetadataHash(selector, utils.FeltToHex(hash)) {
		return fmt.Errorf("%w: selector %s", domainerrors.ErrUnknownResource, selector)
	}
	return p.storage.SetMetadata(ctx, selector, uri, ev.BlockTimestamp)
}

// recordTarget reads the model selector and entity id shared by all store
// record events.
func (p *EventProcessor) recordTarget(ev *entities.WorldEvent) (*entities.Model, string, error) {
	if len(ev.Keys) < 3 {
		return nil, "", fmt.Errorf("%w: record event needs model and entity keys", domainerrors.ErrDecodeEvent)
	}
	model, err := p.storage.Model(utils.FeltToHex(ev.Keys[1]))
	if err != nil {
		return nil, "", fmt.Errorf("%w: model %s", domainerrors.ErrUnknownResource, ev.Keys[1])
	}
	return model, utils.FeltToHex(ev.Keys[2]), nil
}

func (p *EventProcessor) storeSetRecord(ctx context.Context, ev *entities.WorldEvent) error {
	model, entityID, err := p.recordTarget(ev)
	if err != nil {
		return err
	}

	data := entities.NewFeltReader(ev.Data)
	numKeys, err := data.NextUint()
	if err != nil {
		return err
	}
	recordKeys, err := data.NextN(int(numKeys))
	if err != nil {
		return err
	}
	numValues, err := data.NextUint()
	if err != nil {
		return err
	}
	values, err := data.NextN(int(numValues))
	if err != nil {
		return err
	}

	record := model.Schema.Clone()
	if err := record.SetEntityValues(entities.NewFeltReader(recordKeys), entities.NewFeltReader(values)); err != nil {
		return err
	}
	return p.storage.SetEntity(ctx, model, record, ev.ID, entityID, utils.JoinKeys(recordKeys), ev.BlockTimestamp)
}

func (p *EventProcessor) storeUpdateRecord(ctx context.Context, ev *entities.WorldEvent) error {
	model, entityID, err := p.recordTarget(ev)
	if err != nil {
		return err
	}

	data := entities.NewFeltReader(ev.Data)
	numValues, err := data.NextUint()
	if err != nil {
		return err
	}
	values, err := data.NextN(int(numValues))
	if err != nil {
		return err
	}

	record := model.Schema.Clone()
	if err := record.SetEntityValues(nil, entities.NewFeltReader(values)); err != nil {
		return err
	}
	return p.storage.SetEntity(ctx, model, record, ev.ID, entityID, "", ev.BlockTimestamp)
}

func (p *EventProcessor) storeUpdateMember(ctx context.Context, ev *entities.WorldEvent) error {
	model, entityID, err := p.recordTarget(ev)
	if err != nil {
		return err
	}
	if len(ev.Keys) < 4 {
		return fmt.Errorf("%w: member update needs a member selector", domainerrors.ErrDecodeEvent)
	}
	memberSelector := ev.Keys[3]

	data := entities.NewFeltReader(ev.Data)
	numValues, err := data.NextUint()
	if err != nil {
		return err
	}
	values, err := data.NextN(int(numValues))
	if err != nil {
		return err
	}

	record := model.Schema.Clone()
	found := false
	for i := range record.Struct.Children {
		child := &record.Struct.Children[i]
		if !dojo.EventSelector(child.Name).Equal(memberSelector) {
			continue
		}
		if err := child.Ty.SetValues(entities.NewFeltReader(values)); err != nil {
			return err
		}
		found = true
		break
	}
	if !found {
		return fmt.Errorf("%w: model %s has no member with selector %s",
			domainerrors.ErrDecodeEvent, model.Tag(), memberSelector)
	}
	return p.storage.SetEntity(ctx, model, record, ev.ID, entityID, "", ev.BlockTimestamp)
}

func (p *EventProcessor) storeDelRecord(ctx context.Context, ev *entities.WorldEvent) error {
	model, entityID, err := p.recordTarget(ev)
	if err != nil {
		return err
	}
	return p.storage.DeleteEntity(ctx, model, entityID, ev.BlockTimestamp)
}

func (p *EventProcessor) eventEmitted(ctx context.Context, ev *entities.WorldEvent) error {
	if len(ev.Keys) < 3 {
		return fmt.Errorf("%w: emitted event needs event selector and system keys", domainerrors.ErrDecodeEvent)
	}
	model, err := p.storage.Model(utils.FeltToHex(ev.Keys[1]))
	if err != nil {
		return fmt.Errorf("%w: event model %s", domainerrors.ErrUnknownResource, ev.Keys[1])
	}

	data := entities.NewFeltReader(ev.Data)
	numKeys, err := data.NextUint()
	if err != nil {
		return err
	}
	recordKeys, err := data.NextN(int(numKeys))
	if err != nil {
		return err
	}
	numValues, err := data.NextUint()
	if err != nil {
		return err
	}
	values, err := data.NextN(int(numValues))
	if err != nil {
		return err
	}

	record := model.Schema.Clone()
	if err := record.SetEntityValues(entities.NewFeltReader(recordKeys), entities.NewFeltReader(values)); err != nil {
		return err
	}

	entityID := utils.FeltToHex(dojo.EntityID(recordKeys))
	historical := p.historical[model.Tag()]
	return p.storage.SetEventMessage(ctx, model, record, ev.ID, entityID, utils.JoinKeys(recordKeys), ev.BlockTimestamp, historical)
}
