package entities

import (
	"sync"

	"github.com/NethermindEth/juno/core/felt"

	"world-indexer.backend/pkg/utils"
)

// ResourceType tags the resource union.
type ResourceType string

const (
	ResourceNamespace        ResourceType = "namespace"
	ResourceModel            ResourceType = "model"
	ResourceEvent            ResourceType = "event"
	ResourceContract         ResourceType = "contract"
	ResourceExternalContract ResourceType = "external_contract"
	ResourceLibrary          ResourceType = "library"
)

// WorldSelector is the selector of the world resource itself.
const WorldSelector = "0x0000000000000000000000000000000000000000000000000000000000000000"

// ResourceInfo is the record common to every registered resource.
type ResourceInfo struct {
	Namespace    string
	Name         string
	Address      string
	ClassHashes  []string
	MetadataHash string
	Owners       map[string]struct{}
	Writers      map[string]struct{}
}

func NewResourceInfo(namespace, name, address, classHash string) ResourceInfo {
	return ResourceInfo{
		Namespace:   namespace,
		Name:        name,
		Address:     address,
		ClassHashes: []string{classHash},
		Owners:      map[string]struct{}{},
		Writers:     map[string]struct{}{},
	}
}

// CurrentClassHash is the hash of the code currently deployed: the last
// element of the append-only upgrade history.
func (i *ResourceInfo) CurrentClassHash() string {
	if len(i.ClassHashes) == 0 {
		return ""
	}
	return i.ClassHashes[len(i.ClassHashes)-1]
}

// Resource is one registered world resource.
type Resource struct {
	Type ResourceType
	Info ResourceInfo

	// Contract only.
	Initialized bool
	// External contract only.
	BlockNumber uint64
	// Library only.
	Version string
}

// World is the in-memory replica of the on-chain world, reconstructed from
// its event log. The indexing task is the only mutator; reads take the lock
// so the status surface can snapshot concurrently.
type World struct {
	mu sync.RWMutex

	Address      string
	ClassHashes  []string
	MetadataHash string

	resources       map[string]*Resource
	externalWriters map[string]map[string]struct{}
	externalOwners  map[string]map[string]struct{}
}

func NewWorld(address *felt.Felt) *World {
	return &World{
		Address:         utils.FeltToHex(address),
		resources:       map[string]*Resource{},
		externalWriters: map[string]map[string]struct{}{},
		externalOwners:  map[string]map[string]struct{}{},
	}
}

// Spawn records the world deployment: the class hash and the creator, who
// becomes the initial external owner of the world selector.
func (w *World) Spawn(classHash, creator string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ClassHashes = append(w.ClassHashes, classHash)
	if w.externalOwners[WorldSelector] == nil {
		w.externalOwners[WorldSelector] = map[string]struct{}{}
	}
	w.externalOwners[WorldSelector][creator] = struct{}{}
}

// Upgrade appends a new world class hash.
func (w *World) Upgrade(classHash string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ClassHashes = append(w.ClassHashes, classHash)
}

// AddResource registers a resource under its selector. Registration is
// idempotent on replay: an existing entry is replaced.
func (w *World) AddResource(selector string, r *Resource) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resources[selector] = r
}

// Resource looks up a resource by selector.
func (w *World) Resource(selector string) (*Resource, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.resources[selector]
	return r, ok
}

// ResourceCount reports the replica size, by resource type.
func (w *World) ResourceCount() map[ResourceType]int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	counts := map[ResourceType]int{}
	for _, r := range w.resources {
		counts[r.Type]++
	}
	return counts
}

// PushClassHash appends an upgrade to a known resource. Returns false when
// the selector is not in the replica.
func (w *World) PushClassHash(selector, classHash string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.resources[selector]
	if !ok {
		return false
	}
	r.Info.ClassHashes = append(r.Info.ClassHashes, classHash)
	return true
}

// SetInitialized flags a contract resource as initialized.
func (w *World) SetInitialized(selector string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.resources[selector]
	if !ok {
		return false
	}
	r.Initialized = true
	return true
}

// UpdateWriter grants or revokes a writer on a resource. Unknown selectors
// are mirrored in the external writers map so permissions observed before
// (or without) a registration are not lost.
func (w *World) UpdateWriter(selector, contract string, value bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if r, ok := w.resources[selector]; ok {
		updateSet(r.Info.Writers, contract, value)
		return
	}
	if w.externalWriters[selector] == nil {
		w.externalWriters[selector] = map[string]struct{}{}
	}
	updateSet(w.externalWriters[selector], contract, value)
}

// UpdateOwner is symmetric to UpdateWriter for the owners set.
func (w *World) UpdateOwner(selector, contract string, value bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if r, ok := w.resources[selector]; ok {
		updateSet(r.Info.Owners, contract, value)
		return
	}
	if w.externalOwners[selector] == nil {
		w.externalOwners[selector] = map[string]struct{}{}
	}
	updateSet(w.externalOwners[selector], contract, value)
}

// SetMetadataHash records a metadata update. Selector zero targets the world
// itself.
func (w *World) SetMetadataHash(selector, hash string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if selector == WorldSelector {
		w.MetadataHash = hash
		return true
	}
	r, ok := w.resources[selector]
	if !ok {
		return false
	}
	r.Info.MetadataHash = hash
	return true
}

// ExternalWriters snapshots the writer set recorded for an unregistered
// selector.
func (w *World) ExternalWriters(selector string) map[string]struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := map[string]struct{}{}
	for k := range w.externalWriters[selector] {
		out[k] = struct{}{}
	}
	return out
}

// ExternalOwners snapshots the owner set recorded for an unregistered
// selector.
func (w *World) ExternalOwners(selector string) map[string]struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := map[string]struct{}{}
	for k := range w.externalOwners[selector] {
		out[k] = struct{}{}
	}
	return out
}

func updateSet(set map[string]struct{}, member string, value bool) {
	if value {
		set[member] = struct{}{}
	} else {
		delete(set, member)
	}
}
