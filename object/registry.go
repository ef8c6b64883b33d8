package object

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lwm2m-go/engine/coap"
	"github.com/lwm2m-go/engine/tlv"
)

// Instance binds an Object's capability table to one live instance id and
// its opaque state handle.
type Instance struct {
	ID    uint16
	State InstanceState
}

// Registry holds every Object registered at client construction and the set
// of live Instances under each, keyed by Object id then Instance id. It is
// the Client Engine's single source of truth for both serving inbound
// management requests and rendering the registration link-format body.
type Registry struct {
	objects   map[uint16]*Object
	instances map[uint16]map[uint16]InstanceState
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		objects:   make(map[uint16]*Object),
		instances: make(map[uint16]map[uint16]InstanceState),
	}
}

// Register adds obj, once, at client construction. Objects never mutate
// after registration; only their instance sets do.
func (r *Registry) Register(obj *Object) {
	r.objects[obj.ID] = obj
	if _, ok := r.instances[obj.ID]; !ok {
		r.instances[obj.ID] = make(map[uint16]InstanceState)
	}
}

// Object returns the registered Object for id, or nil.
func (r *Registry) Object(id uint16) *Object {
	return r.objects[id]
}

// AddInstance records state under (objectID, instanceID), either supplied
// directly by the caller (AddObjectInstance) or returned from an Object's
// Create callback. instanceID must not be coap.NoInstance.
func (r *Registry) AddInstance(objectID, instanceID uint16, state InstanceState) error {
	if instanceID == coap.NoInstance {
		return fmt.Errorf("object %d: %w: instance id 0xFFFF is reserved", objectID, coap.ErrInvalidArgument)
	}
	insts, ok := r.instances[objectID]
	if !ok {
		return fmt.Errorf("%w: object %d is not registered", coap.ErrNotFound, objectID)
	}
	insts[instanceID] = state
	return nil
}

// RemoveInstance deletes the given instance, invoking the owning Object's
// Delete capability first. An Object without Delete yields
// coap.ErrMethodNotAllowed and the instance stays live.
func (r *Registry) RemoveInstance(objectID, instanceID uint16) error {
	insts, ok := r.instances[objectID]
	if !ok {
		return fmt.Errorf("%w: object %d", coap.ErrNotFound, objectID)
	}
	state, ok := insts[instanceID]
	if !ok {
		return fmt.Errorf("%w: object %d instance %d", coap.ErrNotFound, objectID, instanceID)
	}
	obj := r.objects[objectID]
	if obj == nil || obj.Delete == nil {
		return fmt.Errorf("object %d: %w", objectID, coap.ErrMethodNotAllowed)
	}
	if err := obj.Delete(state); err != nil {
		return err
	}
	delete(insts, instanceID)
	return nil
}

// ObjectIDs returns every registered Object id in ascending order.
func (r *Registry) ObjectIDs() []uint16 {
	ids := make([]uint16, 0, len(r.objects))
	for id := range r.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Instances returns the live instance ids of objectID in ascending order.
func (r *Registry) Instances(objectID uint16) []uint16 {
	insts := r.instances[objectID]
	ids := make([]uint16, 0, len(insts))
	for id := range insts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HasInstance reports whether (objectID, instanceID) is live.
func (r *Registry) HasInstance(objectID, instanceID uint16) bool {
	insts, ok := r.instances[objectID]
	if !ok {
		return false
	}
	_, ok = insts[instanceID]
	return ok
}

func (r *Registry) instanceState(objectID, instanceID uint16) (InstanceState, error) {
	insts, ok := r.instances[objectID]
	if !ok {
		return nil, fmt.Errorf("%w: object %d", coap.ErrNotFound, objectID)
	}
	state, ok := insts[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: object %d instance %d", coap.ErrNotFound, objectID, instanceID)
	}
	return state, nil
}

// Create dispatches a server-initiated POST /obj to the Object's Create
// capability and registers the resulting instance.
func (r *Registry) Create(objectID, instanceID uint16, payload []byte, contentFormat coap.ContentFormat) error {
	obj, ok := r.objects[objectID]
	if !ok {
		return fmt.Errorf("%w: object %d", coap.ErrNotFound, objectID)
	}
	if obj.Create == nil {
		return fmt.Errorf("object %d: %w", objectID, coap.ErrNotImplemented)
	}
	// Instance ids are unique within an Object; creating over a live one
	// is a conflict, not an overwrite.
	if r.HasInstance(objectID, instanceID) {
		return fmt.Errorf("object %d instance %d: %w", objectID, instanceID, coap.ErrConflict)
	}
	state, err := obj.Create(instanceID, payload, contentFormat)
	if err != nil {
		return err
	}
	return r.AddInstance(objectID, instanceID, state)
}

// InstanceResources pairs an instance id with its materialized resources,
// the result of expanding a "read object" request.
type InstanceResources struct {
	InstanceID uint16
	Resources  []Resource
}

// ReadObject expands into a read of every instance of objectID, dropping
// any instance whose ReadInstance returns an error (an empty instance
// included).
func (r *Registry) ReadObject(objectID uint16) ([]InstanceResources, error) {
	obj, ok := r.objects[objectID]
	if !ok {
		return nil, fmt.Errorf("%w: object %d", coap.ErrNotFound, objectID)
	}
	var out []InstanceResources
	for _, instID := range r.Instances(objectID) {
		state := r.instances[objectID][instID]
		resources, err := obj.ReadInstance(state)
		if err != nil {
			continue
		}
		out = append(out, InstanceResources{InstanceID: instID, Resources: resources})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("object %d: %w", objectID, coap.ErrNotFound)
	}
	return out, nil
}

// ReadInstance reads every resource of (objectID, instanceID).
func (r *Registry) ReadInstance(objectID, instanceID uint16) ([]Resource, error) {
	obj, ok := r.objects[objectID]
	if !ok {
		return nil, fmt.Errorf("%w: object %d", coap.ErrNotFound, objectID)
	}
	state, err := r.instanceState(objectID, instanceID)
	if err != nil {
		return nil, err
	}
	return obj.ReadInstance(state)
}

// ReadResource reads a single resource of (objectID, instanceID, resourceID).
func (r *Registry) ReadResource(objectID, instanceID, resourceID uint16) (Resource, error) {
	obj, ok := r.objects[objectID]
	if !ok {
		return Resource{}, fmt.Errorf("%w: object %d", coap.ErrNotFound, objectID)
	}
	state, err := r.instanceState(objectID, instanceID)
	if err != nil {
		return Resource{}, err
	}
	return obj.ReadResource(state, resourceID)
}

// WriteResource writes a single resource's raw value.
func (r *Registry) WriteResource(objectID, instanceID, resourceID uint16, value []byte, contentFormat coap.ContentFormat) error {
	obj, ok := r.objects[objectID]
	if !ok {
		return fmt.Errorf("%w: object %d", coap.ErrNotFound, objectID)
	}
	if obj.WriteResource == nil {
		return fmt.Errorf("object %d: %w", objectID, coap.ErrMethodNotAllowed)
	}
	state, err := r.instanceState(objectID, instanceID)
	if err != nil {
		return err
	}
	return obj.WriteResource(state, resourceID, value, contentFormat)
}

// Execute dispatches a POST with a text/plain argument to a resource.
func (r *Registry) Execute(objectID, instanceID, resourceID uint16, arg string) error {
	obj, ok := r.objects[objectID]
	if !ok {
		return fmt.Errorf("%w: object %d", coap.ErrNotFound, objectID)
	}
	if obj.Execute == nil {
		return fmt.Errorf("object %d: %w", objectID, coap.ErrMethodNotAllowed)
	}
	state, err := r.instanceState(objectID, instanceID)
	if err != nil {
		return err
	}
	return obj.Execute(state, resourceID, arg)
}

// WriteTLV writes a decoded TLV sequence to an instance, all-or-nothing:
// every resource the records touch has its prior value buffered first (via
// Read), and any inner failure restores every buffered value before
// returning the error, so no partial state change is ever visible.
func (r *Registry) WriteTLV(objectID, instanceID uint16, records []tlv.Record) error {
	obj, ok := r.objects[objectID]
	if !ok {
		return fmt.Errorf("%w: object %d", coap.ErrNotFound, objectID)
	}
	if obj.WriteTLV == nil {
		return fmt.Errorf("object %d: %w", objectID, coap.ErrMethodNotAllowed)
	}
	state, err := r.instanceState(objectID, instanceID)
	if err != nil {
		return err
	}

	touched := make([]uint16, 0, len(records))
	backup := make(map[uint16]Resource, len(records))
	if obj.Read != nil {
		for _, rec := range records {
			if _, seen := backup[rec.ID]; seen {
				continue
			}
			if prior, err := obj.Read(state, rec.ID); err == nil {
				backup[rec.ID] = prior
				touched = append(touched, rec.ID)
			}
		}
	}

	if err := obj.WriteTLV(state, records); err != nil {
		r.restore(obj, state, touched, backup)
		return fmt.Errorf("object %d instance %d: %w", objectID, instanceID, coap.ErrMalformedPayload)
	}
	return nil
}

// restore writes back every buffered resource, best-effort: a restore
// failure is not itself surfaced, since the original write error already
// takes priority and the engine has no better recovery available.
func (r *Registry) restore(obj *Object, state InstanceState, touched []uint16, backup map[uint16]Resource) {
	for _, id := range touched {
		res := backup[id]
		b, err := EncodeResource(res)
		if err != nil {
			continue
		}
		recs, err := tlv.Decode(b)
		if err != nil || len(recs) == 0 {
			continue
		}
		_ = obj.WriteTLV(state, recs)
	}
}

// LinkFormat renders every registered Object/Instance as a CoRE Link-Format
// (RFC 6690) body for the registration/update payload, optionally
// prefixed with the root rt="oma.lwm2m" entry when altPath != "/".
func (r *Registry) LinkFormat(altPath string) string {
	var links []string
	if altPath != "/" && altPath != "" {
		links = append(links, fmt.Sprintf(`<%s>;rt="oma.lwm2m"`, altPath))
	}
	objectIDs := make([]uint16, 0, len(r.objects))
	for id := range r.objects {
		objectIDs = append(objectIDs, id)
	}
	sort.Slice(objectIDs, func(i, j int) bool { return objectIDs[i] < objectIDs[j] })
	prefix := strings.TrimSuffix(altPath, "/")
	for _, objID := range objectIDs {
		instances := r.Instances(objID)
		if len(instances) == 0 {
			links = append(links, fmt.Sprintf("<%s/%d>", prefix, objID))
			continue
		}
		for _, instID := range instances {
			links = append(links, fmt.Sprintf("<%s/%d/%d>", prefix, objID, instID))
		}
	}
	return strings.Join(links, ",")
}
