// Package schema keeps old recorded events replayable after the event shape
// changes. Every breaking change to a payload bumps the schema version and
// registers an upcaster; replaying the full historical stream through the
// chain always reconstructs the current shape.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/decisio/eventcore/internal/domain/envelope"
)

var (
	// ErrVersionGap means no upcaster is registered to move an envelope
	// towards its type's current version. This is a configuration error,
	// not a runtime condition to paper over.
	ErrVersionGap = errors.New("schema: no upcaster registered for version")

	ErrDuplicateUpcaster = errors.New("schema: upcaster already registered for source version")
	ErrNotIncreasing     = errors.New("schema: target version must be greater than source version")
)

// Upcaster transforms a payload recorded under one schema version into the
// next. Implementations must be pure functions of the payload: no I/O, no
// data that is not derivable from the old payload.
type Upcaster interface {
	Source() (eventType string, version int)
	Target() (eventType string, version int)
	Apply(payload map[string]any) (map[string]any, error)
}

type funcUpcaster struct {
	srcType string
	srcVer  int
	dstType string
	dstVer  int
	fn      func(map[string]any) (map[string]any, error)
}

func (u *funcUpcaster) Source() (string, int) { return u.srcType, u.srcVer }
func (u *funcUpcaster) Target() (string, int) { return u.dstType, u.dstVer }
func (u *funcUpcaster) Apply(p map[string]any) (map[string]any, error) {
	return u.fn(p)
}

// Upcast builds an upcaster from a transformation function. Renaming the
// event type is allowed; the version must strictly increase.
func Upcast(srcType string, srcVer int, dstType string, dstVer int, fn func(map[string]any) (map[string]any, error)) Upcaster {
	return &funcUpcaster{srcType: srcType, srcVer: srcVer, dstType: dstType, dstVer: dstVer, fn: fn}
}

// AddField builds the identity-like upcaster for the non-breaking case:
// a new optional field with a default value.
func AddField(eventType string, srcVer int, field string, def any) Upcaster {
	return Upcast(eventType, srcVer, eventType, srcVer+1, func(doc map[string]any) (map[string]any, error) {
		if _, ok := doc[field]; !ok {
			doc[field] = def
		}
		return doc, nil
	})
}

type step struct {
	eventType string
	version   int
}

// Registry is an explicitly constructed upcaster table, built once at process
// start and passed by reference into consumers. Not safe for concurrent
// registration; register everything before serving traffic.
type Registry struct {
	steps   map[step]Upcaster
	current map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		steps:   make(map[step]Upcaster),
		current: make(map[string]int),
	}
}

// Register adds one chain link. Each source version maps to exactly one
// target, so the chain stays acyclic by construction.
func (r *Registry) Register(u Upcaster) error {
	srcType, srcVer := u.Source()
	dstType, dstVer := u.Target()
	if dstVer <= srcVer {
		return fmt.Errorf("%w: %s v%d -> %s v%d", ErrNotIncreasing, srcType, srcVer, dstType, dstVer)
	}
	key := step{eventType: srcType, version: srcVer}
	if _, exists := r.steps[key]; exists {
		return fmt.Errorf("%w: %s v%d", ErrDuplicateUpcaster, srcType, srcVer)
	}
	r.steps[key] = u

	// Keep the current pointer at least at the highest registered target.
	if cur, ok := r.current[dstType]; !ok || dstVer > cur {
		r.current[dstType] = dstVer
	}
	return nil
}

// SetCurrent pins the current version for an event base type. Types without
// an entry are treated as already current at whatever version they carry.
func (r *Registry) SetCurrent(eventType string, version int) {
	r.current[eventType] = version
}

func (r *Registry) CurrentVersion(eventType string) (int, bool) {
	v, ok := r.current[eventType]
	return v, ok
}

// UpcastToCurrent walks the chain one step at a time until the envelope's
// version equals the current version declared for its type. A missing link
// is ErrVersionGap. Envelopes of unregistered types pass through unchanged.
func (r *Registry) UpcastToCurrent(env *envelope.Envelope) (*envelope.Envelope, error) {
	for {
		target, ok := r.current[env.EventType]
		if !ok || env.SchemaVersion >= target {
			return env, nil
		}

		u, ok := r.steps[step{eventType: env.EventType, version: env.SchemaVersion}]
		if !ok {
			return nil, fmt.Errorf("%w: %s v%d (current v%d)", ErrVersionGap, env.EventType, env.SchemaVersion, target)
		}

		doc, err := env.Document()
		if err != nil {
			return nil, err
		}
		doc, err = u.Apply(doc)
		if err != nil {
			return nil, fmt.Errorf("schema: upcast %s v%d: %w", env.EventType, env.SchemaVersion, err)
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("schema: encode upcasted payload: %w", err)
		}

		dstType, dstVer := u.Target()
		env = env.WithPayload(dstType, dstVer, raw)
	}
}
