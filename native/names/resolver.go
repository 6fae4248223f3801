// Package names maps human-readable handles under a fixed namespace to
// account addresses.
package names

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "tappay/core/errors"
	"tappay/core/events"
	"tappay/crypto"
	"tappay/journal"
	nativecommon "tappay/native/common"
	"tappay/observability"
)

// Class distinguishes personal handles from vendor storefront handles.
type Class string

const (
	ClassPersonal Class = "personal"
	ClassVendor   Class = "vendor"
)

// Record is a permanent handle assignment.
type Record struct {
	Handle       string
	Namespace    string
	Owner        common.Address
	Class        Class
	RegisteredAt time.Time
	Seq          uint64
}

// VendorLookup reports whether an account has a vendor record.
type VendorLookup interface {
	Exists(address common.Address) bool
}

// RegisterRequest describes a handle registration. Caller is the
// authenticated account submitting the request.
type RegisterRequest struct {
	Handle string
	Owner  common.Address
	Caller common.Address
	Class  Class
}

// Resolver owns the handle table.
type Resolver struct {
	mu       sync.RWMutex
	byHandle map[string]Record
	byOwner  map[common.Address]string
	seq      uint64

	namespace string
	vendors   VendorLookup
	locker    *nativecommon.KeyedLocker
	journal   *journal.Writer
	emitter   events.Emitter
	logger    *slog.Logger
	metrics   *observability.SettlementMetrics
	clock     func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithNamespace overrides DefaultNamespace.
func WithNamespace(namespace string) Option {
	return func(r *Resolver) {
		if ns := strings.Trim(strings.TrimSpace(namespace), "."); ns != "" {
			r.namespace = ns
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(r *Resolver) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEmitter sets the event sink.
func WithEmitter(emitter events.Emitter) Option {
	return func(r *Resolver) {
		if emitter != nil {
			r.emitter = emitter
		}
	}
}

// WithMetrics counts registrations.
func WithMetrics(metrics *observability.SettlementMetrics) Option {
	return func(r *Resolver) { r.metrics = metrics }
}

// NewResolver constructs an empty resolver. vendors is consulted for
// vendor-class registrations.
func NewResolver(w *journal.Writer, vendors VendorLookup, opts ...Option) *Resolver {
	r := &Resolver{
		byHandle:  make(map[string]Record),
		byOwner:   make(map[common.Address]string),
		namespace: DefaultNamespace,
		vendors:   vendors,
		locker:    nativecommon.NewKeyedLocker(),
		journal:   w,
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = r.logger.With("component", "names")
	return r
}

// Namespace returns the fixed parent name.
func (r *Resolver) Namespace() string { return r.namespace }

// RegisterHandle binds a handle to its owner permanently.
func (r *Resolver) RegisterHandle(ctx context.Context, req RegisterRequest) (Record, error) {
	const op = "names.register"
	handle, err := ValidateHandle(req.Handle)
	if err != nil {
		return Record{}, err
	}
	class := req.Class
	if class == "" {
		class = ClassPersonal
	}
	if req.Owner == (common.Address{}) {
		return Record{}, coreerrors.New(op, coreerrors.ErrInvalidAddress, "owner required")
	}
	switch class {
	case ClassPersonal:
		if req.Caller != req.Owner {
			return Record{}, coreerrors.New(op, coreerrors.ErrUnauthorized, "caller must own the handle")
		}
	case ClassVendor:
		if r.vendors == nil || !r.vendors.Exists(req.Owner) || req.Caller != req.Owner {
			return Record{}, coreerrors.New(op, coreerrors.ErrUnauthorized, "vendor handles must be claimed by the vendor")
		}
	default:
		return Record{}, coreerrors.Newf(op, coreerrors.ErrInvalidFormat, "unknown handle class %q", class)
	}

	unlock, err := r.locker.Lock(ctx, handleLockKey(handle), crypto.LockKey(req.Owner))
	if err != nil {
		return Record{}, err
	}
	defer unlock()

	if _, taken := r.Lookup(handle); taken {
		return Record{}, coreerrors.New(op, coreerrors.ErrAlreadyTaken, handle)
	}
	rec := Record{
		Handle:       handle,
		Namespace:    r.namespace,
		Owner:        req.Owner,
		Class:        class,
		RegisteredAt: r.clock().UTC(),
		Seq:          r.nextSeq(),
	}
	evt := events.HandleRegistered{
		Handle:       rec.Handle,
		Namespace:    rec.Namespace,
		Owner:        rec.Owner.Hex(),
		Class:        string(rec.Class),
		RegisteredAt: rec.RegisteredAt.Unix(),
		Seq:          rec.Seq,
	}
	if _, err := r.journal.Record(ctx, rec.Owner.Hex(), evt); err != nil {
		return Record{}, err
	}
	r.store(rec)
	r.metrics.RecordHandle(string(class))
	r.emitter.Emit(evt)
	r.logger.Info("handle registered", "handle", handle, "address", rec.Owner.Hex(), "class", string(class))
	return rec, nil
}

// Resolve maps a bare or namespaced handle to its owner.
func (r *Resolver) Resolve(name string) (common.Address, error) {
	rec, err := r.LookupName(name)
	if err != nil {
		return common.Address{}, err
	}
	return rec.Owner, nil
}

// LookupName returns the record for a bare or namespaced handle.
func (r *Resolver) LookupName(name string) (Record, error) {
	handle, err := splitName(name, r.namespace)
	if err != nil {
		return Record{}, err
	}
	rec, ok := r.Lookup(handle)
	if !ok {
		return Record{}, coreerrors.New("names.resolve", coreerrors.ErrNotFound, handle)
	}
	return rec, nil
}

// ReverseLookup returns the first handle registered by owner.
func (r *Resolver) ReverseLookup(owner common.Address) (string, error) {
	r.mu.RLock()
	handle, ok := r.byOwner[owner]
	r.mu.RUnlock()
	if !ok {
		return "", coreerrors.New("names.reverse", coreerrors.ErrNotFound, owner.Hex())
	}
	return handle, nil
}

// Lookup returns the record for a bare handle.
func (r *Resolver) Lookup(handle string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byHandle[handle]
	return rec, ok
}

// FQDN renders handle under the namespace.
func (r *Resolver) FQDN(handle string) string {
	return handle + "." + r.namespace
}

// IsHandle reports whether raw is handle syntax for this namespace.
func (r *Resolver) IsHandle(raw string) bool {
	return IsHandle(raw, r.namespace)
}

// Replay applies a journaled registration during recovery.
func (r *Resolver) Replay(entry journal.Entry) error {
	var evt events.HandleRegistered
	if err := journal.Decode(entry, &evt); err != nil {
		return err
	}
	owner, err := crypto.ParseAddress(evt.Owner)
	if err != nil {
		return err
	}
	r.store(Record{
		Handle:       evt.Handle,
		Namespace:    evt.Namespace,
		Owner:        owner,
		Class:        Class(evt.Class),
		RegisteredAt: time.Unix(evt.RegisteredAt, 0).UTC(),
		Seq:          evt.Seq,
	})
	return nil
}

func (r *Resolver) nextSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq
}

func (r *Resolver) store(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHandle[rec.Handle] = rec
	if rec.Seq > r.seq {
		r.seq = rec.Seq
	}
	existing, ok := r.byOwner[rec.Owner]
	if !ok || r.byHandle[existing].Seq > rec.Seq {
		r.byOwner[rec.Owner] = rec.Handle
	}
}

func handleLockKey(handle string) string {
	return "handle/" + handle
}
