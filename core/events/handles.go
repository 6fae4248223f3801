package events

// TypeHandleRegistered is emitted when a handle is bound to an owner.
const TypeHandleRegistered = "handle.registered"

// HandleRegistered captures a permanent handle assignment.
type HandleRegistered struct {
	Handle       string `json:"handle"`
	Namespace    string `json:"namespace"`
	Owner        string `json:"owner"`
	Class        string `json:"class"`
	RegisteredAt int64  `json:"registeredAt"`
	Seq          uint64 `json:"seq"`
}

// EventType satisfies the events.Event interface.
func (HandleRegistered) EventType() string { return TypeHandleRegistered }

// Event renders the handle payload.
func (e HandleRegistered) Event() *Record {
	attrs := map[string]string{
		"handle": e.Handle,
		"owner":  e.Owner,
		"class":  e.Class,
	}
	if e.Namespace != "" {
		attrs["fqdn"] = e.Handle + "." + e.Namespace
	}
	return &Record{Type: TypeHandleRegistered, Attributes: attrs}
}
