package alertmodel

// AdapterName tags one of the closed set of concrete adapter kinds.
type AdapterName string

const (
	AdapterChat   AdapterName = "chat"
	AdapterPaging AdapterName = "paging"
	AdapterMail   AdapterName = "mail"
)

// AlertContext is the mutable envelope tracking one alert's escalation
// state. Every field besides Alert itself may change over the context's
// lifetime; AlertContext values handed to callers outside the store are
// always copies.
type AlertContext struct {
	Id                AlertId
	Alert             Alert
	InsertedTmsp      uint64
	LevelIdx          uint
	LastNotifiedTmsp  *uint64
	AckedBy           *User
	AckedOnLevel      *uint
	AdapterLevel      map[AdapterName]uint
}

// NewAlertContext constructs a freshly-inserted context: not yet
// notified, not acknowledged, tier 0.
func NewAlertContext(id AlertId, alert Alert, insertedTmsp uint64) AlertContext {
	return AlertContext{
		Id:           id,
		Alert:        alert,
		InsertedTmsp: insertedTmsp,
		LevelIdx:     0,
		AdapterLevel: make(map[AdapterName]uint),
	}
}

// Acked reports whether this context has already been acknowledged.
func (c AlertContext) Acked() bool {
	return c.AckedBy != nil
}

// WithAdapterLevel returns a copy of c with the given adapter's current
// tier recorded, used when handing a context to a specific adapter's
// notify call so it can translate the global tier into its own address
// space without mutating shared state.
func (c AlertContext) WithAdapterLevel(name AdapterName, level uint) AlertContext {
	cp := c
	cp.AdapterLevel = make(map[AdapterName]uint, len(c.AdapterLevel)+1)
	for k, v := range c.AdapterLevel {
		cp.AdapterLevel[k] = v
	}
	cp.AdapterLevel[name] = level
	return cp
}

// Clone returns a deep copy safe to hand to callers outside the store.
func (c AlertContext) Clone() AlertContext {
	cp := c
	if c.LastNotifiedTmsp != nil {
		v := *c.LastNotifiedTmsp
		cp.LastNotifiedTmsp = &v
	}
	if c.AckedBy != nil {
		v := *c.AckedBy
		cp.AckedBy = &v
	}
	if c.AckedOnLevel != nil {
		v := *c.AckedOnLevel
		cp.AckedOnLevel = &v
	}
	cp.AdapterLevel = make(map[AdapterName]uint, len(c.AdapterLevel))
	for k, v := range c.AdapterLevel {
		cp.AdapterLevel[k] = v
	}
	return cp
}
