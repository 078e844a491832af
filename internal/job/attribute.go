package job

// AttributeKind keys the attribute map; a job stores at most one attribute per kind.
type AttributeKind string

// KindPriority identifies the PriorityAttribute.
const KindPriority AttributeKind = "priority"

// Attribute is extra per-job state that gets a chance to evolve before every retry.
// Attributes must not rely on being prepared in any particular order.
type Attribute interface {
	Kind() AttributeKind
	PrepareForRetry()
}

// PriorityAttribute carries a job's current priority and the floor it decays toward.
type PriorityAttribute struct {
	current Priority
	floor   Priority
}

// NewPriorityAttribute builds a PriorityAttribute starting at p.
func NewPriorityAttribute(p, floor Priority) *PriorityAttribute {
	return &PriorityAttribute{current: p, floor: floor}
}

// Kind implements Attribute.
func (a *PriorityAttribute) Kind() AttributeKind { return KindPriority }

// Priority returns the current priority.
func (a *PriorityAttribute) Priority() Priority { return a.current }

// Floor returns the least urgent priority retries may decay to.
func (a *PriorityAttribute) Floor() Priority { return a.floor }

// PrepareForRetry downgrades the current priority one step toward the floor.
func (a *PriorityAttribute) PrepareForRetry() {
	a.current = a.current.Downgrade(a.floor)
}
