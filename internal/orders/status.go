package orders

type Status string

const (
	StatusDraft     Status = "draft"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusDraft:     {StatusDraft: true, StatusCompleted: true, StatusCancelled: true},
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransition reports whether an order in from may move to to. A draft may
// "move" to draft, which is an in-place update.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// State is one of Draft, Completed or Cancelled. Lifecycle operations take
// the variant they act on, so finalizing a cancelled bill does not compile.
type State interface {
	Order() Order
	state()
}

// Draft is a persisted order holding a stock reservation.
type Draft struct{ o Order }

// Completed is a sold bill; only its payment fields may change.
type Completed struct{ o Order }

// Cancelled is a released draft.
type Cancelled struct{ o Order }

func (d Draft) Order() Order     { return d.o }
func (c Completed) Order() Order { return c.o }
func (c Cancelled) Order() Order { return c.o }

func (Draft) state()     {}
func (Completed) state() {}
func (Cancelled) state() {}

// Reserved is the per-product reservation this draft holds.
func (d Draft) Reserved() map[string]int { return d.o.Quantities() }

// State returns the variant for o's status, or nil for an unknown status.
func (o Order) State() State {
	switch o.Status {
	case StatusDraft:
		return Draft{o}
	case StatusCompleted:
		return Completed{o}
	case StatusCancelled:
		return Cancelled{o}
	}
	return nil
}

func (o Order) AsDraft() (Draft, error) {
	if d, ok := o.State().(Draft); ok {
		return d, nil
	}
	return Draft{}, conflictf(nil, "Bill %s is %s and can no longer be changed.", o.BillNumber, o.Status)
}

func (o Order) AsCompleted() (Completed, error) {
	if c, ok := o.State().(Completed); ok {
		return c, nil
	}
	return Completed{}, conflictf(nil, "Bill %s is %s, payments can only be recorded on completed bills.", o.BillNumber, o.Status)
}
