package streak

import "fmt"

type OpKind int

const (
	OpAdd OpKind = iota + 1
	OpRemove
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Op is a recorded intent to add or remove a day, evaluated against a given
// "today". Replaying ops against a freshly read record yields the same result
// as applying them one after another at the time they were made.
type Op struct {
	Kind  OpKind
	Day   DayIndex
	Today DayIndex
}

// Patch evaluates the op against r.
func (o Op) Patch(r Record) Patch {
	switch o.Kind {
	case OpAdd:
		return ApplyAddition(r, o.Day, o.Today)
	case OpRemove:
		return ApplyRemoval(r, o.Day, o.Today)
	default:
		return Patch{}
	}
}

// Replay applies ops in order and reports whether anything changed.
func Replay(r Record, ops []Op) (Record, bool) {
	changed := false
	for _, op := range ops {
		p := op.Patch(r)
		if p.IsEmpty() {
			continue
		}
		r = r.Apply(p)
		changed = true
	}
	return r, changed
}
