package permissions

// Ledger is the ordered, de-duplicated set of staged changes.
// Restaging a triple replaces its value in place and keeps the position of
// the first staging.
type Ledger struct {
	order []Key
	index map[Key]int
	value map[Key]bool
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{index: make(map[Key]int), value: make(map[Key]bool)}
}

// Stage records the intent for a triple.
func (l *Ledger) Stage(key Key, allowed bool) {
	if _, ok := l.index[key]; !ok {
		l.index[key] = len(l.order)
		l.order = append(l.order, key)
	}
	l.value[key] = allowed
}

// Size is the number of distinct staged triples.
func (l *Ledger) Size() int {
	return len(l.order)
}

// Get returns the staged value for a triple.
func (l *Ledger) Get(key Key) (bool, bool) {
	v, ok := l.value[key]
	return v, ok
}

// Changes returns the staged changes in first-staging order.
func (l *Ledger) Changes() []Change {
	out := make([]Change, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, Change{Key: key, Allowed: l.value[key]})
	}
	return out
}

// Clear empties the ledger.
func (l *Ledger) Clear() {
	l.order = nil
	l.index = make(map[Key]int)
	l.value = make(map[Key]bool)
}
