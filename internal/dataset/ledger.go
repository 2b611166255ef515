package dataset

// Ledger tracks which release dates each dataset already holds. It has no
// state of its own: the date set lives in the Dataset it mirrors, so it is
// rebuilt simply by loading the dataset again.
type Ledger struct {
	sets map[Kind]*Dataset
}

// NewLedger returns a ledger over the given datasets.
func NewLedger(sets ...*Dataset) *Ledger {
	l := &Ledger{sets: make(map[Kind]*Dataset, len(sets))}
	for _, d := range sets {
		l.sets[d.Kind()] = d
	}
	return l
}

// Dataset returns the mirror for kind, or nil if the ledger does not track it.
func (l *Ledger) Dataset(kind Kind) *Dataset {
	return l.sets[kind]
}

// IsIngested reports whether date has already been ingested into kind.
func (l *Ledger) IsIngested(kind Kind, date string) bool {
	d := l.sets[kind]
	return d != nil && d.HasDate(date)
}

// MarkIngested records date as ingested for kind.
func (l *Ledger) MarkIngested(kind Kind, date string) {
	if d := l.sets[kind]; d != nil {
		d.markDate(date)
	}
}
