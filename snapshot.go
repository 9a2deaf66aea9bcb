package lifetimes

// Snapshot is a point-in-time view of a definition and its attached
// children, for diagnostics only.
type Snapshot struct {
	ID        string
	Status    Status
	Executing int
	Resources int
	Children  []Snapshot
}

// Snapshot captures d and its children that haven't started terminating.
// Resources still counts every entry d holds, pruned or not.
func (d *Definition) Snapshot() Snapshot {
	s := d.state.Load()
	snap := Snapshot{
		ID:        d.ID(),
		Status:    statusOf(s),
		Executing: int(executingOf(s)),
		Resources: int(d.resCount.Load()),
	}
	if snap.ID == "" {
		snap.ID = AnonymousID
	}

	var children []*Definition
	d.underMutexIf(func(s Status) bool { return s < Terminating }, func() {
		for _, r := range d.resources {
			if r.kind == kindChild && !r.isDeadChild() {
				children = append(children, r.def)
			}
		}
	})
	for _, c := range children {
		snap.Children = append(snap.Children, c.Snapshot())
	}
	return snap
}

// Count returns the number of definitions in the snapshot tree.
func (s Snapshot) Count() int {
	n := 1
	for _, c := range s.Children {
		n += c.Count()
	}
	return n
}
