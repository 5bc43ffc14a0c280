package pcie

import "strconv"

// table is the Panel Table: the shared data structure holding panel
// metadata, cached content, and lifecycle flags. It is owned exclusively by
// the engine's single control-flow thread — every method on table is called
// only from Engine methods, which the host is required to invoke from one
// goroutine. table itself carries no locks; the single-writer discipline is
// a calling-convention guarantee, not a runtime-enforced one. Panel
// snapshots for introspection are copied out under Engine's own mutex (see
// engine.go) rather than read directly here.
type table struct {
	panels map[string]*Panel
	order  []string // creation order, for deterministic snapshot output
	nextID int
}

func newTable() *table {
	return &table{panels: make(map[string]*Panel)}
}

func (t *table) insert(p *Panel) {
	t.panels[p.ID] = p
	t.order = append(t.order, p.ID)
}

func (t *table) get(id string) (*Panel, bool) {
	p, ok := t.panels[id]
	return p, ok
}

func (t *table) remove(id string) {
	if _, ok := t.panels[id]; !ok {
		return
	}
	delete(t.panels, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *table) allocID(prefix string) string {
	t.nextID++
	return prefix + "-" + strconv.Itoa(t.nextID)
}

// all returns panels in creation order. The returned slice aliases the
// table's own pointers; callers within the engine package may mutate the
// pointed-to Panel (that is the whole point — Panel is the unit of cache
// state) but must not retain the slice across a tick.
func (t *table) all() []*Panel {
	out := make([]*Panel, 0, len(t.order))
	for _, id := range t.order {
		if p, ok := t.panels[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (t *table) byKind(k Kind) []*Panel {
	var out []*Panel
	for _, p := range t.all() {
		if p.Kind == k {
			out = append(out, p)
		}
	}
	return out
}
