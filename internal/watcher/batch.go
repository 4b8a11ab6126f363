package watcher

// batchState tracks one pending batch through
// idle -> accumulating -> settled -> dispatched -> idle.
type batchState int

const (
	stateIdle batchState = iota
	stateAccumulating
	stateSettled
	stateDispatched
)

func (s batchState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateAccumulating:
		return "accumulating"
	case stateSettled:
		return "settled"
	case stateDispatched:
		return "dispatched"
	}
	return "unknown"
}

// batch collects raw events between debounce settles.
type batch struct {
	state  batchState
	events int

	structural map[string]struct{} // created, removed or renamed paths
	created    map[string]struct{} // session logs created in this batch
	modified   map[string]struct{} // session logs written to
	lost       bool                // watch lost or overflowed; rewatch on settle
}

func newBatch() *batch {
	b := &batch{}
	b.reset()
	return b
}

func (b *batch) reset() {
	b.state = stateIdle
	b.events = 0
	b.structural = make(map[string]struct{})
	b.created = make(map[string]struct{})
	b.modified = make(map[string]struct{})
	b.lost = false
}
