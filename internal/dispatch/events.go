package dispatch

import "sync"

// Events buffers vehicle arrival and departure notifications between
// simulator callbacks and the command loop. The buffers are owned state
// passed into the dispatcher, not process-wide variables; each drain
// returns the accumulated ids exactly once and leaves the buffer empty.
//
// Simulator callbacks and the command loop normally run on the same
// thread, but the buffer is guarded anyway so a simulator backend may fire
// callbacks from its own goroutines.
type Events struct {
	mu      sync.Mutex
	entered []int
	exited  []int
}

// VehicleEntered records a vehicle that entered the network.
func (e *Events) VehicleEntered(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.entered = append(e.entered, id)
}

// VehicleExited records a vehicle that left the network.
func (e *Events) VehicleExited(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.exited = append(e.exited, id)
}

// DrainEntered returns and clears the entered buffer.
func (e *Events) DrainEntered() []int {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := e.entered
	e.entered = nil

	return ids
}

// DrainExited returns and clears the exited buffer.
func (e *Events) DrainExited() []int {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := e.exited
	e.exited = nil

	return ids
}
