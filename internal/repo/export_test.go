package repo

// Transition exposes state changes to tests.
func (h *DocHandle) Transition(next State) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.transition(next)
}
