package queue

// Buffered returns the number of events held for the handle's first reader.
func (h *ItemHandle[P]) Buffered() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.first == nil {
		return 0
	}
	return h.first.Len()
}
