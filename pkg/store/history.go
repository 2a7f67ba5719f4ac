package store

import "sync"

// History is a linear undo/redo stack of performed actions.
type History struct {
	mu   sync.Mutex
	done []Action
	redo []Action
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// Perform executes the action and records it. Any redo entries are dropped.
func (h *History) Perform(a Action) {
	a.Do()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = append(h.done, a)
	h.redo = nil
}

// Undo reverts the most recent action. It returns the action, or nil when
// there was nothing to undo.
func (h *History) Undo() Action {
	h.mu.Lock()
	if len(h.done) == 0 {
		h.mu.Unlock()
		return nil
	}
	a := h.done[len(h.done)-1]
	h.done = h.done[:len(h.done)-1]
	h.redo = append(h.redo, a)
	h.mu.Unlock()

	a.Undo()
	return a
}

// Redo re-applies the most recently undone action.
func (h *History) Redo() Action {
	h.mu.Lock()
	if len(h.redo) == 0 {
		h.mu.Unlock()
		return nil
	}
	a := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.done = append(h.done, a)
	h.mu.Unlock()

	a.Do()
	return a
}

// CanUndo reports whether Undo has an action to revert.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.done) > 0
}

// CanRedo reports whether Redo has an action to re-apply.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo) > 0
}

// Len returns the number of actions that can be undone.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.done)
}
