package game

import "time"

// PriorityHistoryCap bounds the per-match priority log.
const PriorityHistoryCap = 50

// PriorityEntry records one priority-relevant action for the audit trail.
type PriorityEntry struct {
	PlayerID string    `json:"player_id"`
	Action   string    `json:"action"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// PriorityHistory is a fixed-capacity circular buffer of priority
// entries. Once full, each push overwrites the oldest entry.
type PriorityHistory struct {
	Entries []PriorityEntry `json:"entries"`
	Head    int             `json:"head"`
	Count   int             `json:"count"`
}

func NewPriorityHistory() *PriorityHistory {
	return &PriorityHistory{Entries: make([]PriorityEntry, PriorityHistoryCap)}
}

// Push appends an entry, evicting the oldest when at capacity.
func (h *PriorityHistory) Push(entry PriorityEntry) {
	if len(h.Entries) == 0 {
		h.Entries = make([]PriorityEntry, PriorityHistoryCap)
	}
	idx := (h.Head + h.Count) % len(h.Entries)
	h.Entries[idx] = entry
	if h.Count < len(h.Entries) {
		h.Count++
	} else {
		h.Head = (h.Head + 1) % len(h.Entries)
	}
}

// Len returns the number of retained entries.
func (h *PriorityHistory) Len() int {
	return h.Count
}

// List returns retained entries oldest first.
func (h *PriorityHistory) List() []PriorityEntry {
	out := make([]PriorityEntry, 0, h.Count)
	for i := 0; i < h.Count; i++ {
		out = append(out, h.Entries[(h.Head+i)%len(h.Entries)])
	}
	return out
}
