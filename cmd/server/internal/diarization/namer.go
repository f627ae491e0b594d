package diarization

import (
	"fmt"
	"sync"
)

// SpeakerNamer maps opaque diarization ids to "Speaker N" labels in
// first-seen order. One namer belongs to one job; it is safe for concurrent
// use by that job's workers.
type SpeakerNamer struct {
	mu    sync.Mutex
	names map[string]string
}

func NewSpeakerNamer() *SpeakerNamer {
	return &SpeakerNamer{names: make(map[string]string)}
}

// Name returns the label for id, assigning the next number on first sight.
// An empty id stays empty.
func (n *SpeakerNamer) Name(id string) string {
	if id == "" {
		return ""
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if name, ok := n.names[id]; ok {
		return name
	}
	name := fmt.Sprintf("Speaker %d", len(n.names)+1)
	n.names[id] = name
	return name
}

// Count returns the number of distinct speakers named so far.
func (n *SpeakerNamer) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.names)
}

// Mapping returns a copy of the id → label table.
func (n *SpeakerNamer) Mapping() map[string]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]string, len(n.names))
	for k, v := range n.names {
		out[k] = v
	}
	return out
}
