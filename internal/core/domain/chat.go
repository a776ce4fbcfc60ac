package domain

import (
	"sync"
	"time"
)

// ChatChannelLabel names the data channel that carries chat text.
const ChatChannelLabel = "chat"

type Direction string

const (
	DirectionSelf   Direction = "self"
	DirectionRemote Direction = "remote"
	DirectionSystem Direction = "system"
)

type ChatMessage struct {
	Text      string
	Direction Direction
	Timestamp time.Time
}

// Clock renders the message time as HH:MM.
func (m ChatMessage) Clock() string {
	return m.Timestamp.Local().Format("15:04")
}

// Transcript is an append-only, concurrency-safe message list.
type Transcript struct {
	mu       sync.RWMutex
	messages []ChatMessage
}

func (t *Transcript) Append(msg ChatMessage) {
	t.mu.Lock()
	t.messages = append(t.messages, msg)
	t.mu.Unlock()
}

// AppendChunk extends the last message when it has the same direction,
// otherwise starts a new one. Used for streamed replies.
func (t *Transcript) AppendChunk(dir Direction, chunk string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.messages); n > 0 && t.messages[n-1].Direction == dir {
		t.messages[n-1].Text += chunk
		return
	}
	t.messages = append(t.messages, ChatMessage{Text: chunk, Direction: dir, Timestamp: now})
}

func (t *Transcript) Messages() []ChatMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]ChatMessage(nil), t.messages...)
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

func (t *Transcript) Clear() {
	t.mu.Lock()
	t.messages = nil
	t.mu.Unlock()
}
