package domain

import "time"

// EventType names a chat lifecycle event
type EventType string

const (
	EventTypeChatCompleted EventType = "chat.completed"
	EventTypeChatFailed    EventType = "chat.failed"
)

// TopicChatEvents is the bus topic all chat lifecycle events go to
const TopicChatEvents = "chat.events"

// Event is published after every handled chat request
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	RequestID string                 `json:"request_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
