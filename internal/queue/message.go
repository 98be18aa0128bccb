package queue

import "encoding/json"

// MessageVersion is bumped whenever the payload shape changes.
const MessageVersion = 2

// Message asks a worker process to run a persisted background task.
type Message struct {
	TaskID     string `json:"taskId"`
	Kind       string `json:"kind"`
	UserID     string `json:"userId,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
