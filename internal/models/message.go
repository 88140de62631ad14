package models

import (
	"strings"
	"time"
)

// MediaKind is the Telegram media type of an attachment
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVoice MediaKind = "voice"
	MediaVideo MediaKind = "video"
)

// Media references an attachment already uploaded to Telegram
type Media struct {
	Kind   MediaKind
	FileID string
}

// Button is an inline keyboard button. Exactly one of Callback and URL is set.
type Button struct {
	Label    string
	Callback string
	URL      string
}

// Outbound is one message to deliver to the user
type Outbound struct {
	Text    string
	Buttons []Button
	Media   *Media
	// Delay is waited before sending this message
	Delay time.Duration
}

// Callback payloads routed back as button presses
const (
	CallbackConsent     = "consent"
	CallbackTimeKnown   = "time:known"
	CallbackTimeUnknown = "time:unknown"
	CallbackRestart     = "restart"

	nodeCallbackPrefix = "node:"
)

// NodeCallback encodes a content tree edge.
func NodeCallback(key string) string {
	return nodeCallbackPrefix + key
}

// ParseNodeCallback returns the node key of a node callback.
func ParseNodeCallback(data string) (string, bool) {
	if !strings.HasPrefix(data, nodeCallbackPrefix) {
		return "", false
	}
	key := strings.TrimPrefix(data, nodeCallbackPrefix)
	return key, key != ""
}
