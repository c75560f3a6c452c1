package nats

import (
	"time"

	"github.com/brojonat/memofeed/service/solana"
)

// Event sources.
const (
	SourceSubmitted = "submitted" // confirmed by this service's submission pipeline
	SourceArchived  = "archived"  // newly stored by the archive workflow
)

// MemoEvent represents a memo published to NATS.
// This is published to the subject "memos.{account}" in JetStream.
type MemoEvent struct {
	Signature string `json:"signature"`
	Account   string `json:"account"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // block time, unix seconds
	Network   string `json:"network"`
	Source    string `json:"source"`

	PublishedAt time.Time `json:"published_at"`
}

// FromMemo converts a feed memo into an event for publishing.
func FromMemo(account, network, source string, m solana.Memo) *MemoEvent {
	return &MemoEvent{
		Signature:   m.ID,
		Account:     account,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
		Network:     network,
		Source:      source,
		PublishedAt: time.Now().UTC(),
	}
}

// Subject is the subject an event is published on.
func (e *MemoEvent) Subject() string {
	return SubjectPrefix + e.Account
}
