package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/bowerhall/mira/internal/memory"
)

// Uploader is the subset of Client the archive needs.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) error
}

// Transcript is the archived form of a conversation.
type Transcript struct {
	ConversationID string              `json:"conversationId"`
	ArchivedAt     time.Time           `json:"archivedAt"`
	Participants   []string            `json:"participants"`
	Messages       []TranscriptMessage `json:"messages"`
}

type TranscriptMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Archive writes conversation transcripts as JSON objects.
type Archive struct {
	up  Uploader
	now func() time.Time
}

func NewArchive(up Uploader) *Archive {
	return &Archive{up: up, now: time.Now}
}

// ObjectName is where a conversation's transcript is stored.
func ObjectName(conversationID string) string {
	return path.Join("conversations", conversationID+".json")
}

func (a *Archive) ArchiveTranscript(ctx context.Context, conversationID string, participants []memory.Participant, messages []memory.Message) error {
	t := Transcript{
		ConversationID: conversationID,
		ArchivedAt:     a.now().UTC(),
		Participants:   make([]string, 0, len(participants)),
		Messages:       make([]TranscriptMessage, 0, len(messages)),
	}

	for _, p := range participants {
		t.Participants = append(t.Participants, p.UserID)
	}
	for _, m := range messages {
		t.Messages = append(t.Messages, TranscriptMessage{
			ID:        m.ID,
			UserID:    m.UserID,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.UTC(),
		})
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript %s: %w", conversationID, err)
	}

	return a.up.Upload(ctx, ObjectName(conversationID), data, "application/json")
}
