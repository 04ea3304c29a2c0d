package agent

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/bowerhall/mira/internal/budget"
	"github.com/bowerhall/mira/internal/embedder"
	"github.com/bowerhall/mira/internal/llm"
	"github.com/bowerhall/mira/internal/memory"
	"github.com/bowerhall/mira/internal/session"
	"github.com/bowerhall/mira/internal/tools"
)

// Archiver keeps a copy of a conversation before it is deleted.
type Archiver interface {
	ArchiveTranscript(ctx context.Context, conversationID string, participants []memory.Participant, messages []memory.Message) error
}

type Config struct {
	AgentHostname string
	SystemPrompt  string
	MaxSteps      int
	Retry         llm.RetryConfig
	// HistoryLimit bounds the transcript placed in the prompt; RelatedLimit
	// bounds the similar messages recalled from outside that window.
	HistoryLimit int
	RelatedLimit int
	Timezone     *time.Location
}

// Request is one inbound user message.
type Request struct {
	Content        string
	Hostname       string
	ConversationID string
}

type Agent struct {
	store        *memory.Store
	embedder     *embedder.Service
	llm          llm.Provider
	tools        *tools.Registry
	sessions     *session.Store
	identities   *ristretto.Cache
	archive      Archiver
	budget       *budget.Tracker
	self         *memory.User
	hostname     string
	systemPrompt string
	opts         llm.Options
	historyLimit int
	relatedLimit int
	startedAt    time.Time
}
