package memory

import "time"

type User struct {
	ID        string
	Hostname  string
	IsAgent   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Conversation struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Participant struct {
	ConversationID string
	UserID         string
	CreatedAt      time.Time
}

type Message struct {
	ID             string
	ConversationID string
	UserID         string
	Content        string
	Embedding      []float32 // nil until computed
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Distance to the query vector; only set by similarity lookups.
	Distance float32
}

// PendingMessage is a message awaiting an embedding. Seq orders messages by
// insertion and serves as a resume cursor.
type PendingMessage struct {
	Message
	Seq int64
}

// MessageQuery selects between the chronological transcript (no
// Embedding) and nearest-neighbour retrieval.
type MessageQuery struct {
	Embedding []float32
	Limit     int
}

// UserLookup is one of ByID, ByHostname or AgentUser().
type UserLookup interface {
	userLookup()
}

type ByID string

type ByHostname string

type agentLookup struct{}

func (ByID) userLookup()        {}
func (ByHostname) userLookup()  {}
func (agentLookup) userLookup() {}

// AgentUser looks up the single agent identity.
func AgentUser() UserLookup {
	return agentLookup{}
}

type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
)

type Options struct {
	// Dimension of every stored embedding. Fixed for the lifetime of the
	// database file.
	Dimension   int
	Metric      Metric
	Development bool
	QueriesDir  string
}
