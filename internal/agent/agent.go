package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bowerhall/mira/internal/apperr"
	"github.com/bowerhall/mira/internal/budget"
	"github.com/bowerhall/mira/internal/embedder"
	"github.com/bowerhall/mira/internal/llm"
	"github.com/bowerhall/mira/internal/logger"
	"github.com/bowerhall/mira/internal/memory"
	"github.com/bowerhall/mira/internal/session"
	"github.com/bowerhall/mira/internal/stream"
	"github.com/bowerhall/mira/internal/tools"
)

const (
	defaultHistoryLimit = 50
	defaultRelatedLimit = 5

	// genericErrorMessage is all a client ever learns about a failure.
	genericErrorMessage = "Internal server error"
	busyMessage         = "conversation busy"
	budgetMessage       = "daily token budget exhausted"
)

var (
	ErrConversationBusy = errors.New(busyMessage)
	ErrBudgetExhausted  = errors.New(budgetMessage)
)

func New(store *memory.Store, emb *embedder.Service, provider llm.Provider, cfg Config) (*Agent, error) {
	identities, err := newIdentityCache()
	if err != nil {
		return nil, fmt.Errorf("identity cache: %w", err)
	}

	registry := tools.NewRegistry()
	tools.RegisterMemoryTools(registry, emb, store)
	tools.RegisterTimeTools(registry, cfg.Timezone)

	hostname := cfg.AgentHostname
	if hostname == "" {
		hostname = "mira-agent"
	}

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}

	relatedLimit := cfg.RelatedLimit
	if relatedLimit <= 0 {
		relatedLimit = defaultRelatedLimit
	}

	return &Agent{
		store:        store,
		embedder:     emb,
		llm:          provider,
		tools:        registry,
		sessions:     session.NewStore(),
		identities:   identities,
		hostname:     hostname,
		systemPrompt: systemPrompt,
		opts:         llm.Options{MaxSteps: cfg.MaxSteps, Retry: cfg.Retry},
		historyLimit: historyLimit,
		relatedLimit: relatedLimit,
		startedAt:    time.Now(),
	}, nil
}

func (a *Agent) SetArchive(archive Archiver) {
	a.archive = archive
}

// SetBudget caps the tokens spent on generation per day. Turns are refused
// before anything is stored once the cap is reached.
func (a *Agent) SetBudget(tracker *budget.Tracker) {
	a.budget = tracker
}

func (a *Agent) Registry() *tools.Registry {
	return a.tools
}

func (a *Agent) Close() {
	a.identities.Close()
}

// Turn is a prepared interaction holding its conversation's turn lock.
// Run or Release must be called exactly once.
type Turn struct {
	agent          *Agent
	user           *memory.User
	conversationID string
	content        string
	sess           *session.Session
}

func (t *Turn) ConversationID() string { return t.conversationID }

func (t *Turn) UserID() string { return t.user.ID }

func (t *Turn) Release() {
	t.sess.Release()
}

// Prepare resolves the caller and conversation and takes the
// conversation's turn lock. Nothing is written to the store.
func (a *Agent) Prepare(ctx context.Context, req Request) (*Turn, error) {
	const op = "agent.Prepare"

	if a.self == nil {
		return nil, apperr.New(apperr.KindBusinessLogic, op, "agent not bootstrapped")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, apperr.Validation(op, "content is required")
	}
	hostname := strings.TrimSpace(req.Hostname)
	if hostname == "" {
		return nil, apperr.Validation(op, "hostname is required")
	}

	if a.budget != nil && !a.budget.Allow() {
		return nil, &apperr.Error{Kind: apperr.KindBusinessLogic, Op: op, Msg: "daily limit reached", Err: ErrBudgetExhausted}
	}

	user, err := a.resolveUser(ctx, hostname)
	if err != nil {
		return nil, err
	}

	conversationID, err := a.resolveConversation(ctx, user, req.ConversationID)
	if err != nil {
		return nil, err
	}

	sess := a.sessions.Get(conversationID)
	if !sess.TryAcquire() {
		return nil, &apperr.Error{Kind: apperr.KindBusinessLogic, Op: op, Msg: conversationID, Err: ErrConversationBusy}
	}

	return &Turn{
		agent:          a,
		user:           user,
		conversationID: conversationID,
		content:        req.Content,
		sess:           sess,
	}, nil
}

// HandleMessage runs one interaction end to end, writing frames to w. w is
// closed exactly once before HandleMessage returns.
func (a *Agent) HandleMessage(ctx context.Context, req Request, w io.Writer) error {
	turn, err := a.Prepare(ctx, req)
	if err != nil {
		sw := stream.NewWriter(w)
		defer sw.Close()

		logger.Error("message rejected", "hostname", req.Hostname, "error", err)
		_ = sw.WriteError(ClientMessage(err))
		return err
	}

	return turn.Run(ctx, w)
}

// ClientMessage is the text placed in an error frame for err.
func ClientMessage(err error) string {
	switch {
	case errors.Is(err, ErrConversationBusy):
		return busyMessage
	case errors.Is(err, ErrBudgetExhausted):
		return budgetMessage
	}
	return genericErrorMessage
}

// Run stores the user's message, generates the agent's reply as a stream
// of frames on w, and stores the reply. It releases the turn lock and
// closes w exactly once.
func (t *Turn) Run(ctx context.Context, w io.Writer) error {
	defer t.Release()

	a := t.agent
	sw := stream.NewWriter(w)
	defer sw.Close()

	log := logger.With("conversation", t.conversationID, "user", t.user.ID)

	fail := func(err error) error {
		log.Error("message processing failed", "error", err)
		if !sw.Closed() {
			_ = sw.WriteError(genericErrorMessage)
		}
		return err
	}

	vec := a.embed(ctx, t.content)

	msg, err := a.store.CreateMessage(ctx, t.conversationID, t.user.ID, t.content, vec)
	if err != nil {
		return fail(err)
	}

	history, err := a.store.GetMessages(ctx, t.conversationID, memory.MessageQuery{})
	if err != nil {
		return fail(err)
	}

	var related []memory.Message
	if vec != nil {
		related, err = a.store.GetMessages(ctx, t.conversationID, memory.MessageQuery{
			Embedding: vec,
			Limit:     a.relatedLimit + 1,
		})
		if err != nil {
			return fail(err)
		}
	}

	task := buildTask(history, related, msg, a.self.ID, a.historyLimit)

	loop, err := NewLoop(task, a.runtime(sw, t), a.saveReply(t), func(ctx context.Context, s State) error {
		return fail(s.Err)
	})
	if err != nil {
		return fail(err)
	}

	if err := loop.Execute(ctx); err != nil {
		// failures are reported by the error callback; only a failed save
		// of a successful reply reaches here unreported
		if loop.State().Outcome == Success {
			return fail(err)
		}
		return err
	}

	log.Debug("message processed", "reply_chars", len(loop.State().Result))
	return nil
}

// runtime streams generation through a channel into sw so frames reach the
// client in the order they were produced.
func (a *Agent) runtime(sw *stream.Writer, t *Turn) Runtime {
	return func(ctx context.Context, task string) (string, error) {
		ctx = tools.WithConversation(ctx, t.conversationID, t.user.ID)

		genCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		chunks := make(chan stream.Chunk, 32)
		done := make(chan struct{})

		var (
			result *llm.Result
			genErr error
		)

		go func() {
			defer close(done)
			defer close(chunks)

			req := llm.Request{
				System:   a.systemPrompt,
				Messages: []llm.Message{{Role: "user", Content: task}},
			}
			emit := func(c stream.Chunk) error {
				return stream.Send(genCtx, chunks, c)
			}

			result, genErr = llm.Generate(genCtx, a.llm, req, a.tools, emit, a.opts)
		}()

		pumpErr := stream.PumpCancel(genCtx, chunks, sw, cancel)
		cancel()
		<-done

		if result != nil && a.budget != nil {
			a.budget.Record(a.llm.Provider(), a.llm.Model(), result.Usage.PromptTokens, result.Usage.CompletionTokens)
		}

		if genErr != nil {
			return "", genErr
		}
		if pumpErr != nil {
			return "", pumpErr
		}

		return strings.TrimSpace(result.Text), nil
	}
}

func (a *Agent) saveReply(t *Turn) Callback {
	return func(ctx context.Context, s State) error {
		if s.Result == "" {
			logger.Warn("empty reply not stored", "conversation", t.conversationID)
			return nil
		}

		vec := a.embed(ctx, s.Result)
		if _, err := a.store.CreateMessage(ctx, t.conversationID, a.self.ID, s.Result, vec); err != nil {
			logger.Error("failed to store reply", "conversation", t.conversationID, "error", err)
			return err
		}
		return nil
	}
}

// embed returns nil when the embedder is unavailable; such messages are
// filled in later by the backfill job.
func (a *Agent) embed(ctx context.Context, text string) []float32 {
	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		logger.Warn("embedding failed, storing message without one", "error", err)
		return nil
	}
	return vec
}

// ForgetConversation archives the conversation when an archive is set and
// then deletes it with all its messages and participants.
func (a *Agent) ForgetConversation(ctx context.Context, conversationID string) error {
	const op = "agent.ForgetConversation"

	sess := a.sessions.Get(conversationID)
	if !sess.TryAcquire() {
		return &apperr.Error{Kind: apperr.KindBusinessLogic, Op: op, Msg: conversationID, Err: ErrConversationBusy}
	}

	participants, err := a.forget(ctx, conversationID)
	sess.Release()
	if err != nil {
		return err
	}

	a.forgetIdentities(participants)
	a.sessions.Delete(conversationID)

	logger.Info("conversation deleted", "id", conversationID, "archived", a.archive != nil)
	return nil
}

func (a *Agent) forget(ctx context.Context, conversationID string) ([]memory.Participant, error) {
	participants, err := a.store.GetParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if a.archive != nil && len(participants) > 0 {
		messages, err := a.store.GetMessages(ctx, conversationID, memory.MessageQuery{})
		if err != nil {
			return nil, err
		}
		if err := a.archive.ArchiveTranscript(ctx, conversationID, participants, messages); err != nil {
			return nil, apperr.Wrap(apperr.KindExternalService, "agent.archive", err)
		}
	}

	if err := a.store.DeleteConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	return participants, nil
}

// Status summarises the agent for health reporting.
type Status struct {
	AgentID        string           `json:"agentId,omitempty"`
	Provider       string           `json:"provider"`
	Model          string           `json:"model"`
	EmbedderReady  bool             `json:"embedderReady"`
	ActiveTurns    int              `json:"activeTurns"`
	Uptime         time.Duration    `json:"uptime"`
	UptimeReadable string           `json:"uptimeReadable"`
	Budget         *budget.Snapshot `json:"budget,omitempty"`
}

func (a *Agent) Status() Status {
	up := time.Since(a.startedAt).Round(time.Second)

	s := Status{
		Provider:       a.llm.Provider(),
		Model:          a.llm.Model(),
		EmbedderReady:  a.embedder.Ready(),
		ActiveTurns:    a.sessions.Active(),
		Uptime:         up,
		UptimeReadable: up.String(),
	}
	if a.self != nil {
		s.AgentID = a.self.ID
	}
	if a.budget != nil {
		snap := a.budget.Snapshot()
		s.Budget = &snap
	}
	return s
}
