package memory

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"sync"
)

//go:embed queries/*.sql
var embeddedQueries embed.FS

const (
	queryInsertUser                     = "insert_user"
	querySelectUserByID                 = "select_user_by_id"
	querySelectUserByHostname           = "select_user_by_hostname"
	querySelectAgentUser                = "select_agent_user"
	queryInsertConversation             = "insert_conversation"
	queryInsertParticipant              = "insert_participant"
	querySelectConversation             = "select_conversation"
	querySelectConversationsByUser      = "select_conversations_by_user"
	querySelectParticipants             = "select_participants"
	queryDeleteConversation             = "delete_conversation"
	queryTouchConversation              = "touch_conversation"
	queryInsertMessage                  = "insert_message"
	querySelectMessages                 = "select_messages"
	querySelectSimilarCosine            = "select_similar_messages_cosine"
	querySelectSimilarL2                = "select_similar_messages_l2"
	queryUpdateMessageEmbedding         = "update_message_embedding"
	querySelectMessagesMissingEmbedding = "select_messages_missing_embedding"
	querySelectMeta                     = "select_meta"
	queryInsertMeta                     = "insert_meta"
)

// authorizedQueries is the allowlist consulted outside development.
var authorizedQueries = map[string]struct{}{
	queryInsertUser:                     {},
	querySelectUserByID:                 {},
	querySelectUserByHostname:           {},
	querySelectAgentUser:                {},
	queryInsertConversation:             {},
	queryInsertParticipant:              {},
	querySelectConversation:             {},
	querySelectConversationsByUser:      {},
	querySelectParticipants:             {},
	queryDeleteConversation:             {},
	queryTouchConversation:              {},
	queryInsertMessage:                  {},
	querySelectMessages:                 {},
	querySelectSimilarCosine:            {},
	querySelectSimilarL2:                {},
	queryUpdateMessageEmbedding:         {},
	querySelectMessagesMissingEmbedding: {},
	querySelectMeta:                     {},
	queryInsertMeta:                     {},
}

var ErrQueryNotAuthorized = errors.New("query not authorized")

var queryName = regexp.MustCompile(`^[a-z0-9_]+$`)

// QueryBook resolves named SQL bodies. Outside development only names in
// the allowlist resolve; everything else is refused.
type QueryBook struct {
	fsys        fs.FS
	development bool

	mu    sync.RWMutex
	cache map[string]string
}

// NewQueryBook reads from dir when set, otherwise from the queries
// compiled into the binary.
func NewQueryBook(dir string, development bool) *QueryBook {
	var fsys fs.FS
	if dir != "" {
		fsys = os.DirFS(dir)
	} else {
		sub, _ := fs.Sub(embeddedQueries, "queries")
		fsys = sub
	}

	return &QueryBook{
		fsys:        fsys,
		development: development,
		cache:       make(map[string]string),
	}
}

func (b *QueryBook) Load(name string) (string, error) {
	if !queryName.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrQueryNotAuthorized, name)
	}

	if !b.development {
		if _, ok := authorizedQueries[name]; !ok {
			return "", fmt.Errorf("%w: %q", ErrQueryNotAuthorized, name)
		}
	}

	b.mu.RLock()
	body, ok := b.cache[name]
	b.mu.RUnlock()
	if ok {
		return body, nil
	}

	data, err := fs.ReadFile(b.fsys, name+".sql")
	if err != nil {
		return "", fmt.Errorf("load query %s: %w", name, err)
	}

	body = strings.TrimSpace(string(data))
	if body == "" {
		return "", fmt.Errorf("load query %s: empty body", name)
	}

	b.mu.Lock()
	b.cache[name] = body
	b.mu.Unlock()

	return body, nil
}

// Preload resolves every allowlisted query so a missing file fails at
// startup rather than on first use.
func (b *QueryBook) Preload() error {
	for name := range authorizedQueries {
		if _, err := b.Load(name); err != nil {
			return err
		}
	}
	return nil
}
