package agent

import (
	"fmt"
	"strings"

	"github.com/bowerhall/mira/internal/memory"
)

const defaultSystemPrompt = `# Mira Agent

You are a highly capable Mira Agent designed to assist users with their queries.

## GUIDELINES FOR RESPONSES:
- **Clarity & Conciseness:** Provide direct answers and updates.
- **Actionable Advice:** Clearly state the steps you are taking or have taken.
- **Professional & Friendly Tone:** Maintain a helpful and polite demeanor.
- **Accuracy:** Ensure all information is correct and all tool usage is precise.
- **Focus:** Stay strictly on topic with the user's query.
- **Avoid:** Do not apologize unnecessarily, use conversational fillers, or ask for clarification unless absolutely essential.

## TOOL USAGE GUIDELINES:
- **Task Breakdown:** Break down complex requests into a sequence of smaller steps.
- **Pre-Announcement:** Before each tool call, briefly tell the user what you are about to do. Do not ask for confirmation.
- **Execution:** After announcing a tool, immediately use it. Do not end your message after the announcement.
- **No Hallucination:** Never invent information or fake the use of a tool. If a tool cannot do what was asked, say so.
- **Memory:** Use recall_messages when the user refers to something said earlier that is not in the history below.`

const turnTemplate = `# CURRENT CONVERSATION HISTORY
%s
%s
# USER MESSAGE/REQUEST

%s

# IMPORTANT:
OUTPUT ONLY THE NEXT MESSAGE IN PLAIN TEXT, nothing else.`

// isoMillis matches the timestamps clients already display.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

func formatLine(m memory.Message, agentID string) string {
	role := "user"
	if m.UserID == agentID {
		role = "agent"
	}
	return fmt.Sprintf("[%s](%s) %s", m.CreatedAt.UTC().Format(isoMillis), role, m.Content)
}

// formatConversation renders messages one per line as
// "[timestamp](agent|user) content".
func formatConversation(messages []memory.Message, agentID string) string {
	lines := make([]string, len(messages))
	for i, m := range messages {
		lines[i] = formatLine(m, agentID)
	}
	return strings.Join(lines, "\n")
}

// buildTask assembles the user turn sent to the model: the recent
// transcript, related earlier messages that fell outside it, and the new
// message itself.
func buildTask(history, related []memory.Message, current *memory.Message, agentID string, historyLimit int) string {
	window := make([]memory.Message, 0, len(history))
	for _, m := range history {
		if m.ID != current.ID {
			window = append(window, m)
		}
	}
	if historyLimit > 0 && len(window) > historyLimit {
		window = window[len(window)-historyLimit:]
	}

	shown := make(map[string]bool, len(window)+1)
	for _, m := range window {
		shown[m.ID] = true
	}
	shown[current.ID] = true

	var extra []memory.Message
	for _, m := range related {
		if !shown[m.ID] {
			extra = append(extra, m)
		}
	}

	transcript := "```\n" + formatConversation(window, agentID) + "\n```\n"

	var recalled string
	if len(extra) > 0 {
		recalled = "\n# RELEVANT EARLIER MESSAGES\n```\n" + formatConversation(extra, agentID) + "\n```\n"
	}

	return fmt.Sprintf(turnTemplate, transcript, recalled, current.Content)
}
