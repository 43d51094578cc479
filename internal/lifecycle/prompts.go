package lifecycle

import (
	"fmt"
	"strings"

	"github.com/rcliao/agent-memgit/internal/model"
)

const analyzePrompt = `Analyze the following conversation and determine if there is important information that should be stored as long-term memory.

Things worth remembering:
- User preferences (e.g., "I prefer dark mode", "I like Python")
- User facts (e.g., name, occupation, location, timezone)
- Project details (e.g., "this project uses Python 3.11")
- Task outcomes (e.g., "completed the migration to new API")
- Important decisions or agreements

Things NOT worth remembering:
- Greetings and casual chat
- One-time requests (e.g., "what's 2+2")
- Information already in memory
- Temporary context that won't be useful later

Current conversation:
%s

Current memory context (what we already know):
%s

Respond with a single JSON object and nothing else:
{
  "should_remember": true or false,
  "reason": "brief explanation",
  "facts": [
    {
      "subject": "who/what this is about",
      "predicate": "the relationship/action",
      "object": "the value/detail",
      "scope": "optional context like 'work', 'personal' or a project name, or empty",
      "confidence": 0.0 to 1.0
    }
  ]
}

Return at most %d facts. If should_remember is false, facts must be an empty list.`

const classifyPrompt = `Classify each candidate fact against the existing memory.

Existing memory:
%s

Candidate facts:
%s

For every candidate choose exactly one action:
- "add": new information not present in memory
- "update": changes the value of something already in memory
- "delete": says something in memory is no longer true
- "noop": already known or not worth storing

Respond with a single JSON object and nothing else, with exactly one row per candidate index:
{
  "actions": [
    {"index": 1, "action": "add" | "update" | "delete" | "noop", "reason": "brief explanation"}
  ]
}`

const resolvePrompt = `There is a conflict in memory. We have existing information that may contradict new information.

Existing memory:
- Subject: %s
- Predicate: %s
- Object: %s
- Scope: %s
- Recorded at: %s
- Source: %s

New information:
- Subject: %s
- Predicate: %s
- Object: %s
- Source: %s

Context from conversation:
%s

Determine how to handle this conflict:
- "keep_old": Keep the existing memory, ignore new information
- "use_new": Update with new information (deprecate old)
- "both_valid": Both are valid in different contexts (different scopes)
- "ask_user": Unclear, should ask user for clarification

Respond with a single JSON object and nothing else:
{
  "action": "keep_old" | "use_new" | "both_valid" | "ask_user",
  "reason": "explanation",
  "scope_for_new": "if both_valid, the scope the new memory should have"
}`

const commitMessagePrompt = `Generate a brief, descriptive commit message for the following memory changes:

Changes:
%s

Context:
%s

Respond with a single line commit message (max %d chars), no quotes or formatting.`

const personaPrompt = `Based on the current conversation, determine which persona/role is most appropriate for this interaction.

Available personas:
%s

Current conversation:
%s

Current persona: %s

Consider:
- What kind of task is being discussed?
- What expertise is needed?
- Has the conversation topic shifted significantly?

Respond with a single JSON object and nothing else:
{
  "should_switch": true or false,
  "target_persona": "existing persona name, or empty if creating new",
  "new_persona_name": "name for a new persona, or empty",
  "new_persona_description": "description if creating new",
  "reason": "brief explanation"
}`

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func formatCandidates(facts []Fact) string {
	var b strings.Builder
	for i, f := range facts {
		fmt.Fprintf(&b, "%d. %s %s %s", i+1, f.Subject, f.Predicate, f.Object)
		if f.Scope != "" {
			fmt.Fprintf(&b, " (scope: %s)", f.Scope)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatChanges(events []model.Event) string {
	lines := make([]string, len(events))
	for i, ev := range events {
		lines[i] = fmt.Sprintf("- [%s] %s %s %s", ev.Type, ev.Subject, ev.Predicate, ev.Object)
	}
	return strings.Join(lines, "\n")
}
