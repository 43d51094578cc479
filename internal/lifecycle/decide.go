package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcliao/agent-memgit/internal/model"
)

// Fact is a candidate memory extracted from a conversation.
type Fact struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Scope      string  `json:"scope,omitempty"`
	Confidence float64 `json:"confidence"`
}

func (f Fact) String() string {
	return fmt.Sprintf("%s %s %s", f.Subject, f.Predicate, f.Object)
}

// Decision is the answer to "is anything here worth remembering".
type Decision struct {
	ShouldRemember bool   `json:"should_remember"`
	Reason         string `json:"reason"`
	Facts          []Fact `json:"facts"`
}

// Action is the classification of one candidate fact.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionNoop   Action = "noop"
)

var validActions = map[Action]bool{
	ActionAdd: true, ActionUpdate: true, ActionDelete: true, ActionNoop: true,
}

// ResolutionAction says how a conflicting candidate is integrated.
type ResolutionAction string

const (
	KeepOld   ResolutionAction = "keep_old"
	UseNew    ResolutionAction = "use_new"
	BothValid ResolutionAction = "both_valid"
	AskUser   ResolutionAction = "ask_user"
)

var validResolutions = map[ResolutionAction]bool{
	KeepOld: true, UseNew: true, BothValid: true, AskUser: true,
}

// Resolution is the outcome of a conflict between a stored value and a
// candidate for the same key.
type Resolution struct {
	Action      ResolutionAction `json:"action"`
	Reason      string           `json:"reason"`
	ScopeForNew string           `json:"scope_for_new,omitempty"`
}

type rawFact struct {
	Subject    string   `json:"subject"`
	Predicate  string   `json:"predicate"`
	Object     string   `json:"object"`
	Scope      *string  `json:"scope"`
	Confidence *float64 `json:"confidence"`
}

func (r rawFact) fact(defaultConfidence float64) (Fact, error) {
	f := Fact{
		Subject:    strings.TrimSpace(r.Subject),
		Predicate:  strings.TrimSpace(r.Predicate),
		Object:     strings.TrimSpace(r.Object),
		Confidence: defaultConfidence,
	}
	if r.Scope != nil {
		f.Scope = strings.TrimSpace(*r.Scope)
	}
	if f.Subject == "" || f.Predicate == "" || f.Object == "" {
		return Fact{}, fmt.Errorf("subject, predicate and object are required")
	}
	if r.Confidence != nil {
		if *r.Confidence < 0 || *r.Confidence > 1 {
			return Fact{}, fmt.Errorf("confidence %v out of range", *r.Confidence)
		}
		f.Confidence = *r.Confidence
	}
	return f, nil
}

// Analyze asks whether the conversation holds facts worth remembering. Any
// failure falls back to remembering nothing.
func (c *Controller) Analyze(ctx context.Context, conversation, currentContext string) Outcome[Decision] {
	none := Decision{Facts: []Fact{}}
	prompt := fmt.Sprintf(analyzePrompt,
		Window(conversation, c.cfg.ConversationMaxChars),
		orDefault(currentContext, "No existing memories."),
		c.cfg.MaxFacts)

	resp, reason := c.ask(ctx, prompt)
	if reason != "" {
		c.warnFallback("analyze", reason)
		return fallback(none, reason)
	}

	var raw struct {
		ShouldRemember *bool     `json:"should_remember"`
		Reason         string    `json:"reason"`
		Facts          []rawFact `json:"facts"`
	}
	if err := decodeStrict(resp, &raw); err != nil {
		c.warnFallback("analyze", err.Error())
		return fallback(none, err.Error())
	}
	if raw.ShouldRemember == nil {
		c.warnFallback("analyze", "missing should_remember")
		return fallback(none, "missing should_remember")
	}

	d := Decision{ShouldRemember: *raw.ShouldRemember, Reason: raw.Reason, Facts: []Fact{}}
	if !d.ShouldRemember {
		return ok(d)
	}
	for i, rf := range raw.Facts {
		f, err := rf.fact(c.cfg.DefaultConfidence)
		if err != nil {
			reason := fmt.Sprintf("fact %d: %v", i+1, err)
			c.warnFallback("analyze", reason)
			return fallback(none, reason)
		}
		d.Facts = append(d.Facts, f)
	}
	if len(d.Facts) > c.cfg.MaxFacts {
		d.Facts = d.Facts[:c.cfg.MaxFacts]
	}
	return ok(d)
}

// Classify labels every fact with one action in a single oracle call. The
// response must hold exactly one row per fact index with a known action;
// otherwise every fact is treated as an add so nothing is silently dropped.
func (c *Controller) Classify(ctx context.Context, facts []Fact, currentContext string) Outcome[[]Action] {
	adds := make([]Action, len(facts))
	for i := range adds {
		adds[i] = ActionAdd
	}
	if len(facts) == 0 {
		return ok(adds)
	}
	if !c.cfg.ClassifyWithOracle {
		return fallback(adds, "classification disabled")
	}

	prompt := fmt.Sprintf(classifyPrompt,
		orDefault(currentContext, "No existing memories."),
		formatCandidates(facts))
	resp, reason := c.ask(ctx, prompt)
	if reason != "" {
		c.warnFallback("classify", reason)
		return fallback(adds, reason)
	}

	actions, err := parseActions(resp, len(facts))
	if err != nil {
		c.warnFallback("classify", err.Error())
		return fallback(adds, err.Error())
	}
	return ok(actions)
}

func parseActions(resp string, n int) ([]Action, error) {
	var raw struct {
		Actions []struct {
			Index  int    `json:"index"`
			Action Action `json:"action"`
			Reason string `json:"reason"`
		} `json:"actions"`
	}
	if err := decodeStrict(resp, &raw); err != nil {
		return nil, err
	}
	if len(raw.Actions) != n {
		return nil, fmt.Errorf("got %d rows for %d facts", len(raw.Actions), n)
	}
	actions := make([]Action, n)
	for _, row := range raw.Actions {
		if row.Index < 1 || row.Index > n {
			return nil, fmt.Errorf("index %d out of range", row.Index)
		}
		if actions[row.Index-1] != "" {
			return nil, fmt.Errorf("duplicate row for index %d", row.Index)
		}
		a := Action(strings.ToLower(strings.TrimSpace(string(row.Action))))
		if !validActions[a] {
			return nil, fmt.Errorf("unknown action %q for index %d", row.Action, row.Index)
		}
		actions[row.Index-1] = a
	}
	return actions, nil
}

// Resolve decides between a stored value and a differing candidate. Failure
// defers the decision to the user rather than overwriting.
func (c *Controller) Resolve(ctx context.Context, existing, candidate model.Event, conversation string) Outcome[Resolution] {
	deferred := Resolution{Action: AskUser}
	prompt := fmt.Sprintf(resolvePrompt,
		existing.Subject, existing.Predicate, existing.Object,
		orDefault(existing.Scope, "none"), model.FormatTime(existing.Timestamp), existing.Source,
		candidate.Subject, candidate.Predicate, candidate.Object, candidate.Source,
		orDefault(Window(conversation, c.cfg.ConversationMaxChars), "No additional context."))

	resp, reason := c.ask(ctx, prompt)
	if reason != "" {
		c.warnFallback("resolve", reason)
		return fallback(deferred, reason)
	}

	var r Resolution
	if err := decodeStrict(resp, &r); err != nil {
		c.warnFallback("resolve", err.Error())
		return fallback(deferred, err.Error())
	}
	r.Action = ResolutionAction(strings.ToLower(strings.TrimSpace(string(r.Action))))
	if !validResolutions[r.Action] {
		reason := fmt.Sprintf("unknown action %q", r.Action)
		c.warnFallback("resolve", reason)
		return fallback(deferred, reason)
	}
	r.ScopeForNew = strings.TrimSpace(r.ScopeForNew)
	if r.Action == BothValid && (r.ScopeForNew == "" || r.ScopeForNew == existing.Scope) {
		reason := "both_valid without a distinct scope"
		c.warnFallback("resolve", reason)
		return fallback(Resolution{Action: AskUser, Reason: r.Reason}, reason)
	}
	return ok(r)
}

// CommitMessage asks for a one-line summary of events. An empty, failed or
// overlong answer yields the configured fallback message.
func (c *Controller) CommitMessage(ctx context.Context, events []model.Event, conversation string) Outcome[string] {
	def := c.cfg.FallbackCommitMessage
	prompt := fmt.Sprintf(commitMessagePrompt,
		formatChanges(events),
		orDefault(truncate(conversation, c.cfg.EvidenceMaxLen), "No context."),
		c.cfg.CommitMessageMaxLen)

	resp, reason := c.ask(ctx, prompt)
	if reason != "" {
		c.warnFallback("commit_message", reason)
		return fallback(def, reason)
	}

	msg := ""
	for _, line := range strings.Split(resp, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			msg = strings.Trim(line, "\"'`")
			break
		}
	}
	msg = strings.TrimSpace(msg)
	switch {
	case msg == "":
		c.warnFallback("commit_message", "empty message")
		return fallback(def, "empty message")
	case len(msg) > c.cfg.CommitMessageMaxLen:
		reason := fmt.Sprintf("message exceeds %d chars", c.cfg.CommitMessageMaxLen)
		c.warnFallback("commit_message", reason)
		return fallback(def, reason)
	}
	return ok(msg)
}
