package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rcliao/agent-memgit/internal/branch"
)

// PersonaDecision says whether the conversation belongs on another branch.
type PersonaDecision struct {
	ShouldSwitch          bool   `json:"should_switch"`
	TargetPersona         string `json:"target_persona"`
	NewPersonaName        string `json:"new_persona_name"`
	NewPersonaDescription string `json:"new_persona_description"`
	Reason                string `json:"reason"`
}

// DetectPersona asks which persona fits the conversation. Any failure falls
// back to staying on the current branch.
func (c *Controller) DetectPersona(ctx context.Context, conversation, current string) Outcome[PersonaDecision] {
	stay := PersonaDecision{}

	branches, err := c.store.Branches().List(ctx)
	if err != nil {
		return fallback(stay, "list branches: "+err.Error())
	}
	lines := make([]string, len(branches))
	for i, b := range branches {
		lines[i] = fmt.Sprintf("- %s: %s", b.Name, orDefault(b.Persona, "No description"))
	}
	prompt := fmt.Sprintf(personaPrompt,
		strings.Join(lines, "\n"),
		Window(conversation, c.cfg.ConversationMaxChars),
		current)

	resp, reason := c.ask(ctx, prompt)
	if reason != "" {
		c.warnFallback("detect_persona", reason)
		return fallback(stay, reason)
	}

	var raw struct {
		ShouldSwitch          *bool   `json:"should_switch"`
		TargetPersona         *string `json:"target_persona"`
		NewPersonaName        *string `json:"new_persona_name"`
		NewPersonaDescription *string `json:"new_persona_description"`
		Reason                string  `json:"reason"`
	}
	if err := decodeStrict(resp, &raw); err != nil {
		c.warnFallback("detect_persona", err.Error())
		return fallback(stay, err.Error())
	}
	if raw.ShouldSwitch == nil {
		c.warnFallback("detect_persona", "missing should_switch")
		return fallback(stay, "missing should_switch")
	}
	d := PersonaDecision{
		ShouldSwitch:          *raw.ShouldSwitch,
		TargetPersona:         strings.TrimSpace(deref(raw.TargetPersona)),
		NewPersonaName:        strings.TrimSpace(deref(raw.NewPersonaName)),
		NewPersonaDescription: strings.TrimSpace(deref(raw.NewPersonaDescription)),
		Reason:                raw.Reason,
	}
	if d.ShouldSwitch && d.TargetPersona == "" && d.NewPersonaName == "" {
		c.warnFallback("detect_persona", "switch without a target")
		return fallback(stay, "switch without a target")
	}
	return ok(d)
}

// MaybeSwitchPersona runs persona detection and acts on it: a new persona
// is forked from the current branch and checked out, an existing one is
// switched to. It reports the branch HEAD ends up on and whether it moved.
func (c *Controller) MaybeSwitchPersona(ctx context.Context, conversation string) (string, bool, error) {
	current, err := c.store.CurrentBranch(ctx)
	if err != nil {
		return "", false, err
	}
	d := c.DetectPersona(ctx, conversation, current)
	if !d.Value.ShouldSwitch {
		return current, false, nil
	}
	branches := c.store.Branches()

	target := d.Value.TargetPersona
	if name := d.Value.NewPersonaName; name != "" {
		_, err := branches.Create(ctx, name, d.Value.NewPersonaDescription, current)
		if err != nil && !errors.Is(err, branch.ErrExists) {
			return current, false, err
		}
		target = name
	}
	if target == current {
		return current, false, nil
	}

	switched, err := branches.Switch(ctx, target)
	if err != nil || !switched {
		return current, false, err
	}
	c.log.Info().Str("from", current).Str("to", target).Str("reason", d.Value.Reason).Msg("persona switched")
	return target, true, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
