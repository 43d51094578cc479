package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/agent-memgit/internal/model"
	"github.com/rcliao/agent-memgit/internal/pending"
)

// OriginLifecycle marks commits written by Process.
const OriginLifecycle = "lifecycle"

// StepResult records what happened to one candidate fact.
type StepResult string

const (
	ResultAdded      StepResult = "added"
	ResultReplaced   StepResult = "replaced"
	ResultRescoped   StepResult = "rescoped"
	ResultDeprecated StepResult = "deprecated"
	ResultNoop       StepResult = "noop"
	ResultKept       StepResult = "kept_old"
	ResultDeferred   StepResult = "deferred"
	ResultInvalid    StepResult = "invalid"
)

// Step is the plan entry for one fact.
type Step struct {
	Fact       Fact             `json:"fact"`
	Action     Action           `json:"action"`
	Resolution ResolutionAction `json:"resolution,omitempty"`
	Result     StepResult       `json:"result"`
	Reason     string           `json:"reason,omitempty"`
}

// Plan is the set of writes one cycle will make. Events go into a single
// commit; Deferred items go to the pending queue.
type Plan struct {
	Events    []model.Event  `json:"events"`
	Steps     []Step         `json:"steps"`
	Deferred  []pending.Item `json:"deferred"`
	Fallbacks []string       `json:"fallbacks,omitempty"`
}

// Plan classifies facts and resolves conflicts against the current view.
// It only reads from the store; the returned error is a storage failure.
func (c *Controller) Plan(ctx context.Context, facts []Fact, conversation string) (*Plan, error) {
	p := &Plan{Events: []model.Event{}, Steps: []Step{}, Deferred: []pending.Item{}}
	if len(facts) == 0 {
		return p, nil
	}

	current, err := c.store.ContextString(ctx, 0)
	if err != nil {
		return nil, err
	}
	classified := c.Classify(ctx, facts, current)
	if classified.Fallback {
		p.Fallbacks = append(p.Fallbacks, "classify: "+classified.Reason)
	}

	evidence := truncate(conversation, c.cfg.EvidenceMaxLen)
	limits := c.store.Limits()
	view := c.store.View()
	seen := make(map[string]bool)
	deprecated := make(map[string]bool)

	deprecate := func(existing model.Event, at time.Time) {
		if deprecated[existing.ID] {
			return
		}
		deprecated[existing.ID] = true
		p.Events = append(p.Events, model.NewEvent(model.EventDeprecate,
			existing.Subject, existing.Predicate, existing.Object,
			model.WithScope(existing.Scope),
			model.WithConfidence(existing.Confidence),
			model.WithSource(model.SourceAgentInferred),
			model.WithParent(existing.ID),
			model.At(at)))
	}

	for i, f := range facts {
		step := Step{Fact: f, Action: classified.Value[i]}
		// Stamp a retraction before its replacement so merges, which order
		// by timestamp, replay them in the same order.
		retireAt := c.store.Now()
		candidate := model.NewEvent(model.EventAdd, f.Subject, f.Predicate, f.Object,
			model.WithScope(f.Scope),
			model.WithConfidence(f.Confidence),
			model.WithSource(model.SourceAgentInferred),
			model.WithEvidence(evidence),
			model.At(c.store.Now()))
		if err := candidate.Validate(limits); err != nil {
			step.Result, step.Reason = ResultInvalid, err.Error()
			p.Steps = append(p.Steps, step)
			c.log.Warn().Err(err).Str("fact", f.String()).Msg("dropping invalid fact")
			continue
		}

		if step.Action == ActionNoop {
			step.Result = ResultNoop
			p.Steps = append(p.Steps, step)
			continue
		}

		existing, found, err := view.Get(ctx, f.Subject, f.Predicate, f.Scope)
		if err != nil {
			return nil, err
		}

		if step.Action == ActionDelete {
			if found {
				deprecate(existing, retireAt)
				step.Result = ResultDeprecated
			} else {
				step.Result, step.Reason = ResultNoop, "nothing to delete"
			}
			p.Steps = append(p.Steps, step)
			continue
		}

		dup := candidate.Key() + "\x00" + candidate.Object
		switch {
		case seen[dup]:
			step.Result, step.Reason = ResultNoop, "duplicate in batch"
		case !found:
			p.Events = append(p.Events, candidate)
			step.Result = ResultAdded
		case existing.Object == candidate.Object:
			step.Result, step.Reason = ResultNoop, "already known"
		default:
			res := c.Resolve(ctx, existing, candidate, conversation)
			if res.Fallback {
				p.Fallbacks = append(p.Fallbacks, "resolve: "+res.Reason)
			}
			step.Resolution, step.Reason = res.Value.Action, res.Value.Reason
			switch res.Value.Action {
			case KeepOld:
				step.Result = ResultKept
			case UseNew:
				deprecate(existing, retireAt)
				p.Events = append(p.Events, candidate)
				step.Result = ResultReplaced
			case BothValid:
				rescoped := candidate.Rescoped(res.Value.ScopeForNew)
				if err := rescoped.Validate(limits); err != nil {
					step.Result, step.Reason = ResultInvalid, err.Error()
					break
				}
				p.Events = append(p.Events, rescoped)
				step.Result = ResultRescoped
			default:
				p.Deferred = append(p.Deferred, pending.Item{
					ExistingID: existing.ID,
					Subject:    f.Subject,
					Predicate:  f.Predicate,
					Object:     f.Object,
					Scope:      f.Scope,
					Confidence: f.Confidence,
					Reason:     orDefault(res.Value.Reason, res.Reason),
				})
				step.Result = ResultDeferred
			}
		}
		seen[dup] = true
		p.Steps = append(p.Steps, step)
	}
	return p, nil
}

// Result reports one Process cycle.
type Result struct {
	CycleID   string         `json:"cycle_id"`
	Decision  Decision       `json:"decision"`
	Plan      *Plan          `json:"plan,omitempty"`
	Message   string         `json:"message,omitempty"`
	Commit    *model.Commit  `json:"commit,omitempty"`
	Deferred  []pending.Item `json:"deferred"`
	Fallbacks []string       `json:"fallbacks,omitempty"`
}

// Process runs one lifecycle cycle over a conversation: analyze, plan, name
// the commit, then write. Every oracle call completes before the first
// write, and all events land in one commit tagged with the cycle id.
func (c *Controller) Process(ctx context.Context, conversation string) (*Result, error) {
	res := &Result{CycleID: uuid.NewString(), Deferred: []pending.Item{}}
	log := c.log.With().Str("cycle_id", res.CycleID).Logger()

	current, err := c.store.ContextString(ctx, 0)
	if err != nil {
		return nil, err
	}
	decision := c.Analyze(ctx, conversation, current)
	res.Decision = decision.Value
	if decision.Fallback {
		res.Fallbacks = append(res.Fallbacks, "analyze: "+decision.Reason)
	}
	if !decision.Value.ShouldRemember || len(decision.Value.Facts) == 0 {
		log.Debug().Str("reason", decision.Value.Reason).Msg("nothing to remember")
		return res, nil
	}

	plan, err := c.Plan(ctx, decision.Value.Facts, conversation)
	if err != nil {
		return nil, err
	}
	res.Plan = plan
	res.Fallbacks = append(res.Fallbacks, plan.Fallbacks...)

	if len(plan.Events) > 0 {
		msg := c.CommitMessage(ctx, plan.Events, conversation)
		if msg.Fallback {
			res.Fallbacks = append(res.Fallbacks, "commit_message: "+msg.Reason)
		}
		res.Message = msg.Value
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	if len(plan.Events) > 0 {
		commit, err := c.store.Commit(ctx, plan.Events, res.Message, map[string]string{
			model.MetaCycleID: res.CycleID,
			model.MetaOrigin:  OriginLifecycle,
		})
		if err != nil {
			return res, fmt.Errorf("commit cycle %s: %w", res.CycleID, err)
		}
		res.Commit = &commit
	}

	if len(plan.Deferred) > 0 {
		branch, err := c.store.CurrentBranch(ctx)
		if err != nil {
			return res, err
		}
		for _, it := range plan.Deferred {
			it.Branch = branch
			added, err := c.store.Pending().Add(ctx, it)
			if err != nil {
				return res, err
			}
			res.Deferred = append(res.Deferred, added)
		}
	}

	log.Info().Int("events", len(plan.Events)).Int("deferred", len(res.Deferred)).
		Int("fallbacks", len(res.Fallbacks)).Msg("lifecycle cycle complete")
	return res, nil
}
