// Package gateway orchestrates the authorization pipeline: identity
// resolution, rule evaluation, credit check, audit write.
package gateway

import (
	"context"
	"errors"

	"cmdgate.io/internal/audit"
	"cmdgate.io/internal/auth"
	"cmdgate.io/internal/ledger"
	"cmdgate.io/internal/obs"
	"cmdgate.io/internal/rules"
	"cmdgate.io/internal/stream"
)

// Policy is the outcome applied when no rule matches a command.
type Policy string

const (
	// PolicyAllow treats unmatched commands as permitted subject to credits.
	// Explicit REJECT rules stay the primary control surface and the rule set
	// remains additive.
	PolicyAllow Policy = "allow"
	// PolicyDeny blocks any command no rule explicitly allows.
	PolicyDeny Policy = "deny"
)

// Executor runs a command the pipeline has authorized. It is an external
// collaborator: invoked fire-and-forget after EXECUTED, its result never
// changes the already-logged outcome.
type Executor interface {
	Execute(ctx context.Context, user *auth.User, commandText string)
}

// LogExecutor is the default mock execution backend: it only records that
// the command would have run.
type LogExecutor struct{}

func (LogExecutor) Execute(ctx context.Context, user *auth.User, commandText string) {
	_ = audit.LogEvent(ctx, "gateway.execute", map[string]any{
		"user":    user.Username,
		"command": commandText,
	})
}

// Decision is the pipeline's response to one command submission.
type Decision struct {
	Status  audit.Status `json:"status"`
	Message string       `json:"message"`
	// NewBalance is present only when a debit occurred (EXECUTED).
	NewBalance *int64 `json:"new_balance,omitempty"`
	// MatchedRule carries the deciding rule's pattern, empty when the
	// default policy decided.
	MatchedRule string `json:"matched_rule,omitempty"`
}

// Pipeline owns no persistent state itself; it drives the three stateful
// stores, each the sole owner of its data.
type Pipeline struct {
	users    auth.UserStore
	rules    rules.Store
	credits  ledger.Service
	log      audit.Log
	events   *stream.Stream
	executor Executor
	policy   Policy
	cost     int64
}

// Option configures Pipeline behavior.
type Option func(*Pipeline)

// WithDefaultPolicy sets the outcome for unmatched commands.
func WithDefaultPolicy(p Policy) Option {
	return func(pl *Pipeline) {
		if p == PolicyAllow || p == PolicyDeny {
			pl.policy = p
		}
	}
}

// WithCommandCost sets the per-command debit.
func WithCommandCost(cost int64) Option {
	return func(pl *Pipeline) {
		if cost > 0 {
			pl.cost = cost
		}
	}
}

// WithStream publishes each decision to the given event stream.
func WithStream(s *stream.Stream) Option {
	return func(pl *Pipeline) { pl.events = s }
}

// WithExecutor overrides the execution collaborator.
func WithExecutor(e Executor) Option {
	return func(pl *Pipeline) {
		if e != nil {
			pl.executor = e
		}
	}
}

// New constructs a pipeline over the given stores. Defaults: default-allow,
// cost of one credit per command, logging executor.
func New(users auth.UserStore, ruleStore rules.Store, credits ledger.Service, log audit.Log, opts ...Option) *Pipeline {
	p := &Pipeline{
		users:    users,
		rules:    ruleStore,
		credits:  credits,
		log:      log,
		executor: LogExecutor{},
		policy:   PolicyAllow,
		cost:     1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit resolves the caller's API key and authorizes the command. Unknown
// keys fail with auth.ErrUnauthorized before any state mutation or audit
// write: unauthenticated attempts are not part of the audit domain.
func (p *Pipeline) Submit(ctx context.Context, apiKey, commandText string) (Decision, error) {
	user, err := p.users.FindByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return Decision{}, auth.ErrUnauthorized
		}
		return Decision{}, err
	}
	return p.Authorize(ctx, user, commandText)
}

// Authorize runs the pipeline for an already-identified caller: rule
// evaluation, credit check, audit write. Every terminal outcome produces
// exactly one audit entry.
func (p *Pipeline) Authorize(ctx context.Context, user *auth.User, commandText string) (Decision, error) {
	outcome, err := p.rules.Evaluate(ctx, commandText)
	if err != nil {
		return Decision{}, err
	}

	var d Decision
	switch {
	case outcome.Matched && outcome.Action == rules.ActionReject:
		// Short circuit: no debit, no execution.
		d = Decision{
			Status:      audit.StatusRejected,
			Message:     "command blocked by security rule",
			MatchedRule: outcome.Rule.Pattern,
		}
	case !outcome.Matched && p.policy == PolicyDeny:
		d = Decision{
			Status:  audit.StatusRejected,
			Message: "command blocked (no matching rule)",
		}
	default:
		// ALLOW match, or no match under default-allow: meter execution.
		balance, err := p.credits.Debit(ctx, user.ID, p.cost)
		switch {
		case errors.Is(err, ledger.ErrInsufficientCredits):
			d = Decision{
				Status:      audit.StatusRejectedNoCredits,
				Message:     "insufficient credits",
				MatchedRule: outcome.Rule.Pattern,
			}
		case err != nil:
			return Decision{}, err
		default:
			obs.RecordDebit(p.cost)
			d = Decision{
				Status:      audit.StatusExecuted,
				Message:     "command executed successfully",
				NewBalance:  &balance,
				MatchedRule: outcome.Rule.Pattern,
			}
			// Hand off to the executor without blocking the response path.
			execCtx := context.WithoutCancel(ctx)
			go p.executor.Execute(execCtx, user, commandText)
		}
	}

	entry := audit.Entry{
		UserID:           user.ID,
		Username:         user.Username,
		Role:             user.Role,
		CommandText:      commandText,
		Status:           d.Status,
		ResultingBalance: d.NewBalance,
	}
	if err := p.log.Append(ctx, &entry); err != nil {
		return Decision{}, err
	}

	obs.RecordDecision(string(d.Status))
	_ = audit.LogEvent(ctx, "gateway.decision", map[string]any{
		"user":    user.Username,
		"command": commandText,
		"status":  string(d.Status),
	})
	if p.events != nil {
		p.events.Publish(stream.DecisionEvent{
			Username:    user.Username,
			CommandText: commandText,
			Status:      d.Status,
			RuleID:      outcome.Rule.ID,
			Timestamp:   entry.CreatedAt,
		})
	}
	return d, nil
}
