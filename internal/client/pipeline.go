package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gambiarra-ai/gambiarra/internal/filectx"
	"github.com/gambiarra-ai/gambiarra/internal/registry"
	"github.com/gambiarra-ai/gambiarra/internal/sandbox"
	"github.com/gambiarra-ai/gambiarra/pkg/models"
	"github.com/gambiarra-ai/gambiarra/pkg/protocol"
)

// DefaultAutoApproveStreak caps consecutive auto-approvals before one
// manual confirmation is forced.
const DefaultAutoApproveStreak = 10

// trustedReadTools may be auto-approved when the session allows it.
var trustedReadTools = map[string]bool{
	registry.ToolReadFile:     true,
	registry.ToolListFiles:    true,
	registry.ToolSearchFiles:  true,
	registry.ToolListCodeDefs: true,
}

// staleProbeTools operate on a single file whose cached context matters.
var staleProbeTools = map[string]bool{
	registry.ToolReadFile:      true,
	registry.ToolWriteToFile:   true,
	registry.ToolInsertContent: true,
	registry.ToolSearchReplace: true,
}

// Decision is the outcome of the approval pipeline for one request.
type Decision struct {
	Decision           string
	Feedback           string
	ModifiedParameters map[string]any
	AutoApproved       bool
}

// PromptFunc asks the user to decide on a request the pipeline could not
// settle automatically.
type PromptFunc func(ctx context.Context, req models.PendingApproval) (Decision, error)

// PipelineConfig tunes the approval pipeline.
type PipelineConfig struct {
	AutoApproveReads bool
	StreakCap        int
	RepetitionLimit  int
	MistakeThreshold int
	CostCeiling      float64
}

// Pipeline evaluates tool approval requests: parameter validation, loop
// detection, a stale-context warning, and the approval policy, in that
// order. Requests the policy cannot settle go to the prompt callback.
type Pipeline struct {
	reg        *registry.Registry
	commands   *sandbox.CommandSandbox
	paths      *sandbox.PathSandbox
	tracker    *filectx.Tracker
	repetition *RepetitionDetector
	mistakes   *MistakeTracker
	cost       *CostEstimator
	prompt     PromptFunc
	logger     *slog.Logger

	autoApproveReads bool
	streakCap        int
	streak           int
}

// NewPipeline wires the approval pipeline. prompt must not be nil.
func NewPipeline(reg *registry.Registry, paths *sandbox.PathSandbox, tracker *filectx.Tracker, prompt PromptFunc, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StreakCap <= 0 {
		cfg.StreakCap = DefaultAutoApproveStreak
	}
	return &Pipeline{
		reg:              reg,
		commands:         sandbox.NewCommandSandbox(),
		paths:            paths,
		tracker:          tracker,
		repetition:       NewRepetitionDetector(cfg.RepetitionLimit),
		mistakes:         NewMistakeTracker(cfg.MistakeThreshold),
		cost:             NewCostEstimator(cfg.CostCeiling),
		prompt:           prompt,
		logger:           logger,
		autoApproveReads: cfg.AutoApproveReads,
		streakCap:        cfg.StreakCap,
	}
}

// Mistakes exposes the tracker so the execution path can report outcomes.
func (p *Pipeline) Mistakes() *MistakeTracker {
	return p.mistakes
}

// ResetSession clears per-session state when a new session starts.
func (p *Pipeline) ResetSession() {
	p.repetition.Reset()
	p.mistakes.RecordSuccess()
	p.cost.Reset()
	p.streak = 0
}

// Evaluate runs one request through the pipeline.
func (p *Pipeline) Evaluate(ctx context.Context, req models.PendingApproval) (Decision, error) {
	if err := p.reg.ValidateParams(req.ToolName, req.Parameters); err != nil {
		p.mistakes.Record()
		return Decision{
			Decision: protocol.DecisionDenied,
			Feedback: fmt.Sprintf("Parameter validation failed: %v", err),
		}, nil
	}

	if p.repetition.Observe(req.ToolName, req.Parameters) {
		p.mistakes.Record()
		return Decision{
			Decision: protocol.DecisionDenied,
			Feedback: fmt.Sprintf("AI is repeating the same '%s' tool call. This may indicate it's stuck in a loop.", req.ToolName),
		}, nil
	}

	if req.ToolName == registry.ToolExecuteCommand {
		command, _ := req.Parameters["command"].(string)
		if err := p.commands.Check(command); err != nil {
			p.mistakes.Record()
			return Decision{
				Decision: protocol.DecisionDenied,
				Feedback: fmt.Sprintf("Command execution blocked by security policy: %v", err),
			}, nil
		}
	}

	if warning := p.staleWarning(req); warning != "" {
		req.Description += "\n" + warning
	}

	if p.shouldAutoApprove(req) {
		p.streak++
		p.logger.Debug("auto-approved tool call",
			"tool", req.ToolName, "request_id", req.RequestID, "streak", p.streak)
		return Decision{Decision: protocol.DecisionApproved, AutoApproved: true}, nil
	}

	decision, err := p.prompt(ctx, req)
	if err != nil {
		return Decision{}, fmt.Errorf("prompt for approval: %w", err)
	}
	p.streak = 0
	p.mistakes.MaybeReset(decision.Feedback)
	if decision.Decision == protocol.DecisionDenied {
		p.mistakes.Record()
	}
	return decision, nil
}

// shouldAutoApprove applies the policy: trusted read-only tools at low
// risk, while the session has auto-approve enabled, the mistake counter
// has not escalated, the streak cap is not hit, and the cost estimate
// still fits.
func (p *Pipeline) shouldAutoApprove(req models.PendingApproval) bool {
	if !p.autoApproveReads || !trustedReadTools[req.ToolName] {
		return false
	}
	risk := p.reg.Risk(req.ToolName)
	if risk != models.RiskMinimal && risk != models.RiskLow {
		return false
	}
	if p.mistakes.Escalated() {
		return false
	}
	if p.streak >= p.streakCap {
		p.streak = 0
		return false
	}
	return p.cost.Allow(risk)
}

// staleWarning returns a warning line when the target file's cached
// context is stale, or "" when it is not.
func (p *Pipeline) staleWarning(req models.PendingApproval) string {
	if !staleProbeTools[req.ToolName] || p.tracker == nil {
		return ""
	}
	rawPath, _ := req.Parameters["path"].(string)
	if rawPath == "" {
		return ""
	}
	resolved, err := p.paths.Validate(rawPath)
	if err != nil {
		return ""
	}
	if stale, reason := p.tracker.Check(resolved); stale {
		return fmt.Sprintf("⚠️ File context may be stale: %s - %s", rawPath, reason)
	}
	return ""
}
