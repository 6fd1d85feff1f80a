package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/internal/anthropic"
)

const (
	guardrailMaxTokens = 16
	synthesisMaxTokens = 2048
)

// Completer is the reasoning capability behind a pipeline stage.
// *anthropic.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (string, error)
	CompleteWithTools(ctx context.Context, system string, messages []anthropic.Message, tools []anthropic.Tool, run anthropic.ToolRunner, maxTokens int) (string, error)
}

// Pipeline is the staged agent state machine:
// Start → Guardrail → {Synthesize | Reject} → End.
//
// Each Run builds fresh PipelineState from the caller-supplied turn
// sequence and checkpoints it under the chat id when the run ends.
// Capability failures are returned as errors for the caller to record as
// a system_error turn; they never abort the caller's connection.
type Pipeline struct {
	base        Completer
	reasoning   Completer
	tools       *Toolbox
	checkpoints CheckpointStore
	logger      *slog.Logger
}

// New wires a pipeline. base handles synthesis, reasoning handles the
// guardrail classification; they may be the same client.
func New(base, reasoning Completer, tools *Toolbox, checkpoints CheckpointStore, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		base:        base,
		reasoning:   reasoning,
		tools:       tools,
		checkpoints: checkpoints,
		logger:      logger,
	}
}

// Run executes the state machine over msgs, whose last entry must be the
// latest user turn. It returns the reply text: a synthesized answer when
// the guardrail passes, the fixed rejection notice otherwise.
func (p *Pipeline) Run(ctx context.Context, chatID int64, msgs []Message) (string, error) {
	if len(msgs) == 0 {
		return "", fmt.Errorf("pipeline: empty message sequence for chat %d", chatID)
	}
	latest := msgs[len(msgs)-1]
	if latest.Role != RoleUser {
		return "", fmt.Errorf("pipeline: latest turn must be a user turn, got %q", latest.Role)
	}

	state := PipelineState{ChatID: chatID, Messages: msgs}
	var reply string

	for st := StateStart; st != StateEnd; {
		switch st {
		case StateStart:
			st = StateGuardrail

		case StateGuardrail:
			verdict, err := p.guardrail(ctx, latest.Text)
			if err != nil {
				return "", fmt.Errorf("guardrail: %w", err)
			}
			state.Verdict = verdict
			p.logger.Info("guardrail verdict", "chat_id", chatID, "verdict", verdict.String())
			if verdict == VerdictPass {
				st = StateSynthesize
			} else {
				st = StateReject
			}

		case StateSynthesize:
			text, err := p.synthesize(ctx, state.Messages)
			if err != nil {
				return "", fmt.Errorf("synthesize: %w", err)
			}
			reply = text
			state.Messages = append(state.Messages, Message{Role: RoleAssistant, Text: reply})
			st = StateEnd

		case StateReject:
			reply = RejectionNotice
			state.Messages = append(state.Messages, Message{Role: RoleAssistant, Text: reply})
			st = StateEnd
		}
	}

	p.checkpoints.Save(state)
	return reply, nil
}

// guardrail classifies the latest user turn. Anything other than an
// exact, case-insensitive "pass" fails closed.
func (p *Pipeline) guardrail(ctx context.Context, query string) (Verdict, error) {
	raw, err := p.reasoning.Complete(ctx, guardrailSystemPrompt, []anthropic.Message{
		{Role: "user", Content: query},
	}, guardrailMaxTokens)
	if err != nil {
		return VerdictUnset, err
	}
	if strings.EqualFold(strings.TrimSpace(raw), "pass") {
		return VerdictPass, nil
	}
	return VerdictFail, nil
}

func (p *Pipeline) synthesize(ctx context.Context, msgs []Message) (string, error) {
	wire := make([]anthropic.Message, len(msgs))
	for i, m := range msgs {
		wire[i] = anthropic.Message{Role: string(m.Role), Content: m.Text}
	}
	text, err := p.base.CompleteWithTools(ctx, synthesisSystemPrompt, wire, p.tools.Definitions(), p.tools.Run, synthesisMaxTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
