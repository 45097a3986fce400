package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pkdindustries/chatbridge/internal/core"
	"pkdindustries/chatbridge/internal/tools"
)

// DefaultDepth is the number of tool rounds allowed before tools are withheld.
const DefaultDepth = 5

// Orchestrator drives a Dialect through format, moderation, request and tool
// execution rounds. It satisfies Connector.
type Orchestrator struct {
	dialect   Dialect
	tools     tools.Set
	moderator Moderator
	resolver  AttachmentResolver
	depth     int
	logger    *zap.SugaredLogger
}

type OrchestratorOption func(*Orchestrator)

func WithTools(set tools.Set) OrchestratorOption {
	return func(o *Orchestrator) { o.tools = set }
}

func WithModerator(m Moderator) OrchestratorOption {
	return func(o *Orchestrator) { o.moderator = m }
}

func WithResolver(r AttachmentResolver) OrchestratorOption {
	return func(o *Orchestrator) { o.resolver = r }
}

func WithDepth(depth int) OrchestratorOption {
	return func(o *Orchestrator) { o.depth = depth }
}

func WithLogger(l *zap.SugaredLogger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

func NewOrchestrator(dialect Dialect, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{dialect: dialect, depth: DefaultDepth}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = core.GetLogger()
	}
	if o.depth < 0 {
		o.depth = 0
	}
	return o
}

// Tools returns the tool set advertised by this connector.
func (o *Orchestrator) Tools() tools.Set {
	return o.tools
}

func (o *Orchestrator) RequestChatCompletion(ctx context.Context, messages []ChatMessage, opts GenerationOptions, reqOpts RequestOptions) (*ChatCompletionResult, error) {
	updates := reqOpts.Updates
	logger := core.WithRequest(o.logger, uuid.NewString(), o.dialect.Name())
	defer core.LogDuration(logger, "chat_completion", time.Now())

	updates.Send("Formatting messages...")
	conv, err := o.dialect.Format(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("format messages: %w", err)
	}

	if o.moderator != nil {
		if last, ok := LastMessage(messages); ok {
			updates.Send("Checking message moderation...")
			if err := o.moderator.Moderate(ctx, last); err != nil {
				logger.Warnw("Moderation blocked request", "error", err)
				return nil, err
			}
		}
	}

	toolCtx := tools.WithUserID(ctx, reqOpts.UserID)
	var attachments []string
	depth := o.depth

	for round := 0; ; round++ {
		turn := Turn{Options: opts, UserID: reqOpts.UserID}
		if len(o.tools) > 0 {
			turn.Tools = o.tools
			turn.ToolChoice = ToolChoiceAuto
			if depth == 0 {
				turn.ToolChoice = ToolChoiceNone
			}
		}

		updates.Send(fmt.Sprintf("Requesting completion from %s...", o.dialect.Name()))
		start := time.Now()
		reply, err := o.dialect.Complete(ctx, conv, turn)
		if err != nil {
			logger.Errorw("Completion failed", "round", round, "error", err)
			return nil, err
		}
		logger.Debugw("Completion round finished",
			"round", round,
			"depth", depth,
			"tool_calls", len(reply.ToolCalls),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		attachments = append(attachments, reply.Attachments...)

		if len(reply.ToolCalls) == 0 || depth == 0 {
			return o.finish(ctx, reply, attachments), nil
		}

		conv.AppendReply(reply)
		updates.Send("Processing tool calls...")
		results, produced := o.execute(toolCtx, logger, reply.ToolCalls, reqOpts)
		attachments = append(attachments, produced...)
		conv.AppendToolResults(results)
		depth--
	}
}

// execute runs tool calls one at a time in the order the provider sent them.
func (o *Orchestrator) execute(ctx context.Context, logger *zap.SugaredLogger, calls []ToolCall, reqOpts RequestOptions) ([]ToolResult, []string) {
	results := make([]ToolResult, 0, len(calls))
	var attachments []string

	for _, call := range calls {
		tool, ok := o.tools.Find(call.Name)
		if !ok {
			logger.Warnw("Skipping unknown tool", "tool", call.Name, "call_id", call.ID)
			results = append(results, ToolResult{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("Tool not available: %s", call.Name),
				IsError: true,
			})
			continue
		}

		toolLogger := core.WithTool(logger, call.Name, call.Arguments)
		if call.ArgumentsErr != nil {
			toolLogger.Warnw("Invalid tool arguments", "error", call.ArgumentsErr)
			results = append(results, ToolResult{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("Error parsing arguments: %v", call.ArgumentsErr),
				IsError: true,
			})
			continue
		}

		reqOpts.Updates.Send(fmt.Sprintf("Executing tool: %s...", call.Name))
		start := time.Now()
		resp, err := invoke(ctx, tool, call)
		duration := time.Since(start)

		if err != nil {
			toolLogger.With("duration_ms", duration.Milliseconds()).Warnw("Tool execution failed", "error", err)
			results = append(results, ToolResult{
				CallID:  call.ID,
				Name:    call.Name,
				Content: fmt.Sprintf("Error: %v", err),
				IsError: true,
			})
			continue
		}

		text := resp.Text()
		toolLogger.With(
			"duration_ms", duration.Milliseconds(),
			"result_size", len(text),
			"attachments", len(resp.Attachments),
		).Info("Tool execution completed")

		results = append(results, ToolResult{CallID: call.ID, Name: call.Name, Content: text})
		attachments = append(attachments, resp.Attachments...)
	}
	return results, attachments
}

// invoke calls the tool, converting both errors and panics into a ToolExecutionError.
func invoke(ctx context.Context, tool tools.Tool, call ToolCall) (resp *tools.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = &ToolExecutionError{Tool: call.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	resp, err = tool.HandleToolCall(ctx, args)
	if err != nil {
		return nil, &ToolExecutionError{Tool: call.Name, Err: err}
	}
	if resp == nil {
		resp = &tools.Response{}
	}
	return resp, nil
}

func (o *Orchestrator) finish(ctx context.Context, reply *Reply, attachments []string) *ChatCompletionResult {
	if o.resolver != nil && len(attachments) > 0 {
		attachments = o.resolver.ResolveAttachments(ctx, attachments)
	}
	return &ChatCompletionResult{
		Message: ChatMessage{
			Role:      RoleAssistant,
			Content:   reply.Content,
			AudioData: reply.AudioData,
		},
		Attachments: attachments,
	}
}
