// Package assistant turns observer chat into rover commands using a tool-calling
// language model.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mbocsi/gorover/proto"
)

// Executor runs one correlated command on the rover.
type Executor interface {
	Execute(ctx context.Context, name string, params map[string]any) (map[string]any, error)
}

// Reply is the model's final answer and every command it ran to get there.
type Reply struct {
	Text    string
	Actions []proto.Action
}

type Options struct {
	MaxRounds    int
	SystemPrompt string
}

const defaultSystemPrompt = `You drive a small two-wheeled rover with a range sensor, a camera and a text display.
Use the tools to act. Keep motion short: prefer duration_ms under 2000 and stop when unsure.
Use capture to look at what is in front of the rover. Answer in one or two sentences.`

var ErrNoAnswer = errors.New("assistant gave no answer")

type Assistant struct {
	client ChatClient
	exec   Executor
	tools  []ToolDefinition
	opts   Options
}

func New(client ChatClient, exec Executor, opts Options) *Assistant {
	if opts.MaxRounds < 1 {
		opts.MaxRounds = 4
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	return &Assistant{client: client, exec: exec, tools: Tools(), opts: opts}
}

// Respond runs the tool loop for one user message. Tool failures are fed back to
// the model rather than aborting the turn.
func (a *Assistant) Respond(ctx context.Context, text string) (Reply, error) {
	messages := []Message{
		{Role: "system", Content: a.opts.SystemPrompt},
		{Role: "user", Content: text},
	}
	var reply Reply

	for round := 0; round < a.opts.MaxRounds; round++ {
		msg, err := a.client.ChatWithTools(ctx, messages, a.tools)
		if err != nil {
			return reply, fmt.Errorf("chat round %d: %w", round, err)
		}
		if len(msg.ToolCalls) == 0 {
			reply.Text = strings.TrimSpace(msg.Content)
			if reply.Text == "" && len(reply.Actions) == 0 {
				return reply, ErrNoAnswer
			}
			return reply, nil
		}

		messages = append(messages, Message{Role: "assistant", Content: msg.Content, ToolCalls: msg.ToolCalls})
		for _, call := range msg.ToolCalls {
			action := a.run(ctx, call)
			reply.Actions = append(reply.Actions, action)
			messages = append(messages, Message{Role: "tool", Content: toolContent(action)})
		}
	}

	slog.Warn("Assistant hit the round limit", "rounds", a.opts.MaxRounds, "actions", len(reply.Actions))
	reply.Text = summarize(reply.Actions)
	return reply, nil
}

func (a *Assistant) run(ctx context.Context, call ToolCall) proto.Action {
	name := call.Function.Name
	action := proto.Action{Command: name}

	params, err := call.Function.Params()
	if err != nil {
		action.Error = err.Error()
		return action
	}
	action.Params = params

	slog.Info("Assistant executing command", "command", name, "params", params)
	data, err := a.exec.Execute(ctx, name, params)
	if err != nil {
		action.Error = err.Error()
		return action
	}
	action.OK = true
	action.Result = data
	return action
}

func toolContent(action proto.Action) string {
	if !action.OK {
		return "error: " + action.Error
	}
	b, err := json.Marshal(action.Result)
	if err != nil {
		return "ok"
	}
	return string(b)
}

func summarize(actions []proto.Action) string {
	if len(actions) == 0 {
		return "I could not work out what to do."
	}
	ok := 0
	for _, act := range actions {
		if act.OK {
			ok++
		}
	}
	return fmt.Sprintf("Ran %d commands, %d succeeded.", len(actions), ok)
}
