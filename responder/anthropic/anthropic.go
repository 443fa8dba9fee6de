// Package anthropic adapts the Anthropic Messages API to the responder
// contract.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/xraph/colloquy/responder"
)

// Options configures the adapter (model id, temperature, max tokens,
// API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Responder wraps the Anthropic Messages API behind the generic
// responder.Responder interface.
type Responder struct {
	client *anthropic.Client
	opts   Options
}

var _ responder.Responder = (*Responder)(nil)

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// New creates a responder using the official client.
func New(optFns ...func(o *Options)) *Responder {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Responder{client: &client, opts: opts}
}

// NewFromClient creates a responder from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Responder {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Responder{client: client, opts: opts}
}

// WithModel overrides the model id.
func WithModel(m anthropic.Model) func(*Options) {
	return func(o *Options) { o.Model = m }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) func(*Options) {
	return func(o *Options) { o.Temperature = t }
}

// WithMaxTokens overrides the response token cap.
func WithMaxTokens(n int64) func(*Options) {
	return func(o *Options) { o.MaxTokens = n }
}

// WithAPIKey sets an explicit API key instead of the environment.
func WithAPIKey(key string) func(*Options) {
	return func(o *Options) { o.APIKey = key }
}

// Reply implements responder.Responder with a non-streaming Messages
// call. System entries in the transcript become the system prompt; the
// first text block of the response is the reply.
func (r *Responder) Reply(ctx context.Context, req responder.Request) (string, error) {
	model := r.opts.Model
	if req.ModelHint != "" {
		model = anthropic.Model(req.ModelHint)
	}

	params := anthropic.MessageNewParams{
		Model:       model,
		Messages:    buildMessages(req.History),
		MaxTokens:   r.opts.MaxTokens,
		Temperature: anthropic.Float(r.opts.Temperature),
	}
	if system := extractSystem(req.History); len(system) > 0 {
		params.System = system
	}

	resp, err := r.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			if text := block.AsText().Text; text != "" {
				parts = append(parts, text)
			}
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("anthropic: empty response for session %s", req.SessionID)
	}
	return strings.Join(parts, "\n"), nil
}

// buildMessages converts the transcript to Anthropic message format.
// System entries are handled separately.
func buildMessages(history []responder.Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, m := range history {
		if m.Content == "" || m.Role == responder.RoleSystem {
			continue
		}
		switch m.Role {
		case responder.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			// Unknown roles are treated as user input.
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return messages
}

// extractSystem collects system entries as system prompt blocks.
func extractSystem(history []responder.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, m := range history {
		if m.Role == responder.RoleSystem && m.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: m.Content})
		}
	}
	return blocks
}
