package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/hashicorp/go-hclog"
)

const defaultMaxTokens = 4096

const defaultSystemPrompt = "You are a worker agent completing one subtask of a larger mission. " +
	"Answer with the result of the task only; it will be reported back to the requester."

// AnthropicConfig configures an AnthropicRuntime.
type AnthropicConfig struct {
	// Model is the default Claude model.
	Model string
	// AgentModels overrides the model per agent ID.
	AgentModels map[string]string
	// SystemPrompt is prepended to every worker conversation.
	SystemPrompt string
	// MaxTokens caps each response.
	MaxTokens int64
	// Timeout bounds a single Dispatch. Zero means no limit beyond ctx.
	Timeout time.Duration
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// BaseURL overrides the API endpoint.
	BaseURL string
	// UseAWSBedrock routes requests through AWS Bedrock.
	UseAWSBedrock bool
	AWSRegion     string
	AWSProfile    string
	// MaxRetries overrides the SDK retry count when non-negative.
	MaxRetries int
}

// AnthropicRuntime dispatches each worker as a single Messages API call.
type AnthropicRuntime struct {
	client  anthropic.Client
	cfg     AnthropicConfig
	bedrock bool
	tracker *TokenTracker
	logger  hclog.Logger
}

// NewAnthropicRuntime creates a runtime talking to the Anthropic API or Bedrock.
func NewAnthropicRuntime(cfg AnthropicConfig, logger hclog.Logger) (*AnthropicRuntime, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	var opts []option.RequestOption
	if cfg.UseAWSBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	if cfg.Model == "" {
		cfg.Model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}

	return &AnthropicRuntime{
		client:  anthropic.NewClient(opts...),
		cfg:     cfg,
		bedrock: cfg.UseAWSBedrock,
		tracker: NewTokenTracker(),
		logger:  logger.Named("worker"),
	}, nil
}

// Tracker returns the token tracker for this runtime.
func (r *AnthropicRuntime) Tracker() *TokenTracker {
	return r.tracker
}

// ModelFor returns the model used for an agent.
func (r *AnthropicRuntime) ModelFor(agentID string) anthropic.Model {
	model := anthropic.Model(r.cfg.Model)
	if m, ok := r.cfg.AgentModels[agentID]; ok && m != "" {
		model = anthropic.Model(m)
	}
	if r.bedrock {
		model = translateModelForBedrock(model)
	}
	return model
}

// Dispatch sends the instruction and returns the concatenated text reply.
func (r *AnthropicRuntime) Dispatch(ctx context.Context, req Request) (string, error) {
	callCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	model := r.ModelFor(req.AgentID)
	r.logger.Debug("dispatching worker", "session", req.SessionKey, "agent", req.AgentID, "model", model)

	resp, err := r.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: r.cfg.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt(r.cfg.SystemPrompt, req)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Instruction)),
		},
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrTimeout, r.cfg.Timeout)
		}
		return "", fmt.Errorf("messages API: %w", err)
	}

	r.tracker.Add(req.AgentID, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var out strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(variant.Text)
		}
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", fmt.Errorf("empty response (stop reason %q)", resp.StopReason)
	}
	if resp.StopReason == anthropic.StopReasonMaxTokens {
		r.logger.Warn("worker response truncated", "session", req.SessionKey, "max_tokens", r.cfg.MaxTokens)
	}
	return text, nil
}

func systemPrompt(base string, req Request) string {
	var b strings.Builder
	b.WriteString(base)
	fmt.Fprintf(&b, "\n\nAgent: %s\nSession: %s", req.AgentID, req.SessionKey)
	if req.Label != "" {
		fmt.Fprintf(&b, "\nTask label: %s", req.Label)
	}
	return b.String()
}

// translateModelForBedrock converts standard Anthropic model names to Bedrock inference profile format.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
	}
	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	return model
}

var _ Runtime = (*AnthropicRuntime)(nil)
