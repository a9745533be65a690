package conflict

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// Narrator optionally explains a SEMANTIC conflict's risk in prose. It is
// never on the critical path: a nil Narrator, or one that errors, just
// means Resolution.Explanation stays whatever the strategy chain produced.
type Narrator interface {
	Narrate(ctx context.Context, c *Conflict, resolved string) (string, error)
}

// AnthropicNarrator calls the Messages API for a one-paragraph risk summary.
type AnthropicNarrator struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicNarrator builds a Narrator using apiKey (empty ⇒ the SDK reads
// ANTHROPIC_API_KEY itself). model defaults to Sonnet.
func NewAnthropicNarrator(apiKey string, model anthropic.Model) *AnthropicNarrator {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	return &AnthropicNarrator{client: anthropic.NewClient(opts...), model: model}
}

// NewBedrockNarrator builds a Narrator that authenticates through AWS
// Bedrock instead of a direct Anthropic API key, loading credentials the
// standard AWS SDK way (environment, shared config/credentials files, SSO,
// instance role) via aws-sdk-go-v2/config. region/profile may be empty to
// use the SDK's own resolution.
func NewBedrockNarrator(ctx context.Context, region, profile string, model anthropic.Model) *AnthropicNarrator {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(profile))
	}

	opts := []option.RequestOption{bedrock.WithLoadDefaultConfig(ctx, loadOpts...)}
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	return &AnthropicNarrator{client: anthropic.NewClient(opts...), model: model}
}

// Narrate asks for a short explanation of the semantic risk in merging c's
// two sides into resolved.
func (n *AnthropicNarrator) Narrate(ctx context.Context, c *Conflict, resolved string) (string, error) {
	prompt := fmt.Sprintf(
		"Two branches made conflicting edits to %s. Ours:\n%s\n\nTheirs:\n%s\n\nProposed merged result:\n%s\n\nIn one short paragraph, name the semantic risk (if any) in the proposed merge.",
		c.FilePath, c.Region.Ours, c.Region.Theirs, resolved,
	)

	resp, err := n.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     n.model,
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("narrate conflict %s: %w", c.FilePath, err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(variant.Text)
		}
	}
	return out.String(), nil
}
