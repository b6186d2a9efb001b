// Package llm provides text generation over langchaingo providers.
package llm

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/lorekeeper/internal/config"
)

// Model wraps langchaingo LLM for text generation.
type Model struct {
	llm         llms.Model
	modelName   string
	temperature float64
}

// Generation is a model response with token usage when the provider reports it.
type Generation struct {
	Content      string
	InputTokens  int64
	OutputTokens int64
}

// NewModel creates an LLM model based on configuration.
func NewModel(ctx context.Context, cfg config.Config) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		model, err = bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
			bedrock.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return NewModelFromLLM(model, cfg.LLMModel, cfg.LLMTemperature), nil
}

// NewModelFromLLM wraps an existing langchaingo model.
func NewModelFromLLM(model llms.Model, name string, temperature float64) *Model {
	return &Model{llm: model, modelName: name, temperature: temperature}
}

// GenerateWithSystem generates text with a system prompt.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	gen, err := m.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	return gen.Content, nil
}

// Complete generates text with a system prompt and reports token usage.
// Provider failures that retrying cannot fix are wrapped with ErrFatalAPI.
func (m *Model) Complete(ctx context.Context, systemPrompt, userPrompt string) (Generation, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	response, err := m.llm.GenerateContent(ctx, messages, llms.WithTemperature(m.temperature))
	if err != nil {
		return Generation{}, fmt.Errorf("generate with system: %w", wrapFatalError(err))
	}

	if len(response.Choices) == 0 {
		return Generation{}, fmt.Errorf("no response choices")
	}

	choice := response.Choices[0]
	return Generation{
		Content:      choice.Content,
		InputTokens:  tokenCount(choice.GenerationInfo, "PromptTokens", "InputTokens"),
		OutputTokens: tokenCount(choice.GenerationInfo, "CompletionTokens", "OutputTokens"),
	}, nil
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// ExtractEntities asks the model for the entities mentioned in a transcript excerpt.
// The response is expected to be a JSON object but is returned unparsed.
func (m *Model) ExtractEntities(ctx context.Context, transcript string) (Generation, error) {
	systemPrompt := `You are a lore archivist for a roleplay campaign. Extract the named entities that appear in the transcript excerpt.

Respond with ONE JSON object and nothing else, using exactly these keys:
{
  "npcs":      [{"name": "", "description": "", "relationship": "", "confidence": 0.0, "mentions": 0}],
  "factions":  [{"name": "", "description": "", "goals": "", "leadership": "", "territory": "", "confidence": 0.0}],
  "locations": [{"name": "", "description": "", "confidence": 0.0}],
  "items":     [{"name": "", "description": "", "properties": "", "confidence": 0.0}],
  "aliases":   [{"name": "", "refers_to": "", "confidence": 0.0}],
  "stats":     [{"name": "", "value": "", "confidence": 0.0}]
}

Guidelines:
- Only include entities that are explicitly named in the excerpt
- Do not invent names, titles or backstory that the excerpt does not state
- Use the spelling from the excerpt
- Leave a list empty when nothing of that type appears
- confidence is your certainty from 0 to 1`

	userPrompt := fmt.Sprintf(`Transcript excerpt:
%s

JSON:`, transcript)

	return m.Complete(ctx, systemPrompt, userPrompt)
}

// tokenCount reads the first present usage key. Providers name and type these differently.
func tokenCount(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
