package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/ashureev/tennis-onboard/internal/domain"
)

// DefaultOpenAIModel is used when no model is configured for the OpenAI engine.
const DefaultOpenAIModel = "gpt-4o-mini"

const serviceOpenAI = "OpenAI"

// OpenAIModel calls an OpenAI-compatible chat completions endpoint.
type OpenAIModel struct {
	client openai.Client
	model  string
}

// NewOpenAIModel creates a model gateway. baseURL may be empty to use the
// public endpoint. The SDK's own retries are disabled.
func NewOpenAIModel(apiKey, baseURL, model string) *OpenAIModel {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIModel{client: openai.NewClient(opts...), model: model}
}

// Complete sends the system prompt followed by the transcript.
func (o *OpenAIModel) Complete(ctx context.Context, req ModelRequest) (resp ModelResponse, err error) {
	start := time.Now()
	defer func() { observe(serviceOpenAI, start, err) }()

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Transcript)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, turn := range req.Transcript {
		if turn.Role == domain.RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(turn.Text))
			continue
		}
		msgs = append(msgs, openai.UserMessage(turn.Text))
	}

	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(o.model),
		Messages:            msgs,
		MaxCompletionTokens: openai.Int(int64(maxTokens(req.MaxOutputTokens))),
		Temperature:         openai.Float(req.Temperature),
	})
	if err != nil {
		return ModelResponse{}, classify(serviceOpenAI, err)
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return ModelResponse{}, &TransportError{Service: serviceOpenAI, Err: ErrEmptyResponse}
	}
	return ModelResponse{Text: completion.Choices[0].Message.Content}, nil
}
