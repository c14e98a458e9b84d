package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/ashureev/tennis-onboard/internal/domain"
)

// DefaultBedrockModel is the Claude model used when none is configured.
const DefaultBedrockModel = "anthropic.claude-3-haiku-20240307-v1:0"

const serviceBedrock = "Bedrock"

type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockModel calls a Claude model through the Bedrock Converse API.
type BedrockModel struct {
	client  converseAPI
	modelID string
}

// NewBedrockModel creates a model gateway from a loaded AWS configuration.
func NewBedrockModel(cfg aws.Config, modelID string) *BedrockModel {
	return newBedrockModel(bedrockruntime.NewFromConfig(cfg), modelID)
}

func newBedrockModel(client converseAPI, modelID string) *BedrockModel {
	if modelID == "" {
		modelID = DefaultBedrockModel
	}
	return &BedrockModel{client: client, modelID: modelID}
}

// Complete sends the transcript and system prompt and returns the first text block.
func (b *BedrockModel) Complete(ctx context.Context, req ModelRequest) (resp ModelResponse, err error) {
	start := time.Now()
	defer func() { observe(serviceBedrock, start, err) }()

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(b.modelID),
		Messages: bedrockMessages(req.Transcript),
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(maxTokens(req.MaxOutputTokens))),
			Temperature: aws.Float32(float32(req.Temperature)),
		},
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: req.System},
		}
	}

	out, err := b.client.Converse(ctx, input)
	if err != nil {
		return ModelResponse{}, classify(serviceBedrock, err)
	}

	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return ModelResponse{}, &TransportError{Service: serviceBedrock, Err: fmt.Errorf("unexpected output %T", out.Output)}
	}
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok && strings.TrimSpace(text.Value) != "" {
			return ModelResponse{Text: text.Value}, nil
		}
	}
	return ModelResponse{}, &TransportError{Service: serviceBedrock, Err: ErrEmptyResponse}
}

// bedrockMessages maps turns to Converse messages. Converse requires roles to
// alternate, so consecutive turns of the same role (left behind by a failed
// call) are merged into one message with several content blocks.
func bedrockMessages(turns []domain.Turn) []brtypes.Message {
	msgs := make([]brtypes.Message, 0, len(turns))
	for _, turn := range turns {
		role := brtypes.ConversationRoleUser
		if turn.Role == domain.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		block := &brtypes.ContentBlockMemberText{Value: turn.Text}
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content = append(msgs[n-1].Content, block)
			continue
		}
		msgs = append(msgs, brtypes.Message{Role: role, Content: []brtypes.ContentBlock{block}})
	}
	return msgs
}

func maxTokens(n int) int {
	if n <= 0 {
		return DefaultMaxOutputTokens
	}
	return n
}
