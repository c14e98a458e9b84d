package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
)

const servicePolly = "Polly"

// ErrEmptyText is returned when asked to synthesize blank text.
var ErrEmptyText = errors.New("gateway: empty text")

type synthesizeAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollySpeech synthesizes MP3 audio with Amazon Polly.
type PollySpeech struct {
	client synthesizeAPI
}

// NewPollySpeech creates a speech gateway from a loaded AWS configuration.
func NewPollySpeech(cfg aws.Config) *PollySpeech {
	return &PollySpeech{client: polly.NewFromConfig(cfg)}
}

// Synthesize returns the complete audio stream for req.
func (p *PollySpeech) Synthesize(ctx context.Context, req SpeechRequest) (audio []byte, err error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	start := time.Now()
	defer func() { observe(servicePolly, start, err) }()

	format := req.Format
	if format == "" {
		format = OutputFormatMP3
	}

	out, err := p.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Text:         aws.String(req.Text),
		OutputFormat: pollytypes.OutputFormat(format),
		VoiceId:      pollytypes.VoiceId(req.Voice.ID),
		Engine:       pollytypes.Engine(req.Voice.Engine),
		LanguageCode: pollytypes.LanguageCode(req.Voice.LanguageCode),
	})
	if err != nil {
		return nil, classify(servicePolly, err)
	}
	if out.AudioStream == nil {
		return nil, &TransportError{Service: servicePolly, Err: fmt.Errorf("no audio stream")}
	}
	defer out.AudioStream.Close()

	audio, err = io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, &TransportError{Service: servicePolly, Err: fmt.Errorf("read audio stream: %w", err)}
	}
	return audio, nil
}
