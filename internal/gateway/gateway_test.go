package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/tennis-onboard/internal/domain"
)

type fakeConverse struct {
	calls int
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.calls++
	f.input = in
	return f.out, f.err
}

func textOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
		}},
	}
}

func TestBedrockComplete(t *testing.T) {
	t.Parallel()

	fake := &fakeConverse{out: textOutput("Quel âge as-tu ?")}
	model := newBedrockModel(fake, "")

	resp, err := model.Complete(context.Background(), ModelRequest{
		System: "sys",
		Transcript: []domain.Turn{
			{ID: "1", Role: domain.RoleUser, Text: "Bonjour"},
		},
		MaxOutputTokens: 256,
		Temperature:     0.5,
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if resp.Text != "Quel âge as-tu ?" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if fake.calls != 1 {
		t.Fatalf("expected one call, got %d", fake.calls)
	}
	if *fake.input.ModelId != DefaultBedrockModel {
		t.Fatalf("unexpected model id %q", *fake.input.ModelId)
	}
	if got := *fake.input.InferenceConfig.MaxTokens; got != 256 {
		t.Fatalf("expected max tokens 256, got %d", got)
	}
	sys, ok := fake.input.System[0].(*brtypes.SystemContentBlockMemberText)
	if !ok || sys.Value != "sys" {
		t.Fatalf("system prompt not forwarded: %#v", fake.input.System)
	}
}

func TestBedrockMergesConsecutiveRoles(t *testing.T) {
	t.Parallel()

	msgs := bedrockMessages([]domain.Turn{
		{Role: domain.RoleUser, Text: "a"},
		{Role: domain.RoleUser, Text: "b"},
		{Role: domain.RoleAssistant, Text: "c"},
		{Role: domain.RoleUser, Text: "d"},
	})

	var roles []brtypes.ConversationRole
	for _, m := range msgs {
		roles = append(roles, m.Role)
	}
	want := []brtypes.ConversationRole{
		brtypes.ConversationRoleUser,
		brtypes.ConversationRoleAssistant,
		brtypes.ConversationRoleUser,
	}
	if diff := cmp.Diff(want, roles); diff != "" {
		t.Fatalf("roles mismatch (-want +got):\n%s", diff)
	}
	if len(msgs[0].Content) != 2 {
		t.Fatalf("expected merged user message with 2 blocks, got %d", len(msgs[0].Content))
	}
}

func TestBedrockErrorClassification(t *testing.T) {
	t.Parallel()

	fake := &fakeConverse{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Rate exceeded"}}
	_, err := newBedrockModel(fake, "m").Complete(context.Background(), ModelRequest{})

	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %T: %v", err, err)
	}
	if gwErr.Error() != "Bedrock error [ThrottlingException]: Rate exceeded" {
		t.Fatalf("unexpected message %q", gwErr.Error())
	}
	if fake.calls != 1 {
		t.Fatalf("expected exactly one call, got %d", fake.calls)
	}

	fake = &fakeConverse{err: io.ErrUnexpectedEOF}
	_, err = newBedrockModel(fake, "m").Complete(context.Background(), ModelRequest{})
	var trErr *TransportError
	if !errors.As(err, &trErr) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected TransportError wrapping EOF, got %v", err)
	}
	if Class(err) != "transport" {
		t.Fatalf("unexpected class %q", Class(err))
	}
}

func TestBedrockEmptyResponse(t *testing.T) {
	t.Parallel()

	fake := &fakeConverse{out: textOutput("   ")}
	_, err := newBedrockModel(fake, "m").Complete(context.Background(), ModelRequest{})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestOpenAIComplete(t *testing.T) {
	t.Parallel()

	var (
		hits int32
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":0,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Hello!"}}]}`))
	}))
	defer srv.Close()

	model := NewOpenAIModel("key", srv.URL, "test-model")
	resp, err := model.Complete(context.Background(), ModelRequest{
		System:     "sys",
		Transcript: []domain.Turn{{Role: domain.RoleUser, Text: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if resp.Text != "Hello!" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if body["model"] != "test-model" {
		t.Fatalf("unexpected model %v", body["model"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(msgs))
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Fatalf("expected system message first, got %v", first["role"])
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected one request, got %d", hits)
	}
}

func TestOpenAINoRetryOnRateLimit(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIModel("key", srv.URL, "").Complete(context.Background(), ModelRequest{
		Transcript: []domain.Turn{{Role: domain.RoleUser, Text: "hi"}},
	})
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %T: %v", err, err)
	}
	if gwErr.Service != "OpenAI" || gwErr.Code == "" {
		t.Fatalf("unexpected gateway error %+v", gwErr)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected exactly one request, got %d", got)
	}
}

type fakePolly struct {
	input *polly.SynthesizeSpeechInput
	err   error
}

func (f *fakePolly) SynthesizeSpeech(_ context.Context, in *polly.SynthesizeSpeechInput, _ ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &polly.SynthesizeSpeechOutput{AudioStream: io.NopCloser(bytes.NewReader([]byte("ID3audio")))}, nil
}

func TestPollySynthesize(t *testing.T) {
	t.Parallel()

	fake := &fakePolly{}
	speech := &PollySpeech{client: fake}

	audio, err := speech.Synthesize(context.Background(), SpeechRequest{
		Text:  "Bonjour",
		Voice: VoiceFor(domain.LanguageFrench),
	})
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if string(audio) != "ID3audio" {
		t.Fatalf("unexpected audio %q", audio)
	}
	if fake.input.VoiceId != pollytypes.VoiceIdLea || fake.input.Engine != pollytypes.EngineNeural {
		t.Fatalf("unexpected voice %s/%s", fake.input.VoiceId, fake.input.Engine)
	}
	if fake.input.OutputFormat != pollytypes.OutputFormatMp3 {
		t.Fatalf("unexpected format %s", fake.input.OutputFormat)
	}
	if fake.input.LanguageCode != pollytypes.LanguageCodeFrFr {
		t.Fatalf("unexpected language %s", fake.input.LanguageCode)
	}
}

func TestPollyRejectsEmptyText(t *testing.T) {
	t.Parallel()

	fake := &fakePolly{}
	_, err := (&PollySpeech{client: fake}).Synthesize(context.Background(), SpeechRequest{Text: "  "})
	if !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
	if fake.input != nil {
		t.Fatal("service must not be called for empty text")
	}
}

func TestPollyErrorClassification(t *testing.T) {
	t.Parallel()

	fake := &fakePolly{err: &smithy.GenericAPIError{Code: "InvalidSsmlException", Message: "bad"}}
	_, err := (&PollySpeech{client: fake}).Synthesize(context.Background(), SpeechRequest{Text: "x"})
	if err == nil || err.Error() != "Polly error [InvalidSsmlException]: bad" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestVoiceForFallsBackToFrench(t *testing.T) {
	t.Parallel()

	if got := VoiceFor(domain.Language("de")); got.ID != "Lea" {
		t.Fatalf("expected Lea fallback, got %q", got.ID)
	}
	if got := VoiceFor(domain.LanguageEnglish); got.ID != "Joanna" || got.LanguageCode != "en-US" {
		t.Fatalf("unexpected english voice %+v", got)
	}
}

func TestRouter(t *testing.T) {
	t.Parallel()

	r := NewRouter(map[string]int{"a": 1, "b": 2}, "b")
	if v, err := r.Route("a"); err != nil || v != 1 {
		t.Fatalf("Route(a) = %d, %v", v, err)
	}
	if v, err := r.Route("zzz"); err != nil || v != 2 {
		t.Fatalf("Route(zzz) = %d, %v", v, err)
	}
	if !r.Has("a") || r.Has("zzz") {
		t.Fatal("Has mismatch")
	}
	if diff := cmp.Diff([]string{"a", "b"}, r.Engines()); diff != "" {
		t.Fatalf("engines mismatch (-want +got):\n%s", diff)
	}

	empty := NewRouter(map[string]int{}, "x")
	if _, err := empty.Route("y"); err == nil {
		t.Fatal("expected error from empty router")
	}
}

type countingSpeech struct {
	calls atomic.Int32
	delay time.Duration
	fail  atomic.Bool
}

func (c *countingSpeech) Synthesize(_ context.Context, req SpeechRequest) ([]byte, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)
	if c.fail.Load() {
		return nil, &GatewayError{Service: "Polly", Code: "ServiceFailure", Message: "down"}
	}
	return []byte("audio:" + req.Text), nil
}

func TestSpeechCacheMemoizes(t *testing.T) {
	t.Parallel()

	speech := &countingSpeech{delay: 20 * time.Millisecond}
	cache := NewSpeechCache(speech)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			audio, err := cache.Get(context.Background(), "m1", SpeechRequest{Text: "hello"})
			if err != nil || string(audio) != "audio:hello" {
				t.Errorf("Get = %q, %v", audio, err)
			}
		}()
	}
	wg.Wait()

	if _, err := cache.Get(context.Background(), "m1", SpeechRequest{Text: "hello"}); err != nil {
		t.Fatalf("cached Get failed: %v", err)
	}
	if got := speech.calls.Load(); got != 1 {
		t.Fatalf("expected one upstream call, got %d", got)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected one cached entry, got %d", cache.Len())
	}
}

func TestSpeechCacheDoesNotCacheFailures(t *testing.T) {
	t.Parallel()

	speech := &countingSpeech{}
	speech.fail.Store(true)
	cache := NewSpeechCache(speech)

	if _, err := cache.Get(context.Background(), "m1", SpeechRequest{Text: "x"}); err == nil {
		t.Fatal("expected error")
	}
	speech.fail.Store(false)
	audio, err := cache.Get(context.Background(), "m1", SpeechRequest{Text: "x"})
	if err != nil || string(audio) != "audio:x" {
		t.Fatalf("retry after failure = %q, %v", audio, err)
	}
	if got := speech.calls.Load(); got != 2 {
		t.Fatalf("expected two upstream calls, got %d", got)
	}
}

type gatedSpeech struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (g *gatedSpeech) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	g.calls.Add(1)
	g.started <- struct{}{}
	select {
	case <-g.release:
		return []byte("audio:" + req.Text), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSpeechCacheSurvivesCancelledCaller(t *testing.T) {
	t.Parallel()

	speech := &gatedSpeech{started: make(chan struct{}, 1), release: make(chan struct{})}
	cache := NewSpeechCache(speech)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx, "m1", SpeechRequest{Text: "hello"})
		errc <- err
	}()

	<-speech.started
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller got %v, want context.Canceled", err)
	}

	close(speech.release)
	deadline := time.Now().Add(2 * time.Second)
	for cache.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	audio, err := cache.Get(context.Background(), "m1", SpeechRequest{Text: "hello"})
	if err != nil || string(audio) != "audio:hello" {
		t.Fatalf("Get after cancelled caller = %q, %v", audio, err)
	}
	if got := speech.calls.Load(); got != 1 {
		t.Fatalf("expected the first synthesis to complete and be reused, got %d calls", got)
	}
}
