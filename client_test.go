package polyllm_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/xostack/polyllm"
	"github.com/xostack/polyllm/mock"
)

// stubFacade records the calls it receives and can be told to panic or to
// stream a fixed sequence.
type stubFacade struct {
	polyllm.BaseFacade
	panicWith    any
	chunks       []string
	streamErr    error
	generateArgs []string
	chatArgs     [][]polyllm.Message
	lastOpts     polyllm.Options
}

func newStub() *stubFacade {
	return &stubFacade{BaseFacade: polyllm.NewBaseFacade("stub", "stub-model", nil)}
}

func (s *stubFacade) Generate(ctx context.Context, prompt string, opts polyllm.Options) polyllm.Response {
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	s.generateArgs = append(s.generateArgs, prompt)
	s.lastOpts = opts
	return polyllm.NewResponse("gen:"+prompt, s.Model(), s.Provider())
}

func (s *stubFacade) Chat(ctx context.Context, messages []polyllm.Message, opts polyllm.Options) polyllm.Response {
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	s.chatArgs = append(s.chatArgs, messages)
	s.lastOpts = opts
	return polyllm.NewResponse("chat:"+messages[len(messages)-1].Content, s.Model(), s.Provider())
}

func (s *stubFacade) stream() polyllm.Stream {
	return polyllm.OnceStream(func(yield func(string, error) bool) {
		for _, c := range s.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if s.panicWith != nil {
			panic(s.panicWith)
		}
		if s.streamErr != nil {
			yield("", s.streamErr)
		}
	})
}

func (s *stubFacade) GenerateStream(ctx context.Context, prompt string, opts polyllm.Options) polyllm.Stream {
	s.generateArgs = append(s.generateArgs, prompt)
	return s.stream()
}

func (s *stubFacade) ChatStream(ctx context.Context, messages []polyllm.Message, opts polyllm.Options) polyllm.Stream {
	s.chatArgs = append(s.chatArgs, messages)
	return s.stream()
}

func TestClient_GenerateRecordsHistory(t *testing.T) {
	stub := newStub()
	client := polyllm.NewClient(stub, 10)

	resp := client.Generate(context.Background(), "hello")
	if resp.Failed() || resp.Content != "gen:hello" {
		t.Fatalf("Unexpected response: %+v", resp)
	}
	if client.History().Size() != 1 || client.History().All()[0].Prompt != "hello" {
		t.Errorf("Expected the interaction to be recorded, got %+v", client.History().All())
	}

	client.Generate(context.Background(), "quiet", polyllm.SkipHistory())
	if client.History().Size() != 1 {
		t.Error("Expected SkipHistory to prevent recording")
	}
}

func TestClient_GenerateWithHistoryUsesChat(t *testing.T) {
	stub := newStub()
	client := polyllm.NewClient(stub, 10)

	// empty history: plain generate even when requested
	client.Generate(context.Background(), "first", polyllm.UseHistory())
	if len(stub.generateArgs) != 1 || len(stub.chatArgs) != 0 {
		t.Fatalf("Expected plain generate on empty history, got %d generate / %d chat", len(stub.generateArgs), len(stub.chatArgs))
	}

	resp := client.Generate(context.Background(), "second", polyllm.UseHistory())
	if len(stub.chatArgs) != 1 {
		t.Fatalf("Expected a chat call, got %d", len(stub.chatArgs))
	}
	msgs := stub.chatArgs[0]
	want := []polyllm.Message{
		polyllm.UserMessage("first"),
		polyllm.AssistantMessage("gen:first"),
		polyllm.UserMessage("second"),
	}
	if len(msgs) != len(want) {
		t.Fatalf("Expected %d messages, got %d", len(want), len(msgs))
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("Message %d: expected %+v, got %+v", i, want[i], msgs[i])
		}
	}
	if resp.Content != "chat:second" {
		t.Errorf("Unexpected response: %s", resp.Content)
	}
}

func TestClient_GeneratePanicBecomesErrorResponse(t *testing.T) {
	stub := newStub()
	stub.panicWith = "vendor exploded"
	client := polyllm.NewClient(stub, 10)

	resp := client.Generate(context.Background(), "hello")
	if resp.Content != "" {
		t.Errorf("Expected empty content, got '%s'", resp.Content)
	}
	if !resp.Failed() || !strings.Contains(resp.Error, "vendor exploded") {
		t.Errorf("Expected error carrying the panic, got '%s'", resp.Error)
	}
	if !client.History().IsEmpty() {
		t.Error("Expected failed interaction not to be recorded")
	}

	resp = client.Chat(context.Background(), []polyllm.Message{polyllm.UserMessage("x")})
	if !resp.Failed() || !client.History().IsEmpty() {
		t.Error("Expected Chat to recover too and record nothing")
	}
}

func TestClient_FailedResponseNotRecorded(t *testing.T) {
	p, _ := mock.New("mock", polyllm.Secret{}, nil)
	facade, err := p.CreateFacade("mock-model-fast", polyllm.Options{mock.OptFailWith: "rate limited"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	client := polyllm.NewClient(facade, 10)

	resp := client.Generate(context.Background(), "hello")
	if resp.Error != "rate limited" || resp.Content != "" {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if !client.History().IsEmpty() {
		t.Error("Expected failed interaction not to be recorded")
	}
}

func TestClient_ChatRecordsLastUserMessage(t *testing.T) {
	stub := newStub()
	client := polyllm.NewClient(stub, 10)

	client.Chat(context.Background(), []polyllm.Message{
		polyllm.SystemMessage("be nice"),
		polyllm.UserMessage("earlier"),
		polyllm.AssistantMessage("sure"),
		polyllm.UserMessage("X"),
		polyllm.AssistantMessage("trailing assistant"),
	})

	all := client.History().All()
	if len(all) != 1 {
		t.Fatalf("Expected one interaction, got %d", len(all))
	}
	if all[0].Prompt != "X" {
		t.Errorf("Expected stored prompt 'X', got '%s'", all[0].Prompt)
	}
}

func TestClient_MultiShotGenerate(t *testing.T) {
	stub := newStub()
	client := polyllm.NewClient(stub, 10)
	for _, p := range []string{"a", "b", "c"} {
		client.Generate(context.Background(), p)
	}

	client.MultiShotGenerate(context.Background(), "d", 2)
	if len(stub.chatArgs) != 1 {
		t.Fatalf("Expected one chat call, got %d", len(stub.chatArgs))
	}
	msgs := stub.chatArgs[0]
	if len(msgs) != 5 {
		t.Fatalf("Expected 5 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "b" || msgs[2].Content != "c" || msgs[4].Content != "d" {
		t.Errorf("Unexpected messages: %+v", msgs)
	}
	if client.History().Size() != 4 || client.History().Last(1)[0].Prompt != "d" {
		t.Error("Expected multi-shot result to be recorded under its prompt")
	}
}

func TestClient_MultiShotGenerateZeroShots(t *testing.T) {
	stub := newStub()
	client := polyllm.NewClient(stub, 10)
	client.Generate(context.Background(), "a")

	client.MultiShotGenerate(context.Background(), "b", 0)
	if len(stub.chatArgs) != 1 || len(stub.chatArgs[0]) != 1 || stub.chatArgs[0][0].Content != "b" {
		t.Errorf("Expected only the new prompt without shots, got %+v", stub.chatArgs)
	}
}

func TestClient_DefaultParams(t *testing.T) {
	stub := newStub()
	client := polyllm.NewClient(stub, 10)
	client.SetDefaultParams(polyllm.Options{"temperature": 0.2, "max_tokens": 50})
	client.SetDefaultParams(polyllm.Options{"max_tokens": 60})

	client.Generate(context.Background(), "x", polyllm.WithTemperature(0.9))
	if stub.lastOpts.Float("temperature", 0) != 0.9 {
		t.Errorf("Expected call-level temperature to win, got %v", stub.lastOpts["temperature"])
	}
	if stub.lastOpts.Int("max_tokens", 0) != 60 {
		t.Errorf("Expected merged default max_tokens, got %v", stub.lastOpts["max_tokens"])
	}
	if client.DefaultParams().Float("temperature", 0) != 0.2 {
		t.Error("Expected call options not to leak into defaults")
	}
}

func TestClient_GenerateStream(t *testing.T) {
	stub := newStub()
	stub.chunks = []string{"Hel", "lo", "!"}
	client := polyllm.NewClient(stub, 10)

	var got []string
	for chunk, err := range client.GenerateStream(context.Background(), "greet") {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		got = append(got, chunk)
	}
	if strings.Join(got, "|") != "Hel|lo|!" {
		t.Errorf("Expected fragments in order, got %v", got)
	}

	all := client.History().All()
	if len(all) != 1 || all[0].Prompt != "greet" || all[0].Response != "Hello!" {
		t.Errorf("Expected concatenation to be recorded, got %+v", all)
	}
}

func TestClient_GenerateStreamRecordsAfterErrorFragment(t *testing.T) {
	stub := newStub()
	stub.chunks = []string{"partial "}
	stub.streamErr = errors.New("connection reset")
	client := polyllm.NewClient(stub, 10)

	text, err := polyllm.CollectStream(client.GenerateStream(context.Background(), "p"))
	if text != "partial " || err == nil {
		t.Fatalf("Expected partial text and an error, got '%s' (%v)", text, err)
	}

	// CollectStream breaks out at the error fragment, so nothing is recorded
	// there; draining every pair is a natural exhaustion.
	if !client.History().IsEmpty() {
		t.Error("Expected no recording after an early break")
	}

	stub2 := newStub()
	stub2.chunks = []string{"partial "}
	stub2.streamErr = errors.New("connection reset")
	client2 := polyllm.NewClient(stub2, 10)
	for range client2.GenerateStream(context.Background(), "p") {
	}
	if client2.History().Size() != 1 || client2.History().All()[0].Response != "partial " {
		t.Errorf("Expected recording on natural exhaustion, got %+v", client2.History().All())
	}
}

func TestClient_GenerateStreamEarlyBreakSkipsRecording(t *testing.T) {
	stub := newStub()
	stub.chunks = []string{"a", "b", "c"}
	client := polyllm.NewClient(stub, 10)

	for chunk := range client.GenerateStream(context.Background(), "p") {
		if chunk == "a" {
			break
		}
	}
	if !client.History().IsEmpty() {
		t.Error("Expected early break to skip recording")
	}
}

func TestClient_GenerateStreamWithHistoryUsesChatStream(t *testing.T) {
	stub := newStub()
	stub.chunks = []string{"ok"}
	client := polyllm.NewClient(stub, 10)
	client.Generate(context.Background(), "first")

	for range client.GenerateStream(context.Background(), "second", polyllm.UseHistory()) {
	}
	if len(stub.chatArgs) != 1 || len(stub.chatArgs[0]) != 3 {
		t.Fatalf("Expected a chat stream over history, got %+v", stub.chatArgs)
	}
}

func TestClient_GenerateStreamPanicIsInBand(t *testing.T) {
	stub := newStub()
	stub.chunks = []string{"a"}
	stub.panicWith = "stream exploded"
	client := polyllm.NewClient(stub, 10)

	var errs []error
	for _, err := range client.GenerateStream(context.Background(), "p") {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "stream exploded") {
		t.Errorf("Expected one terminal error fragment, got %v", errs)
	}
	if !client.History().IsEmpty() {
		t.Error("Expected a panicking stream not to be recorded")
	}
}

func TestClient_StreamIsSingleUse(t *testing.T) {
	stub := newStub()
	stub.chunks = []string{"a"}
	client := polyllm.NewClient(stub, 10)

	s := client.GenerateStream(context.Background(), "p")
	for range s {
	}
	_, err := polyllm.CollectStream(s)
	if !errors.Is(err, polyllm.ErrStreamConsumed) {
		t.Errorf("Expected ErrStreamConsumed, got %v", err)
	}
	if client.History().Size() != 1 {
		t.Errorf("Expected a single recording, got %d", client.History().Size())
	}
}

func TestClient_ChatStream(t *testing.T) {
	stub := newStub()
	stub.chunks = []string{"x", "y"}
	client := polyllm.NewClient(stub, 10)

	text, err := polyllm.CollectStream(client.ChatStream(context.Background(), []polyllm.Message{
		polyllm.UserMessage("question"),
	}))
	if err != nil || text != "xy" {
		t.Fatalf("Unexpected stream result '%s' (%v)", text, err)
	}
	all := client.History().All()
	if len(all) != 1 || all[0].Prompt != "question" || all[0].Response != "xy" {
		t.Errorf("Unexpected history: %+v", all)
	}
}

func TestClient_Accessors(t *testing.T) {
	stub := newStub()
	client := polyllm.NewClient(stub, 4)

	if client.Model() != "stub-model" || client.Provider() != "stub" {
		t.Errorf("Unexpected identity: %s/%s", client.Provider(), client.Model())
	}
	info := client.ModelInfo()
	if info["model_name"] != "stub-model" || info["provider"] != "stub" {
		t.Errorf("Unexpected model info: %v", info)
	}
	client.Generate(context.Background(), "x")
	client.ClearHistory()
	if !client.History().IsEmpty() {
		t.Error("Expected ClearHistory to empty the history")
	}
	if !strings.Contains(client.String(), "stub-model") {
		t.Errorf("Unexpected String(): %s", client.String())
	}
}
