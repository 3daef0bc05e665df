package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVendor records every POST body and answers with canned JSON per path suffix.
type fakeVendor struct {
	mu     sync.Mutex
	bodies []map[string]any
	paths  []string
	routes map[string]string
	status int
	delay  time.Duration
}

func newFakeVendor(t *testing.T, routes map[string]string) (*fakeVendor, *httptest.Server) {
	t.Helper()
	fv := &fakeVendor{routes: routes}
	srv := httptest.NewServer(http.HandlerFunc(fv.serve))
	t.Cleanup(srv.Close)
	return fv, srv
}

func (fv *fakeVendor) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	fv.mu.Lock()
	fv.paths = append(fv.paths, r.URL.Path)
	if r.Method == http.MethodPost && len(raw) > 0 {
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		fv.bodies = append(fv.bodies, body)
	}
	status, delay := fv.status, fv.delay
	fv.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if status != 0 && r.Method == http.MethodPost {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
		return
	}
	for suffix, resp := range fv.routes {
		if strings.HasSuffix(r.URL.Path, suffix) {
			_, _ = io.WriteString(w, resp)
			return
		}
	}
	http.NotFound(w, r)
}

func (fv *fakeVendor) lastBody(t *testing.T) map[string]any {
	t.Helper()
	fv.mu.Lock()
	defer fv.mu.Unlock()
	require.NotEmpty(t, fv.bodies)
	return fv.bodies[len(fv.bodies)-1]
}

func (fv *fakeVendor) set(status int, delay time.Duration) {
	fv.mu.Lock()
	fv.status, fv.delay = status, delay
	fv.mu.Unlock()
}

const (
	openAIModels = `{"object":"list","data":[{"id":"gpt-4o","object":"model","created":0,"owned_by":"openai"}]}`
	openAIChat   = `{"id":"c1","object":"chat.completion","created":0,"model":"gpt-4o","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  A blue circle.  "}}]}`
	claudeModels = `{"data":[],"has_more":false,"first_id":null,"last_id":null}`
	claudeMsg    = `{"id":"m1","type":"message","role":"assistant","model":"claude-3","content":[{"type":"text","text":"A blue circle."}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`
	geminiCount  = `{"totalTokens":1}`
	geminiGen    = `{"candidates":[{"content":{"role":"model","parts":[{"text":"A blue circle."}]},"finishReason":"STOP"}]}`
)

func openAIRoutes() map[string]string {
	return map[string]string{"/models": openAIModels, "/chat/completions": openAIChat}
}

func initOpenAI(t *testing.T, vendor Vendor) (*OpenAIProvider, *fakeVendor) {
	t.Helper()
	fv, srv := newFakeVendor(t, openAIRoutes())
	cfg := ProviderConfig{Vendor: vendor, Model: "gpt-4o", APIKey: "k", BaseURL: srv.URL + "/v1/"}
	var p *OpenAIProvider
	if vendor == VendorDeepSeek {
		p = NewDeepSeekProvider(cfg)
	} else {
		p = NewOpenAIProvider(cfg)
	}
	require.NoError(t, p.Initialize(context.Background(), ""))
	return p, fv
}

func TestOpenAIGenerateTrimsAndSendsPromptThenPayload(t *testing.T) {
	p, fv := initOpenAI(t, VendorOpenAI)

	text, err := p.Generate(context.Background(), "Summarize", NewTextTask("Summarize", "some text"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "A blue circle.", text)

	body := fv.lastBody(t)
	assert.Equal(t, "gpt-4o", body["model"])
	assert.EqualValues(t, 2048, body["max_tokens"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1)
	content := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "Summarize", content[0].(map[string]any)["text"])
	assert.Equal(t, "some text", content[1].(map[string]any)["text"])
}

func TestOpenAIImageIsSentAsJPEGDataURL(t *testing.T) {
	p, fv := initOpenAI(t, VendorOpenAI)
	path := writePNG(t, true)

	_, err := p.Generate(context.Background(), "What is this?", NewImageTask("What is this?", path), time.Second)
	require.NoError(t, err)

	content := fv.lastBody(t)["messages"].([]any)[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	img := content[1].(map[string]any)
	assert.Equal(t, "image_url", img["type"])
	url := img["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))
}

func TestOpenAIReplayResendsFullHistory(t *testing.T) {
	p, fv := initOpenAI(t, VendorOpenAI)

	h, err := p.StartChat(context.Background(), seedHistory())
	require.NoError(t, err)
	sim, ok := h.(SimulatedHandle)
	require.True(t, ok)
	require.Len(t, sim.History, 2)

	history := append(sim.History, Turn{Role: RoleUser, Parts: []Part{TextPart("Bigger?")}})
	text, err := p.Replay(context.Background(), history, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "A blue circle.", text)

	msgs := fv.lastBody(t)["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", msgs[1].(map[string]any)["role"])
	assert.Equal(t, "A blue circle.", msgs[1].(map[string]any)["content"])
	assert.Equal(t, "user", msgs[2].(map[string]any)["role"])
}

func TestDeepSeekReplayFlattensTranscript(t *testing.T) {
	p, fv := initOpenAI(t, VendorDeepSeek)

	history := append(seedHistory(), Turn{Role: RoleUser, Parts: []Part{TextPart("Bigger?")}})
	_, err := p.Replay(context.Background(), history, time.Second)
	require.NoError(t, err)

	msgs := fv.lastBody(t)["messages"].([]any)
	require.Len(t, msgs, 1)
	content := msgs[0].(map[string]any)["content"].(string)
	assert.Contains(t, content, "User: Describe")
	assert.Contains(t, content, "Assistant: A blue circle.")
	assert.True(t, strings.HasSuffix(content, "Bigger?"))
}

func TestDeepSeekDefaultsBaseURL(t *testing.T) {
	p := NewDeepSeekProvider(ProviderConfig{Vendor: VendorDeepSeek, Model: "deepseek-chat"})
	assert.Equal(t, deepSeekBaseURL, p.cfg.BaseURL)
}

func TestOpenAIVendorErrorCarriesStatus(t *testing.T) {
	p, fv := initOpenAI(t, VendorOpenAI)
	fv.set(http.StatusUnauthorized, 0)

	text, err := p.Generate(context.Background(), "hi", NewTextTask("hi", ""), time.Second)
	assert.Empty(t, text)
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CallVendor, ce.Kind)
	assert.Equal(t, http.StatusUnauthorized, ce.Status)
}

func TestOpenAITimeoutIsClassified(t *testing.T) {
	p, fv := initOpenAI(t, VendorOpenAI)
	fv.set(0, time.Second)

	_, err := p.Generate(context.Background(), "hi", NewTextTask("hi", ""), 50*time.Millisecond)
	assert.True(t, IsTimeout(err), "got %v", err)
}

func TestOpenAIInitializeFailsOnMissingKey(t *testing.T) {
	p := NewOpenAIProvider(ProviderConfig{Vendor: VendorOpenAI, Model: "gpt-4o"})
	var ie *InitError
	require.ErrorAs(t, p.Initialize(context.Background(), ""), &ie)
	assert.Equal(t, VendorOpenAI, ie.Vendor)
}

func TestGenerateBeforeInitialize(t *testing.T) {
	p := NewOpenAIProvider(ProviderConfig{Vendor: VendorOpenAI, Model: "gpt-4o"})
	_, err := p.Generate(context.Background(), "hi", NewTextTask("hi", ""), time.Second)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestPayloadMismatchIsPayloadError(t *testing.T) {
	p, _ := initOpenAI(t, VendorOpenAI)
	bad := Task{Prompt: "x", Kind: KindText, Payload: ImagePathPayload{Path: "a.png"}}
	_, err := p.Generate(context.Background(), "x", bad, time.Second)
	assert.Equal(t, CallPayload, KindOf(err))
}

func initClaude(t *testing.T) (*ClaudeProvider, *fakeVendor) {
	t.Helper()
	fv, srv := newFakeVendor(t, map[string]string{"/v1/models": claudeModels, "/v1/messages": claudeMsg})
	p := NewClaudeProvider(ProviderConfig{Vendor: VendorClaude, Model: "claude-3", APIKey: "k", BaseURL: srv.URL + "/"})
	require.NoError(t, p.Initialize(context.Background(), ""))
	return p, fv
}

func TestClaudeSplitsBackgroundIntoSystem(t *testing.T) {
	p, fv := initClaude(t)
	prompt := "<USER_BACKGROUND>\nI am a designer\n</USER_BACKGROUND>\n---\nDescribe"
	path := writePNG(t, false)

	text, err := p.Generate(context.Background(), prompt, NewImageFromPathTask(prompt, path), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "A blue circle.", text)

	body := fv.lastBody(t)
	system := body["system"].([]any)
	require.Len(t, system, 1)
	assert.Equal(t, "I am a designer", system[0].(map[string]any)["text"])

	content := body["messages"].([]any)[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "image", content[0].(map[string]any)["type"])
	assert.Equal(t, "text", content[1].(map[string]any)["type"])
	assert.Equal(t, "Describe", content[1].(map[string]any)["text"])
}

func TestClaudeMalformedBackgroundSentAsUserText(t *testing.T) {
	p, fv := initClaude(t)
	prompt := "<USER_BACKGROUND>oops\n---\nDescribe"

	_, err := p.Generate(context.Background(), prompt, NewTextTask(prompt, ""), time.Second)
	require.NoError(t, err)

	body := fv.lastBody(t)
	assert.Nil(t, body["system"])
	content := body["messages"].([]any)[0].(map[string]any)["content"].([]any)
	assert.Equal(t, prompt, content[0].(map[string]any)["text"])
}

func TestClaudeReplayKeepsSystemAndAlternation(t *testing.T) {
	p, fv := initClaude(t)
	first := Turn{Role: RoleUser, Parts: []Part{TextPart("<USER_BACKGROUND>bg</USER_BACKGROUND>\n---\nDescribe")}}
	history := []Turn{first, {Role: RoleModel, Parts: []Part{TextPart("A blue circle.")}}, {Role: RoleUser, Parts: []Part{TextPart("Bigger?")}}}

	_, err := p.Replay(context.Background(), history, time.Second)
	require.NoError(t, err)

	body := fv.lastBody(t)
	assert.Equal(t, "bg", body["system"].([]any)[0].(map[string]any)["text"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "assistant", msgs[1].(map[string]any)["role"])
}

func initGemini(t *testing.T) (*GeminiProvider, *fakeVendor) {
	t.Helper()
	fv, srv := newFakeVendor(t, map[string]string{":countTokens": geminiCount, ":generateContent": geminiGen})
	p := NewGeminiProvider(ProviderConfig{Vendor: VendorGemini, Model: "gemini-test", APIKey: "k", BaseURL: srv.URL + "/"})
	require.NoError(t, p.Initialize(context.Background(), ""))
	return p, fv
}

func TestGeminiGenerate(t *testing.T) {
	p, fv := initGemini(t)

	text, err := p.Generate(context.Background(), "Describe", NewTextTask("Describe", "body"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "A blue circle.", text)

	contents := fv.lastBody(t)["contents"].([]any)
	require.Len(t, contents, 1)
	parts := contents[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "Describe", parts[0].(map[string]any)["text"])
}

func TestGeminiNativeChatCarriesHistory(t *testing.T) {
	p, fv := initGemini(t)

	h, err := p.StartChat(context.Background(), seedHistory())
	require.NoError(t, err)
	native, ok := h.(NativeHandle)
	require.True(t, ok)
	_, isReplayer := Provider(p).(Replayer)
	assert.False(t, isReplayer)

	text, err := native.Chat.Send(context.Background(), []Part{TextPart("Bigger?")}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "A blue circle.", text)

	contents := fv.lastBody(t)["contents"].([]any)
	require.Len(t, contents, 3)
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])
}

func TestNewRejectsUnknownVendor(t *testing.T) {
	_, err := New(ProviderConfig{Vendor: "mistral", Model: "x"})
	assert.Error(t, err)
	_, err = New(ProviderConfig{Vendor: VendorOpenAI})
	assert.Error(t, err)

	p, err := New(ProviderConfig{Vendor: VendorClaude, Model: "claude-3"})
	require.NoError(t, err)
	assert.Equal(t, "claude-3", p.FriendlyName())
	assert.Equal(t, VendorClaude, p.Vendor())
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, UserMessage(NewTimeoutError(VendorGemini)), "proxy")
	assert.Contains(t, UserMessage(&CallError{Kind: CallVendor, Status: 401, Err: assert.AnError}), "API key")
	assert.Contains(t, UserMessage(&InitError{Vendor: VendorOpenAI, Model: "m", Err: assert.AnError}), "m")
	assert.Empty(t, UserMessage(nil))
}

func seedHistory() []Turn {
	return []Turn{
		{Role: RoleUser, Parts: []Part{TextPart("Describe")}},
		{Role: RoleModel, Parts: []Part{TextPart("A blue circle.")}},
	}
}
