package llamacpp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/aescanero/chatd/pkg/domain"
	"github.com/aescanero/chatd/pkg/ports"
	"go.uber.org/zap/zaptest"
)

const (
	testBOS = 0
	testEOS = 2
	testEOT = 7
)

// fakeServer mimics the subset of llama-server the client talks to
type fakeServer struct {
	mu            sync.Mutex
	eosToken      string
	completion    completionResponse
	lastTemplate  applyTemplateRequest
	lastTokenize  tokenizeRequest
	lastComplete  completionRequest
	lastDetok     detokenizeRequest
	lastAuth      string
	healthStatus  int
	completionErr bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		eosToken:     "<|end|>",
		healthStatus: http.StatusOK,
	}
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastAuth = r.Header.Get("Authorization")
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/props":
		json.NewEncoder(w).Encode(propsResponse{ //nolint:errcheck
			BOSToken:  "<|begin|>",
			EOSToken:  f.eosToken,
			ModelPath: "/models/test.gguf",
		})
	case "/health":
		w.WriteHeader(f.healthStatus)
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	case "/apply-template":
		json.NewDecoder(r.Body).Decode(&f.lastTemplate) //nolint:errcheck
		var b strings.Builder
		for _, m := range f.lastTemplate.Messages {
			b.WriteString("<|" + string(m.Role) + "|>" + m.Text())
		}
		if f.lastTemplate.AddGenerationPrompt {
			b.WriteString("<|assistant|>")
		}
		json.NewEncoder(w).Encode(applyTemplateResponse{Prompt: b.String()}) //nolint:errcheck
	case "/tokenize":
		json.NewDecoder(r.Body).Decode(&f.lastTokenize) //nolint:errcheck
		var tokens []int
		switch f.lastTokenize.Content {
		case "<|begin|>":
			tokens = []int{testBOS}
		case "<|end|>":
			tokens = []int{testEOS}
		case "<|eot|>":
			tokens = []int{testEOT}
		case "<a><b>":
			tokens = []int{testEOS, testEOS}
		default:
			if f.lastTokenize.AddSpecial {
				tokens = append(tokens, testBOS)
			}
			for _, word := range strings.Fields(f.lastTokenize.Content) {
				tokens = append(tokens, 100+len(word))
			}
		}
		json.NewEncoder(w).Encode(tokenizeResponse{Tokens: tokens}) //nolint:errcheck
	case "/detokenize":
		json.NewDecoder(r.Body).Decode(&f.lastDetok) //nolint:errcheck
		parts := make([]string, len(f.lastDetok.Tokens))
		for i, id := range f.lastDetok.Tokens {
			parts[i] = strings.Repeat("x", id-100)
		}
		json.NewEncoder(w).Encode(detokenizeResponse{Content: " " + strings.Join(parts, " ") + " "}) //nolint:errcheck
	case "/completion":
		json.NewDecoder(r.Body).Decode(&f.lastComplete) //nolint:errcheck
		if f.completionErr {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"code":500,"message":"failed to allocate KV cache","type":"server_error"}}`)) //nolint:errcheck
			return
		}
		json.NewEncoder(w).Encode(f.completion) //nolint:errcheck
	default:
		http.Error(w, "unexpected path", http.StatusNotFound)
	}
}

func newLoadedClient(t *testing.T, fake *fakeServer, mutate func(*Config)) *Client {
	t.Helper()

	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := &Config{
		BaseURL:    srv.URL + "/",
		AddSpecial: true,
		EOSTokenID: -1,
		Logger:     zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(cfg)
	}

	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	t.Cleanup(func() { c.Close() }) //nolint:errcheck
	return c
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewClient(&Config{}); err == nil {
		t.Error("expected error for empty base URL")
	}
}

func TestLoad_ResolvesSpecialTokens(t *testing.T) {
	c := newLoadedClient(t, newFakeServer(), nil)

	if c.EOSTokenID() != testEOS {
		t.Errorf("expected eos %d, got %d", testEOS, c.EOSTokenID())
	}
	if c.bosID != testBOS {
		t.Errorf("expected bos %d, got %d", testBOS, c.bosID)
	}
}

func TestLoad_EOSOverrideWins(t *testing.T) {
	c := newLoadedClient(t, newFakeServer(), func(cfg *Config) { cfg.EOSTokenID = 7 })

	if c.EOSTokenID() != 7 {
		t.Errorf("expected overridden eos 7, got %d", c.EOSTokenID())
	}
}

func TestLoad_FailsWithoutEOS(t *testing.T) {
	fake := newFakeServer()
	fake.eosToken = ""
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c, err := NewClient(&Config{BaseURL: srv.URL, EOSTokenID: -1})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := c.Load(context.Background()); err == nil {
		t.Fatal("expected load error when no eos token is available")
	}
	// Load is attempted once; the error sticks.
	if err := c.Load(context.Background()); err == nil {
		t.Error("expected repeated Load to return the first error")
	}
}

func TestLoad_FailsOnAmbiguousEOS(t *testing.T) {
	fake := newFakeServer()
	fake.eosToken = "<a><b>"
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c, _ := NewClient(&Config{BaseURL: srv.URL, EOSTokenID: -1})
	if err := c.Load(context.Background()); err == nil {
		t.Error("expected error when eos token maps to more than one id")
	}
}

func TestApplyChatTemplate_SendsThinkingKwarg(t *testing.T) {
	fake := newFakeServer()
	c := newLoadedClient(t, fake, func(cfg *Config) { cfg.ThinkingKwarg = "enable_thinking" })

	prompt, err := c.ApplyChatTemplate(context.Background(),
		[]domain.Message{domain.NewMessage(domain.RoleUser, "Hello")},
		ports.TemplateOptions{Thinking: true, AddGenerationPrompt: true})
	if err != nil {
		t.Fatalf("ApplyChatTemplate failed: %v", err)
	}
	if prompt != "<|user|>Hello<|assistant|>" {
		t.Errorf("unexpected prompt %q", prompt)
	}
	if !fake.lastTemplate.AddGenerationPrompt {
		t.Error("expected add_generation_prompt=true")
	}
	if fake.lastTemplate.ChatTemplateKwargs["enable_thinking"] != true {
		t.Errorf("expected enable_thinking=true, got %v", fake.lastTemplate.ChatTemplateKwargs)
	}
}

func TestEncode_AddsSpecialWhenConfigured(t *testing.T) {
	fake := newFakeServer()
	c := newLoadedClient(t, fake, nil)

	ids, err := c.Encode(context.Background(), "hi there")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := []int{testBOS, 102, 105}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("expected %v, got %v", want, ids)
	}
	if !fake.lastTokenize.ParseSpecial {
		t.Error("expected parse_special=true so template markers become special ids")
	}
}

func TestDecode_DropsSpecialTokens(t *testing.T) {
	fake := newFakeServer()
	c := newLoadedClient(t, fake, nil)

	text, err := c.Decode(context.Background(), []int{testBOS, 103, 101, testEOS})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(fake.lastDetok.Tokens, []int{103, 101}) {
		t.Errorf("expected special ids filtered, sent %v", fake.lastDetok.Tokens)
	}
	if strings.TrimSpace(text) != "xxx x" {
		t.Errorf("unexpected text %q", text)
	}
}

func TestDecode_DropsConfiguredSpecialTokens(t *testing.T) {
	fake := newFakeServer()
	c := newLoadedClient(t, fake, func(cfg *Config) {
		cfg.SpecialTokens = []string{"<|eot|>", "not special", " "}
	})

	if _, err := c.Decode(context.Background(), []int{105, testEOT, 102}); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(fake.lastDetok.Tokens, []int{105, 102}) {
		t.Errorf("expected end-of-turn id filtered, sent %v", fake.lastDetok.Tokens)
	}
	// "not special" tokenizes to two ids and must not be registered.
	if c.isSpecial(103) || c.isSpecial(107) {
		t.Error("multi-token strings must not be treated as special")
	}
}

func TestDecode_OnlySpecialTokensSkipsBackend(t *testing.T) {
	fake := newFakeServer()
	c := newLoadedClient(t, fake, nil)

	text, err := c.Decode(context.Background(), []int{testEOS})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if text != "" {
		t.Errorf("expected empty text, got %q", text)
	}
	if fake.lastDetok.Tokens != nil {
		t.Error("detokenize must not be called for an all-special sequence")
	}
}

func TestGenerate_EchoesInputAndCutsAtEOS(t *testing.T) {
	fake := newFakeServer()
	fake.completion = completionResponse{
		Tokens:          []int{101, 102, testEOS, 103},
		StopType:        "eos",
		TokensPredicted: 4,
	}
	c := newLoadedClient(t, fake, nil)

	out, err := c.Generate(context.Background(), ports.GenerateParams{
		InputIDs:     []int{testBOS, 150, 151},
		MaxNewTokens: 16,
		Temperature:  0,
		EOSTokenID:   testEOS,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	want := []int{testBOS, 150, 151, 101, 102, testEOS}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("expected %v, got %v", want, out)
	}
	if fake.lastComplete.NPredict != 16 {
		t.Errorf("expected n_predict 16, got %d", fake.lastComplete.NPredict)
	}
	if !fake.lastComplete.ReturnTokens || fake.lastComplete.Stream {
		t.Error("expected return_tokens=true and stream=false")
	}
	if !reflect.DeepEqual(fake.lastComplete.Prompt, []int{testBOS, 150, 151}) {
		t.Errorf("expected prompt ids forwarded, got %v", fake.lastComplete.Prompt)
	}
}

func TestGenerate_ServerErrorCarriesMessage(t *testing.T) {
	fake := newFakeServer()
	fake.completionErr = true
	c := newLoadedClient(t, fake, nil)

	_, err := c.Generate(context.Background(), ports.GenerateParams{InputIDs: []int{1}, MaxNewTokens: 1})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "failed to allocate KV cache") {
		t.Errorf("expected backend message in error, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	fake := newFakeServer()
	c := newLoadedClient(t, fake, nil)

	if err := c.Health(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}

	fake.mu.Lock()
	fake.healthStatus = http.StatusServiceUnavailable
	fake.mu.Unlock()

	if err := c.Health(context.Background()); err == nil {
		t.Error("expected error for 503 health")
	}
}

func TestAPIKeySentAsBearer(t *testing.T) {
	fake := newFakeServer()
	c := newLoadedClient(t, fake, func(cfg *Config) { cfg.APIKey = "secret" })

	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if fake.lastAuth != "Bearer secret" {
		t.Errorf("expected bearer auth, got %q", fake.lastAuth)
	}
}

func TestClose_IsIdempotentAndRejectsCalls(t *testing.T) {
	c := newLoadedClient(t, newFakeServer(), nil)

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if _, err := c.Encode(context.Background(), "hi"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
