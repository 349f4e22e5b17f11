// Package llamacpp adapts a llama.cpp llama-server process to the
// tokenizer and model ports.
//
// Endpoints used:
//   - GET  /props           special token strings
//   - GET  /health          readiness
//   - POST /apply-template  chat template rendering
//   - POST /tokenize        text -> ids
//   - POST /detokenize      ids -> text
//   - POST /completion      blocking generation from ids
package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/chatd/pkg/domain"
	"github.com/aescanero/chatd/pkg/ports"
	"go.uber.org/zap"
)

const (
	mimeJSON           = "application/json"
	noToken            = -1
	defaultThinkingArg = "thinking"
)

// ErrClosed is returned by calls made after Close
var ErrClosed = errors.New("llamacpp: client closed")

// Config holds llama-server client configuration
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// AddSpecial lets the tokenizer insert BOS when encoding the prompt
	AddSpecial bool
	// EOSTokenID overrides the id resolved from /props when >= 0
	EOSTokenID int
	// ThinkingKwarg is the chat template variable toggled by the thinking flag
	ThinkingKwarg string
	// SpecialTokens are extra token strings removed on Decode
	SpecialTokens []string
	Logger        *zap.Logger
}

// Client implements ports.Backend against a running llama-server
type Client struct {
	baseURL       string
	apiKey        string
	addSpecial    bool
	eosOverride   int
	thinkingKwarg string
	extraSpecial  []string
	httpClient    *http.Client
	logger        *zap.Logger

	loadOnce sync.Once
	loadErr  error
	bosID    int
	eosID    int
	special  map[int]struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

var _ ports.Backend = (*Client)(nil)

// NewClient creates a llama-server client. Load must be called before
// serving requests.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llamacpp: base URL is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	kwarg := cfg.ThinkingKwarg
	if kwarg == "" {
		kwarg = defaultThinkingArg
	}

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		addSpecial:    cfg.AddSpecial,
		eosOverride:   cfg.EOSTokenID,
		thinkingKwarg: kwarg,
		extraSpecial:  cfg.SpecialTokens,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		logger:        logger,
		bosID:         noToken,
		eosID:         noToken,
		special:       make(map[int]struct{}),
		closed:        make(chan struct{}),
	}, nil
}

// ─── wire types ─────────────────────────────────────────────────────────────

type propsResponse struct {
	BOSToken     string `json:"bos_token"`
	EOSToken     string `json:"eos_token"`
	ModelPath    string `json:"model_path"`
	ChatTemplate string `json:"chat_template"`
}

type applyTemplateRequest struct {
	Messages            []domain.Message       `json:"messages"`
	AddGenerationPrompt bool                   `json:"add_generation_prompt"`
	ChatTemplateKwargs  map[string]interface{} `json:"chat_template_kwargs,omitempty"`
}

type applyTemplateResponse struct {
	Prompt string `json:"prompt"`
}

type tokenizeRequest struct {
	Content      string `json:"content"`
	AddSpecial   bool   `json:"add_special"`
	ParseSpecial bool   `json:"parse_special"`
}

type tokenizeResponse struct {
	Tokens []int `json:"tokens"`
}

type detokenizeRequest struct {
	Tokens []int `json:"tokens"`
}

type detokenizeResponse struct {
	Content string `json:"content"`
}

type completionRequest struct {
	Prompt       []int   `json:"prompt"`
	NPredict     int     `json:"n_predict"`
	Temperature  float64 `json:"temperature"`
	ReturnTokens bool    `json:"return_tokens"`
	Stream       bool    `json:"stream"`
	CachePrompt  bool    `json:"cache_prompt"`
}

type completionResponse struct {
	Content         string `json:"content"`
	Tokens          []int  `json:"tokens"`
	StopType        string `json:"stop_type"`
	TokensPredicted int    `json:"tokens_predicted"`
	TokensEvaluated int    `json:"tokens_evaluated"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ─── lifecycle ──────────────────────────────────────────────────────────────

// Load resolves the special token ids. Only the first call does any work.
func (c *Client) Load(ctx context.Context) error {
	c.loadOnce.Do(func() {
		c.loadErr = c.load(ctx)
	})
	return c.loadErr
}

func (c *Client) load(ctx context.Context) error {
	var props propsResponse
	if err := c.get(ctx, "/props", &props); err != nil {
		return fmt.Errorf("llamacpp load: %w", err)
	}

	if props.BOSToken != "" {
		id, err := c.specialTokenID(ctx, props.BOSToken)
		if err != nil {
			// BOS is only used to filter decoded output.
			c.logger.Warn("could not resolve bos token",
				zap.String("token", props.BOSToken),
				zap.Error(err))
		} else {
			c.bosID = id
		}
	}

	switch {
	case c.eosOverride >= 0:
		c.eosID = c.eosOverride
	case props.EOSToken != "":
		id, err := c.specialTokenID(ctx, props.EOSToken)
		if err != nil {
			return fmt.Errorf("llamacpp load: resolve eos token %q: %w", props.EOSToken, err)
		}
		c.eosID = id
	default:
		return fmt.Errorf("llamacpp load: backend reported no eos token and none is configured")
	}

	c.special[c.eosID] = struct{}{}
	if c.bosID != noToken {
		c.special[c.bosID] = struct{}{}
	}
	for _, token := range c.extraSpecial {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		id, err := c.specialTokenID(ctx, token)
		if err != nil {
			c.logger.Debug("special token not in vocabulary",
				zap.String("token", token),
				zap.Error(err))
			continue
		}
		c.special[id] = struct{}{}
	}

	c.logger.Info("model backend loaded",
		zap.String("url", c.baseURL),
		zap.String("model_path", props.ModelPath),
		zap.Int("bos_token_id", c.bosID),
		zap.Int("eos_token_id", c.eosID),
		zap.Int("special_tokens", len(c.special)),
		zap.Bool("has_chat_template", props.ChatTemplate != ""))

	return nil
}

// specialTokenID tokenizes a special token string that must map to one id
func (c *Client) specialTokenID(ctx context.Context, token string) (int, error) {
	var resp tokenizeResponse
	if err := c.post(ctx, "/tokenize", tokenizeRequest{
		Content:      token,
		AddSpecial:   false,
		ParseSpecial: true,
	}, &resp); err != nil {
		return noToken, err
	}
	if len(resp.Tokens) != 1 {
		return noToken, fmt.Errorf("expected 1 id, got %d", len(resp.Tokens))
	}
	return resp.Tokens[0], nil
}

// Health returns nil if llama-server reports ready
func (c *Client) Health(ctx context.Context) error {
	if err := c.get(ctx, "/health", nil); err != nil {
		return fmt.Errorf("llamacpp health: %w", err)
	}
	return nil
}

// Close releases idle connections. Further calls fail with ErrClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.httpClient.CloseIdleConnections()
		c.logger.Info("model backend released", zap.String("url", c.baseURL))
	})
	return nil
}

// ─── ports.Tokenizer ────────────────────────────────────────────────────────

// ApplyChatTemplate renders messages with the model's own chat template
func (c *Client) ApplyChatTemplate(ctx context.Context, messages []domain.Message, opts ports.TemplateOptions) (string, error) {
	var resp applyTemplateResponse
	err := c.post(ctx, "/apply-template", applyTemplateRequest{
		Messages:            messages,
		AddGenerationPrompt: opts.AddGenerationPrompt,
		ChatTemplateKwargs: map[string]interface{}{
			c.thinkingKwarg: opts.Thinking,
		},
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("apply template: %w", err)
	}
	return resp.Prompt, nil
}

// Encode converts prompt text to token ids
func (c *Client) Encode(ctx context.Context, text string) ([]int, error) {
	var resp tokenizeResponse
	err := c.post(ctx, "/tokenize", tokenizeRequest{
		Content:      text,
		AddSpecial:   c.addSpecial,
		ParseSpecial: true,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	return resp.Tokens, nil
}

// Decode converts ids to text, dropping every special id resolved by Load
func (c *Client) Decode(ctx context.Context, ids []int) (string, error) {
	filtered := make([]int, 0, len(ids))
	for _, id := range ids {
		if c.isSpecial(id) {
			continue
		}
		filtered = append(filtered, id)
	}
	if len(filtered) == 0 {
		return "", nil
	}

	var resp detokenizeResponse
	if err := c.post(ctx, "/detokenize", detokenizeRequest{Tokens: filtered}, &resp); err != nil {
		return "", fmt.Errorf("detokenize: %w", err)
	}
	return resp.Content, nil
}

// EOSTokenID returns the id resolved by Load, or -1 before Load
func (c *Client) EOSTokenID() int {
	return c.eosID
}

func (c *Client) isSpecial(id int) bool {
	_, ok := c.special[id]
	return ok
}

// ─── ports.Model ────────────────────────────────────────────────────────────

// Generate runs one blocking /completion call and returns the input ids
// followed by the generated ids, cut after the first EOS.
func (c *Client) Generate(ctx context.Context, params ports.GenerateParams) ([]int, error) {
	var resp completionResponse
	err := c.post(ctx, "/completion", completionRequest{
		Prompt:       params.InputIDs,
		NPredict:     params.MaxNewTokens,
		Temperature:  params.Temperature,
		ReturnTokens: true,
		Stream:       false,
		CachePrompt:  false,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	generated := resp.Tokens
	if params.EOSTokenID != noToken {
		for i, id := range generated {
			if id == params.EOSTokenID {
				generated = generated[:i+1]
				break
			}
		}
	}

	c.logger.Debug("completion finished",
		zap.Int("tokens_evaluated", resp.TokensEvaluated),
		zap.Int("tokens_predicted", resp.TokensPredicted),
		zap.String("stop_type", resp.StopType))

	out := make([]int, 0, len(params.InputIDs)+len(generated))
	out = append(out, params.InputIDs...)
	out = append(out, generated...)
	return out, nil
}

// ─── helpers ────────────────────────────────────────────────────────────────

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, body, out)
}

// do sends one request and decodes a JSON body into out when out is non-nil
func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s %s: build request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", mimeJSON)
	}
	req.Header.Set("Accept", mimeJSON)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %w", method, path, readError(resp))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// readError extracts llama-server's error message from a failed response
func readError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var er errorResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Error.Message != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, er.Error.Message)
	}
	if msg := strings.TrimSpace(string(data)); msg != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}
