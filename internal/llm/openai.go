package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures OpenAIGateway.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // empty = api.openai.com; any OpenAI-compatible endpoint works
	Model       string
	Temperature float64
	MaxTokens   int
	HTTPClient  *http.Client
}

// OpenAIGateway implements Gateway with the go-openai client.
type OpenAIGateway struct {
	client      *openai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewOpenAIGateway creates a gateway. A missing API key is an error.
func NewOpenAIGateway(cfg OpenAIConfig) (*OpenAIGateway, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrNotConfigured)
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGateway{
		client:      openai.NewClientWithConfig(oc),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Model returns the default model name.
func (g *OpenAIGateway) Model() string { return g.model }

// ChatCompletion runs one unary call without retries; see WithRetry.
func (g *OpenAIGateway) ChatCompletion(ctx context.Context, msgs []Message, cfg Config) (Completion, error) {
	req := g.request(msgs, cfg)
	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		err = mapOpenAIError(err)
		return Failed(req.Model, err), err
	}
	if len(resp.Choices) == 0 {
		err := &ErrInvalidResponse{Err: errors.New("no choices in response")}
		return Failed(req.Model, err), err
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return Completion{
		Success:    true,
		Content:    resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
		ModelName:  model,
	}, nil
}

// ChatCompletionStream opens a stream that reports usage on its terminal chunk.
func (g *OpenAIGateway) ChatCompletionStream(ctx context.Context, msgs []Message, cfg Config) (Stream, error) {
	req := g.request(msgs, cfg)
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	s, err := g.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	return &openaiStream{inner: s}, nil
}

func (g *OpenAIGateway) request(msgs []Message, cfg Config) openai.ChatCompletionRequest {
	model := cfg.Model
	if model == "" {
		model = g.model
	}
	temp := g.temperature
	if cfg.Temperature != nil {
		temp = *cfg.Temperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    buildOpenAIMessages(msgs),
		Temperature: float32(temp),
		TopP:        float32(cfg.TopP),
		MaxTokens:   maxTokens,
		Stop:        cfg.Stop,
	}
}

func buildOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		if len(m.ImageURLs) == 0 {
			out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
			continue
		}
		parts := make([]openai.ChatMessagePart, 0, len(m.ImageURLs)+1)
		if m.Content != "" {
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Content})
		}
		for _, u := range m.ImageURLs {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: u, Detail: openai.ImageURLDetailAuto},
			})
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}
	return out
}

// openaiStream holds back the finish chunk until the trailing usage chunk
// (or EOF) so that usage lands on the terminal chunk.
type openaiStream struct {
	inner   *openai.ChatCompletionStream
	full    strings.Builder
	pending *Chunk
	usage   int
	done    bool
}

func (s *openaiStream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	for {
		resp, err := s.inner.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			if s.pending != nil {
				c := *s.pending
				s.pending = nil
				if c.TotalTokens == 0 {
					c.TotalTokens = s.usage
				}
				return c, nil
			}
			return Chunk{}, io.EOF
		}
		if err != nil {
			return Chunk{}, mapOpenAIError(err)
		}
		if resp.Usage != nil {
			s.usage = resp.Usage.TotalTokens
			if s.pending != nil {
				s.pending.TotalTokens = s.usage
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		s.full.WriteString(choice.Delta.Content)
		c := Chunk{
			Content:      choice.Delta.Content,
			FullContent:  s.full.String(),
			FinishReason: string(choice.FinishReason),
		}
		if c.Terminal() {
			s.pending = &c
			continue
		}
		if c.Content == "" {
			continue
		}
		return c, nil
	}
}

func (s *openaiStream) Close() error { return s.inner.Close() }

func mapOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch {
	case status == http.StatusTooManyRequests:
		return &ErrRateLimit{Err: err}
	case status == http.StatusRequestTimeout:
		return &ErrProviderUnavailable{Err: err}
	case status >= 400 && status < 500:
		return &ErrInvalidResponse{Status: status, Err: err}
	}
	return &ErrProviderUnavailable{Err: err}
}
