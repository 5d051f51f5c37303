// Package llm is the gateway to an OpenAI-compatible multimodal chat provider.
//
// A Gateway offers a unary completion and a chunked stream. Streams always end
// with a terminal chunk (non-empty FinishReason) followed by io.EOF; a stream
// that reaches io.EOF without one was truncated and Relay reports
// ErrStreamTruncated.
package llm

import (
	"context"
)

// Role is the message sender role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn sent to the provider. ImageURLs are forwarded as image
// references without re-uploading.
type Message struct {
	Role      Role
	Content   string
	ImageURLs []string
}

// Config tunes one call. Zero values fall back to the gateway defaults.
type Config struct {
	Model       string
	Temperature *float64
	TopP        float64
	MaxTokens   int
	Stop        []string
}

// Completion is the result of a unary call. On failure Success is false and
// Error carries the final cause.
type Completion struct {
	Success    bool
	Content    string
	TokensUsed int
	ModelName  string
	Error      string
}

// Chunk is one streamed delta. FullContent is the accumulated text so far.
// The terminal chunk has a non-empty FinishReason and may carry TotalTokens.
type Chunk struct {
	Content      string
	FullContent  string
	FinishReason string
	TotalTokens  int
}

// Terminal reports whether c ends the stream.
func (c Chunk) Terminal() bool { return c.FinishReason != "" }

// Stream yields chunks until io.EOF. Close releases the upstream connection
// and unblocks a pending Recv.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Gateway is the provider abstraction used by the tutoring and correction paths.
type Gateway interface {
	// ChatCompletion runs a unary call. The error is non-nil exactly when
	// Completion.Success is false.
	ChatCompletion(ctx context.Context, msgs []Message, cfg Config) (Completion, error)

	// ChatCompletionStream opens a streaming call.
	ChatCompletionStream(ctx context.Context, msgs []Message, cfg Config) (Stream, error)

	// Model returns the default model name.
	Model() string
}

// Failed builds an unsuccessful Completion for err.
func Failed(model string, err error) Completion {
	return Completion{ModelName: model, Error: err.Error()}
}
