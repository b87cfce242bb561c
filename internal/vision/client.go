package vision

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// ChatClient is the slice of the OpenAI client the analyzer and search
// engine use. *openai.Client satisfies it; tests substitute mocks.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

var _ ChatClient = (*openai.Client)(nil)
