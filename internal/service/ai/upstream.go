package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// Upstream opens a completion stream. The returned body is newline-delimited
// `data: {...}` frames ending with `data: [DONE]`; the caller closes it.
type Upstream interface {
	Stream(ctx context.Context, messages []*schema.Message) (io.ReadCloser, error)
}

const maxErrorBody = 4 << 10

// GatewayUpstream calls an OpenAI-compatible chat completions endpoint and
// passes the event stream through untouched.
type GatewayUpstream struct {
	URL       string
	APIKey    string
	Model     string
	MaxTokens int
	Client    *http.Client
}

// Stream implements Upstream.
func (g *GatewayUpstream) Stream(ctx context.Context, messages []*schema.Message) (io.ReadCloser, error) {
	payload := openai.ChatCompletionRequest{
		Model:     g.Model,
		Messages:  toOpenAIMessages(messages),
		Stream:    true,
		MaxTokens: g.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, networkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, statusError(resp.StatusCode, string(bytes.TrimSpace(text)))
	}
	return resp.Body, nil
}

func toOpenAIMessages(messages []*schema.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		out = append(out, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// ModelUpstream streams from an eino chat model and re-encodes the chunks as
// chat-completion SSE frames.
type ModelUpstream struct {
	Model     model.BaseChatModel
	ModelName string
}

// Stream implements Upstream.
func (m *ModelUpstream) Stream(ctx context.Context, messages []*schema.Message) (io.ReadCloser, error) {
	reader, err := m.Model.Stream(ctx, messages)
	if err != nil {
		return nil, networkError(fmt.Errorf("open model stream: %w", err))
	}

	pr, pw := io.Pipe()
	go func() {
		defer reader.Close()
		pw.CloseWithError(m.pump(reader, pw))
	}()
	return pr, nil
}

func (m *ModelUpstream) pump(reader *schema.StreamReader[*schema.Message], w io.Writer) error {
	id := "chatcmpl-" + uuid.NewString()
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			_, werr := io.WriteString(w, "data: [DONE]\n\n")
			return werr
		}
		if err != nil {
			return networkError(fmt.Errorf("receive model chunk: %w", err))
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		if err := writeFrame(w, id, m.ModelName, chunk.Content); err != nil {
			return err
		}
	}
}

func writeFrame(w io.Writer, id, modelName, content string) error {
	frame := openai.ChatCompletionStreamResponse{
		ID:     id,
		Object: "chat.completion.chunk",
		Model:  modelName,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index: 0,
			Delta: openai.ChatCompletionStreamChoiceDelta{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			},
		}},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	buf := make([]byte, 0, len(data)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, '\n', '\n')
	_, err = w.Write(buf)
	return err
}
