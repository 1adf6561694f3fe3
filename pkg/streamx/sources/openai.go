package sources

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/haivivi/streamx/pkg/streamx"
)

const (
	oaiFinishReasonLength        = "length"
	oaiFinishReasonContentFilter = "content_filter"
)

var _ Generator = (*OpenAI)(nil)

// OpenAI streams chat completions from an OpenAI-compatible endpoint. Each
// content delta becomes one text chunk named after the model.
type OpenAI struct {
	Client *openai.Client `json:"-"`

	Model     string `json:"model"`
	System    string `json:"system,omitzero"`
	MaxTokens int64  `json:"max_tokens,omitzero"`
}

// NewOpenAI creates a generator for model. baseURL may be empty.
func NewOpenAI(apiKey, baseURL, model string, opts ...option.RequestOption) *OpenAI {
	ro := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		ro = append(ro, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(append(ro, opts...)...)
	return &OpenAI{Client: &client, Model: model}
}

func (o *OpenAI) Generate(ctx context.Context, sb *streamx.StreamBuilder, prompt string) error {
	var msgs []openai.ChatCompletionMessageParamUnion
	if o.System != "" {
		msgs = append(msgs, openai.SystemMessage(o.System))
	}
	msgs = append(msgs, openai.UserMessage(prompt))
	params := openai.ChatCompletionNewParams{
		Model:    o.Model,
		Messages: msgs,
	}
	if o.MaxTokens > 0 {
		params.MaxTokens = openai.Int(o.MaxTokens)
	}
	stream := o.Client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()
	return o.pull(sb, stream)
}

func (o *OpenAI) pull(sb *streamx.StreamBuilder, stream *ssestream.Stream[openai.ChatCompletionChunk]) error {
	var index int64 = -1
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		var sel *openai.ChatCompletionChunkChoice
		if index < 0 {
			index = chunk.Choices[0].Index
		}
		for i := range chunk.Choices {
			if chunk.Choices[i].Index == index {
				sel = &chunk.Choices[i]
				break
			}
		}
		if sel == nil {
			continue
		}
		if s := sel.Delta.Content; s != "" {
			if err := sb.Add(&streamx.Chunk{Name: o.Model, Part: streamx.Text(s)}); err != nil {
				return err
			}
		}
		if s := sel.Delta.Refusal; s != "" {
			return fmt.Errorf("%w: %s", ErrBlocked, s)
		}
		switch sel.FinishReason {
		case oaiFinishReasonLength:
			return ErrTruncated
		case oaiFinishReasonContentFilter:
			return ErrBlocked
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("sources: openai stream: %w", err)
	}
	return nil
}
