package sources

import (
	"context"
	"errors"
	"fmt"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/genai"

	"github.com/haivivi/streamx/pkg/streamx"
)

var _ Generator = (*Gemini)(nil)

// Gemini streams content from the Gemini API. Text parts of a response are
// joined into one text chunk; inline data becomes blob chunks.
type Gemini struct {
	Client *genai.Client `json:"-"`

	// Model should not start with "models/".
	Model     string `json:"model"`
	System    string `json:"system,omitzero"`
	MaxTokens int32  `json:"max_tokens,omitzero"`
}

// NewGemini creates a Gemini API generator for model.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("sources: genai client: %w", err)
	}
	return &Gemini{Client: client, Model: model}, nil
}

func (g *Gemini) Generate(ctx context.Context, sb *streamx.StreamBuilder, prompt string) error {
	cfg := &genai.GenerateContentConfig{}
	if g.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: g.System}}}
	}
	if g.MaxTokens > 0 {
		cfg.MaxOutputTokens = g.MaxTokens
	}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: prompt}}}}
	for resp, err := range g.Client.Models.GenerateContentStream(ctx, g.Model, contents, cfg) {
		if err != nil {
			return fmt.Errorf("sources: gemini stream: %w", unwrapAPIError(err))
		}
		chunks, finishErr := geminiChunks(g.Model, resp)
		if err := sb.Add(chunks...); err != nil {
			return err
		}
		if finishErr != nil {
			return finishErr
		}
	}
	return nil
}

// geminiChunks converts the first candidate of resp. A terminal finish
// reason other than stop is returned as an error after the chunks.
func geminiChunks(model string, resp *genai.GenerateContentResponse) ([]*streamx.Chunk, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, nil
	}
	cand := resp.Candidates[0]
	var (
		text   []byte
		chunks []*streamx.Chunk
	)
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			switch {
			case p.Text != "":
				text = append(text, p.Text...)
			case p.InlineData != nil:
				chunks = append(chunks, &streamx.Chunk{
					Name: model,
					Part: &streamx.Blob{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data},
				})
			}
		}
	}
	if len(text) > 0 {
		chunks = append([]*streamx.Chunk{{Name: model, Part: streamx.Text(text)}}, chunks...)
	}
	switch cand.FinishReason {
	case genai.FinishReasonMaxTokens:
		return chunks, ErrTruncated
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
		return chunks, ErrBlocked
	}
	return chunks, nil
}

// unwrapAPIError strips the gax wrapper so callers see the underlying
// status error.
func unwrapAPIError(err error) error {
	var ae *apierror.APIError
	if errors.As(err, &ae) {
		if inner := ae.Unwrap(); inner != nil {
			return inner
		}
	}
	return err
}
