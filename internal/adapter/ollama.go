package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flemzord/gatewayd/internal/catalog"
)

// ollamaOptions mirrors the subset of Ollama's generation options this
// gateway sets from an OpenAI-shaped request.
type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []oaiMessage  `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Model      string        `json:"model"`
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason,omitempty"`
	PromptEvalCount int      `json:"prompt_eval_count,omitempty"`
	EvalCount       int      `json:"eval_count,omitempty"`
}

// ollamaAdapter translates between the OpenAI chat shape and Ollama's
// native /api/chat shape. Streaming is always forced off: this gateway's
// front end already refuses stream:true before a job is ever submitted,
// but the adapter enforces it again defensively since it is the last line
// before the wire.
type ollamaAdapter struct{}

func (ollamaAdapter) Forward(ctx context.Context, p *catalog.Provider, requestBody []byte) ([]byte, catalog.NormalizedError, error) {
	var oaiReq oaiChatRequest
	if err := json.Unmarshal(requestBody, &oaiReq); err != nil {
		return nil, catalog.ErrBadRequest, nil
	}

	ollamaReq := ollamaChatRequest{
		Model:    oaiReq.Model,
		Messages: oaiReq.Messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: oaiReq.Temperature,
			TopP:        oaiReq.TopP,
			NumPredict:  oaiReq.MaxTokens,
		},
	}

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return nil, "", fmt.Errorf("adapter: marshal ollama request: %w", err)
	}

	respBody, normErr, err := doRequest(ctx, p.BaseURL+"/api/chat", body, nil)
	if err != nil || normErr != "" {
		return nil, normErr, err
	}

	var ollamaResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		return nil, "", fmt.Errorf("adapter: parse ollama response: %w", err)
	}

	finishReason := "stop"
	if ollamaResp.DoneReason != "" {
		finishReason = ollamaResp.DoneReason
	}

	oaiResp := oaiChatResponse{
		Object: "chat.completion",
		Model:  ollamaResp.Model,
		Choices: []oaiChoice{
			{
				Index: 0,
				Message: oaiMessage{
					Role:    "assistant",
					Content: ollamaResp.Message.Content,
				},
				FinishReason: finishReason,
			},
		},
	}
	if ollamaResp.PromptEvalCount > 0 || ollamaResp.EvalCount > 0 {
		oaiResp.Usage = &oaiUsage{
			PromptTokens:     ollamaResp.PromptEvalCount,
			CompletionTokens: ollamaResp.EvalCount,
			TotalTokens:      ollamaResp.PromptEvalCount + ollamaResp.EvalCount,
		}
	}

	out, err := json.Marshal(oaiResp)
	if err != nil {
		return nil, "", fmt.Errorf("adapter: marshal openai response: %w", err)
	}
	return out, "", nil
}
