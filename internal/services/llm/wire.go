package llm

import "strings"

type responseFormat struct {
	Type string `json:"type"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model          string         `json:"model"`
	Messages       []message      `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat responseFormat `json:"response_format"`
}

// Usage reports token consumption for one or more completions.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total is the sum of prompt and completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

type completionResponse struct {
	Choices []choice `json:"choices"`
	Usage   *Usage   `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type choice struct {
	Message assistantTurn `json:"message"`
	// Streaming-shaped payloads arrive from some providers even with stream=false.
	Delta        assistantTurn `json:"delta"`
	Text         string        `json:"text"`
	FinishReason string        `json:"finish_reason"`
}

type assistantTurn struct {
	Content   string `json:"content"`
	Refusal   string `json:"refusal"`
	ToolCalls []struct {
		Function struct {
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

func (t assistantTurn) body() string {
	if s := strings.TrimSpace(t.Content); s != "" {
		return s
	}
	for _, call := range t.ToolCalls {
		if s := strings.TrimSpace(call.Function.Arguments); s != "" {
			return s
		}
	}
	return ""
}

// extracted is the first non-empty payload in a response plus whatever
// diagnostics were present when nothing usable came back.
type extracted struct {
	text         string
	finishReason string
	refusal      string
}

func (r completionResponse) extract() extracted {
	var out extracted
	for _, c := range r.Choices {
		if out.finishReason == "" {
			out.finishReason = strings.TrimSpace(c.FinishReason)
		}
		if out.refusal == "" {
			out.refusal = strings.TrimSpace(c.Message.Refusal)
		}
		switch {
		case c.Message.body() != "":
			out.text = c.Message.body()
		case c.Delta.body() != "":
			out.text = c.Delta.body()
		case strings.TrimSpace(c.Text) != "":
			out.text = strings.TrimSpace(c.Text)
		default:
			continue
		}
		return out
	}
	return out
}
