package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NoAnswer is the sentinel the knowledge-only prompt instructs the model to
// return when the context cannot ground an answer.
const NoAnswer = "noAnswer"

const (
	chatTemperature    = 0.3
	chatMaxTokens      = 500
	maxHistoryMessages = 6
)

// Passage is a retrieved knowledge chunk handed to the generator.
type Passage struct {
	PageURL string
	Heading string
	Content string
}

// Source is a citation attached to an answer.
type Source struct {
	PageURL string `json:"pageUrl"`
	Title   string `json:"title,omitempty"`
}

// HistoryMessage is one prior turn of the conversation.
type HistoryMessage struct {
	Role    string
	Content string
}

// TokenUsage reports prompt and completion token counts.
type TokenUsage struct {
	Input  int
	Output int
}

// Answer is the generator's output. Response may equal NoAnswer.
type Answer struct {
	Response string
	Sources  []Source
	Tokens   TokenUsage
}

// Generator produces a grounded answer from retrieved passages.
type Generator interface {
	Generate(ctx context.Context, question string, passages []Passage, allowGeneralKnowledge bool, siteName string, history []HistoryMessage) (*Answer, error)
}

// OpenAIGenerator calls the /chat/completions endpoint, non-streaming.
type OpenAIGenerator struct {
	client *http.Client
	apiKey string
	apiURL string
	model  string
}

// NewOpenAIGenerator creates a generator for the configured chat model.
func NewOpenAIGenerator(cfg Config) (*OpenAIGenerator, error) {
	if cfg.Model == "" {
		return nil, errors.New("chat model is required")
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}
	return &OpenAIGenerator{
		client: &http.Client{Timeout: 60 * time.Second},
		apiKey: cfg.APIKey,
		apiURL: apiURL,
		model:  cfg.Model,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate builds the RAG prompt and returns the model's answer with
// deduplicated source citations.
func (g *OpenAIGenerator) Generate(ctx context.Context, question string, passages []Passage, allowGeneralKnowledge bool, siteName string, history []HistoryMessage) (*Answer, error) {
	if siteName == "" {
		siteName = "this product"
	}

	systemPrompt := knowledgeOnlyPrompt(siteName)
	if allowGeneralKnowledge {
		systemPrompt = generalKnowledgePrompt(siteName)
	}

	messages := make([]chatMessage, 0, len(history)+2)
	messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	for _, msg := range history {
		messages = append(messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, chatMessage{
		Role:    "user",
		Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", formatContext(passages), question),
	})

	payload, err := json.Marshal(chatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := doWithRetry(ctx, g.client, func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL+"/chat/completions", bytes.NewReader(payload))
		if reqErr != nil {
			return nil, fmt.Errorf("create request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		if g.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var response chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, errors.New("empty completion")
	}

	return &Answer{
		Response: strings.TrimSpace(response.Choices[0].Message.Content),
		Sources:  dedupeSources(passages),
		Tokens: TokenUsage{
			Input:  response.Usage.PromptTokens,
			Output: response.Usage.CompletionTokens,
		},
	}, nil
}

func formatContext(passages []Passage) string {
	parts := make([]string, 0, len(passages))
	for i, p := range passages {
		parts = append(parts, fmt.Sprintf("[Source %d - %s]\n%s", i+1, p.PageURL, p.Content))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func dedupeSources(passages []Passage) []Source {
	seen := make(map[string]bool, len(passages))
	sources := make([]Source, 0, len(passages))
	for _, p := range passages {
		if seen[p.PageURL] {
			continue
		}
		seen[p.PageURL] = true
		sources = append(sources, Source{PageURL: p.PageURL, Title: p.Heading})
	}
	return sources
}

func knowledgeOnlyPrompt(siteName string) string {
	return fmt.Sprintf(`You are a helpful customer support assistant for %[1]s. Answer questions ONLY using the provided knowledge base context. If context does not have the answer, return exactly: "noAnswer"
Do not write anything else.

When users ask about "this product", "it", "your service", or similar references - they are asking about %[1]s.

Rules:
1. If the context contains the answer, provide a clear, concise response
2. Never make up information or use general knowledge
3. Keep responses under 300 words
4. Be friendly and professional
5. Speak as you're a customer support representative of %[1]s.`, siteName)
}

func generalKnowledgePrompt(siteName string) string {
	return fmt.Sprintf(`You are a helpful customer support assistant for %[1]s. Answer questions using the provided knowledge base context. If the context doesn't contain the answer but you have relevant general knowledge, you may use it BUT you MUST prefix your response with:

"Based on general knowledge (not specific to %[1]s): "

When users ask about "this product", "it", "your service", or similar references - they are asking about %[1]s.

Rules:
1. Always prioritize knowledge base context
2. Keep responses under 300 words
3. Be friendly and professional
4. If you use general knowledge, make it very clear`, siteName)
}
