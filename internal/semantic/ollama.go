package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// receiptParsePrompt asks the model for fields with per-field confidence
const receiptParsePrompt = `You are reading the OCR text of a shop receipt. The text may contain OCR errors and may be in English, Traditional Chinese or Japanese.

Extract:
1. merchant: the store or business name, usually near the top
2. date: the transaction date converted to YYYY-MM-DD (convert 民國 and 令和/平成 era years to Gregorian)
3. total: the final amount paid, as a number
4. currency: the ISO 4217 code (USD, TWD, JPY, ...)
5. items: purchased line items with description, amount and quantity

For merchant, date, total and currency give a confidence between 0 and 1 for how sure you are. Also give an overall confidence.

Return ONLY valid JSON in this exact format:
{
  "merchant": {"value": "Store Name", "confidence": 0.9},
  "date": {"value": "YYYY-MM-DD", "confidence": 0.9},
  "total": {"value": 0.00, "confidence": 0.9},
  "currency": {"value": "USD", "confidence": 0.9},
  "items": [{"description": "Item", "amount": 0.00, "quantity": 1}],
  "confidence": 0.9
}

If you cannot find a field, use null for its value and 0 for its confidence. Do not include any text before or after the JSON.

Receipt text:
`

// DefaultOllamaURL is Ollama's loopback listener
const DefaultOllamaURL = "http://127.0.0.1:11434"

// Ollama implements Extractor using a locally running Ollama model
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama Extractor
// Small instruction-tuned models are enough for text-only parsing:
//   - llama3.2:3b (default)
//   - qwen2.5:3b (better with CJK receipts)
//   - phi3:mini
func NewOllama(baseURL string, modelName string) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if modelName == "" {
		modelName = "llama3.2:3b"
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second, // first call includes model load
		},
	}
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

type ollamaGenerateRequest struct {
	Model     string `json:"model"`
	KeepAlive string `json:"keep_alive,omitempty"`
	Stream    bool   `json:"stream"`
}

// ParseReceiptText asks the model to read the OCR text
func (o *Ollama) ParseReceiptText(ctx context.Context, text string) (*ParseResult, error) {
	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: "json",
		Options: map[string]any{
			"temperature": 0,
		},
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an expert at extracting structured data from noisy receipt OCR text.",
			},
			{
				Role:    "user",
				Content: receiptParsePrompt + text,
			},
		},
	}

	var chatResp ollamaChatResponse
	if err := o.post(ctx, "/api/chat", reqBody, &chatResp); err != nil {
		return nil, err
	}

	result, err := parseResultJSON(chatResp.Message.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing semantic result: %w", err)
	}
	return result, nil
}

// Preload loads the model into memory so the first receipt is not slowed
// by it
func (o *Ollama) Preload(ctx context.Context) error {
	return o.post(ctx, "/api/generate", ollamaGenerateRequest{
		Model:     o.model,
		KeepAlive: "30m",
	}, nil)
}

func (o *Ollama) post(ctx context.Context, path string, body any, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
