package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gomflow/payproof/internal/common"
)

const anthropicMessagesURL = "https://api.anthropic.com/v1/messages"

// anthropicClient implements the Client interface for the Anthropic API.
type anthropicClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
}

// newAnthropicClient creates a new Anthropic vision client.
func newAnthropicClient(apiKey, model string, timeout time.Duration) (Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &anthropicClient{
		baseURL:   anthropicMessagesURL,
		apiKey:    apiKey,
		model:     model,
		maxTokens: 1024,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

const extractionSystemPrompt = "You are a payment screenshot reader for Southeast Asian " +
	"bank and e-wallet transfers (GCash, Maya, bank apps, Touch 'n Go, DuitNow). " +
	"Report only what is visible. Respond with JSON in the exact format requested."

func (c *anthropicClient) buildPrompt(hint string) string {
	prompt := `Read this payment confirmation screenshot and report every payment it shows.

For each payment, report:
- amount: the transferred amount as a decimal number
- currency: ISO code (PHP, MYR, IDR, SGD, THB); infer from the app and symbols
- reference: any reference or transaction number visible, verbatim
- method: the payment channel (gcash, maya, bank_transfer, tng, duitnow)
- timestamp: the transfer time in RFC 3339 if visible
- confidence: an object scoring each reported field from 0.0 to 1.0

Respond with JSON only:
{"payments":[{"amount":1000.00,"currency":"PHP","reference":"...","method":"gcash","timestamp":"...","confidence":{"amount":0.97,"reference":0.91,"method":0.95,"timestamp":0.6}}]}

If nothing readable looks like a payment, respond {"payments":[]}.`
	if hint != "" {
		prompt += "\n\nContext: " + hint
	}
	return prompt
}

// ExtractPayments sends the screenshot to Anthropic and parses the reading.
func (c *anthropicClient) ExtractPayments(ctx context.Context, req VisionRequest) (VisionResponse, error) {
	requestBody := map[string]any{
		"model":      c.model,
		"max_tokens": c.maxTokens,
		"system":     extractionSystemPrompt,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{
						"type": "image",
						"source": map[string]any{
							"type":       "base64",
							"media_type": req.MediaType,
							"data":       req.ImageBase64,
						},
					},
					{
						"type": "text",
						"text": c.buildPrompt(req.ContextHint),
					},
				},
			},
		},
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return VisionResponse{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(string(jsonBody)))
	if err != nil {
		return VisionResponse{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return VisionResponse{}, &common.RetryableError{Err: fmt.Errorf("request failed: %w", err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return VisionResponse{}, &common.RetryableError{Err: fmt.Errorf("failed to read response: %w", err), Retryable: true}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return VisionResponse{}, common.ErrRateLimit
	case resp.StatusCode >= 500:
		return VisionResponse{}, &common.RetryableError{
			Err:       fmt.Errorf("anthropic API error (status %d): %s", resp.StatusCode, string(body)),
			Retryable: true,
		}
	case resp.StatusCode != http.StatusOK:
		// 4xx means the request itself is bad; retrying it verbatim
		// cannot succeed.
		return VisionResponse{}, &common.RetryableError{
			Err:       fmt.Errorf("anthropic API error (status %d): %s", resp.StatusCode, string(body)),
			Retryable: false,
		}
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return VisionResponse{}, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(response.Content) == 0 {
		return VisionResponse{}, fmt.Errorf("no content in response")
	}

	return parseVisionContent(response.Content[0].Text)
}

// parseVisionContent extracts the payments JSON from the model's text reply.
func parseVisionContent(content string) (VisionResponse, error) {
	content = cleanMarkdownWrapper(content)

	var parsed struct {
		Payments []struct {
			Amount     float64            `json:"amount"`
			Currency   string             `json:"currency"`
			Reference  string             `json:"reference"`
			Method     string             `json:"method"`
			Timestamp  string             `json:"timestamp"`
			Confidence map[string]float64 `json:"confidence"`
		} `json:"payments"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return VisionResponse{}, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	resp := VisionResponse{Payments: make([]VisionPayment, 0, len(parsed.Payments))}
	for _, p := range parsed.Payments {
		payment := VisionPayment{
			Amount:      p.Amount,
			Currency:    strings.ToUpper(strings.TrimSpace(p.Currency)),
			Reference:   strings.TrimSpace(p.Reference),
			Method:      strings.ToLower(strings.TrimSpace(p.Method)),
			Confidences: p.Confidence,
		}
		if p.Timestamp != "" {
			if ts, tsErr := time.Parse(time.RFC3339, p.Timestamp); tsErr == nil {
				payment.Timestamp = &ts
			}
		}
		resp.Payments = append(resp.Payments, payment)
	}
	return resp, nil
}

// cleanMarkdownWrapper strips ```json fences the model sometimes adds.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// anthropicResponse represents the Anthropic API response structure.
type anthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
