package translation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// TextTranslator translates a single piece of text.
type TextTranslator interface {
	TranslateText(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// OpenAIConfig configures the OpenAI translator
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
}

// OpenAITranslator translates text with OpenAI chat completions
type OpenAITranslator struct {
	client      *openai.Client
	logger      *logrus.Logger
	model       string
	maxTokens   int
	temperature float32
	maxRetries  int
	retryDelay  time.Duration
	timeout     time.Duration
	wsHub       Broadcaster
}

// NewOpenAITranslator creates a new OpenAI translator
func NewOpenAITranslator(cfg OpenAIConfig, logger *logrus.Logger) *OpenAITranslator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAITranslator{
		client:      openai.NewClientWithConfig(clientCfg),
		logger:      logger,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		timeout:     timeout,
	}
}

// SetWebSocketBroadcaster sets the broadcaster for LLM request logging
func (c *OpenAITranslator) SetWebSocketBroadcaster(wsHub Broadcaster) {
	c.wsHub = wsHub
}

// TranslateText translates text from sourceLang to targetLang, retrying
// failed requests up to the configured limit
func (c *OpenAITranslator) TranslateText(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	prompt := fmt.Sprintf(`Translate the following text from %s to %s. Maintain the original tone, style, and formatting as much as possible. Keep line breaks exactly where they are. Return only the translated text without any additional comments or explanations.

Text: %s`, languageName(sourceLang), languageName(targetLang), text)

	requestContext := map[string]interface{}{
		"source_lang":   sourceLang,
		"target_lang":   targetLang,
		"input_length":  len(text),
		"input_preview": truncateText(text, 100),
	}

	response, err := c.makeRequest(ctx, prompt, "block_translation", requestContext)
	if err != nil {
		return "", fmt.Errorf("failed to translate text: %w", err)
	}

	return strings.TrimSpace(response), nil
}

func (c *OpenAITranslator) makeRequest(ctx context.Context, prompt, requestType string, requestContext map[string]interface{}) (string, error) {
	requestID := uuid.New().String()
	startTime := time.Now()

	if c.wsHub != nil {
		c.wsHub.BroadcastMessage("llm_request", map[string]interface{}{
			"request_id":   requestID,
			"model":        c.model,
			"prompt":       truncateText(prompt, 1000),
			"max_tokens":   c.maxTokens,
			"temperature":  c.temperature,
			"timestamp":    startTime,
			"request_type": requestType,
			"context":      requestContext,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error
	var response string
	var tokensUsed int

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debugf("Retrying OpenAI request (attempt %d/%d)", attempt+1, c.maxRetries+1)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			MaxTokens:   c.maxTokens,
			Temperature: c.temperature,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
		})

		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			c.logger.Warnf("OpenAI request failed (attempt %d): %v", attempt+1, err)
			continue
		}

		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("no response choices returned")
			continue
		}

		lastErr = nil
		response = resp.Choices[0].Message.Content
		tokensUsed = resp.Usage.TotalTokens
		break
	}

	if c.wsHub != nil {
		respMsg := map[string]interface{}{
			"request_id":  requestID,
			"response":    truncateText(response, 1000),
			"tokens_used": tokensUsed,
			"duration":    time.Since(startTime).String(),
			"success":     lastErr == nil,
			"timestamp":   time.Now(),
			"context":     requestContext,
		}
		if lastErr != nil {
			respMsg["error"] = lastErr.Error()
		}
		c.wsHub.BroadcastMessage("llm_response", respMsg)
	}

	if lastErr != nil {
		return "", fmt.Errorf("max retries exceeded, last error: %w", lastErr)
	}
	return response, nil
}

// languageName turns a code into an English language name for prompts.
func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

// truncateText safely truncates text to a specified length
func truncateText(text string, maxLength int) string {
	if len(text) <= maxLength {
		return text
	}
	if maxLength <= 3 {
		return "..."
	}
	return text[:maxLength-3] + "..."
}
