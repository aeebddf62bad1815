// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pdf-tutor-go/internal/config"
	"pdf-tutor-go/pkg/apperr"
	"pdf-tutor-go/pkg/log"
)

// Client defines the interface for an LLM client.
type Client interface {
	// Complete 以 role-based 消息与可选生成参数调用聊天接口，返回完整回答。
	Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// DefaultParams 从配置构造生成参数。temperature 与 max_tokens 总是下发，
// 避免服务端退回到它自己的默认值；top_p 为 0 时不下发。
func DefaultParams(cfg config.LLMGenerationConfig) *GenerationParams {
	t := cfg.Temperature
	m := cfg.MaxTokens
	p := &GenerationParams{Temperature: &t, MaxTokens: &m}
	if cfg.TopP != 0 {
		tp := cfg.TopP
		p.TopP = &tp
	}
	return p
}

func (c *openAICompatibleClient) Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	const op = "llm.Complete"
	if gen == nil {
		gen = DefaultParams(c.cfg.Generation)
	}
	reqBody := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: gen.Temperature,
		TopP:        gen.TopP,
		MaxTokens:   gen.MaxTokens,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[LLMClient] 调用聊天接口失败, error: %v", err)
		return "", apperr.Transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", apperr.Transient(op, fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Transient(op, fmt.Errorf("decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", apperr.Transient(op, fmt.Errorf("chat api returned no choices"))
	}
	answer := strings.TrimSpace(out.Choices[0].Message.Content)
	log.Infof("[LLMClient] 生成完成, 回答长度: %d", len(answer))
	return answer, nil
}
