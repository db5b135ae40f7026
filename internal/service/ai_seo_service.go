package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	defaultOpenAISEOModel   = "gpt-4o-mini"
	defaultDeepSeekSEOModel = "deepseek-chat"
	defaultMetaMaxTokens    = 120
	defaultMetaTemperature  = 0.3
	maxMetaContentRuneCount = 6000
	maxMetaDescriptionRunes = 160
)

const defaultMetaSystemPrompt = "你是一名中文 SEO 编辑，请根据文章内容撰写用于搜索结果展示的页面描述。请遵循：\n1. 长度控制在 160 个字符以内，用一到两句完整的话表达。\n2. 准确概括文章主题，自然地带出核心关键词，不要罗列关键词。\n3. 不使用标题党措辞，不出现“本文”“点击”等字眼。\n4. 输出仅包含描述文本，不要添加引号或额外说明。"

// ErrMetaSuggestionEmpty 表示模型未返回可用的描述内容。
var ErrMetaSuggestionEmpty = errors.New("ai meta suggestion returned empty content")

// MetaSuggestionInput 描述生成 SEO 页面描述所需的上下文。
type MetaSuggestionInput struct {
	Title   string
	Content string
	// MaxTokens 控制模型输出上限，0 表示使用默认值。
	MaxTokens int
}

// MetaSuggestionResult 返回建议的页面描述及用量信息。
type MetaSuggestionResult struct {
	Description      string
	PromptTokens     int
	CompletionTokens int
}

// MetaSuggester 定义 SEO 描述建议能力，便于在业务层注入不同实现。
type MetaSuggester interface {
	SuggestMetaDescription(ctx context.Context, siteID uint, input MetaSuggestionInput) (MetaSuggestionResult, error)
}

// AISEOService 基于大模型接口为文章生成 SEO 页面描述建议。
type AISEOService struct {
	client *aiChatClient
}

// NewAISEOService 构造默认的 AISEOService。
func NewAISEOService(settings *SiteSettingService) *AISEOService {
	return &AISEOService{
		client: newAIChatClient(settings, defaultOpenAISEOModel, defaultDeepSeekSEOModel),
	}
}

// SetHTTPClient 覆盖默认 HTTP 客户端，主要用于测试。
func (s *AISEOService) SetHTTPClient(client httpDoer) {
	s.client.SetHTTPClient(client)
}

// SetOpenAIBaseURL 覆盖默认的 OpenAI API 地址。
func (s *AISEOService) SetOpenAIBaseURL(base string) {
	s.client.SetOpenAIBaseURL(base)
}

// SetDeepSeekBaseURL 覆盖默认的 DeepSeek API 地址。
func (s *AISEOService) SetDeepSeekBaseURL(base string) {
	s.client.SetDeepSeekBaseURL(base)
}

// SetOpenAIModel 指定 OpenAI 生成描述所使用的模型名称。
func (s *AISEOService) SetOpenAIModel(model string) {
	s.client.SetOpenAIModel(model)
}

// SetDeepSeekModel 指定 DeepSeek 生成描述所使用的模型名称。
func (s *AISEOService) SetDeepSeekModel(model string) {
	s.client.SetDeepSeekModel(model)
}

// SuggestMetaDescription 按站点配置调用 AI 平台生成页面描述，结果强制截断到 160 字符以内。
func (s *AISEOService) SuggestMetaDescription(ctx context.Context, siteID uint, input MetaSuggestionInput) (MetaSuggestionResult, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return MetaSuggestionResult{}, fmt.Errorf("content is required")
	}

	maxTokens := input.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMetaMaxTokens
	}

	sanitizedContent, _ := maskImageURLs(content)
	contentSnippet := truncateRunes(sanitizedContent, maxMetaContentRuneCount)
	userPrompt := buildMetaPrompt(input.Title, contentSnippet)
	logAIExchange("SEO_META", "prompt", userPrompt)

	result, err := s.client.call(ctx, siteID, aiChatRequest{
		SystemPrompt: defaultMetaSystemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    maxTokens,
		Temperature:  defaultMetaTemperature,
	})
	if err != nil {
		return MetaSuggestionResult{}, err
	}

	description := strings.TrimSpace(result.Content)
	description = strings.Trim(description, "\"“”")
	if description == "" {
		return MetaSuggestionResult{}, ErrMetaSuggestionEmpty
	}
	description = truncateRunes(description, maxMetaDescriptionRunes)
	logAIExchange("SEO_META", "response", description)

	return MetaSuggestionResult{
		Description:      description,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
	}, nil
}

func buildMetaPrompt(title, content string) string {
	var builder strings.Builder
	if trimmed := strings.TrimSpace(title); trimmed != "" {
		builder.WriteString("标题：")
		builder.WriteString(trimmed)
		builder.WriteString("\n")
	}
	builder.WriteString("文章正文（Markdown）：\n")
	builder.WriteString(strings.TrimSpace(content))
	return builder.String()
}
