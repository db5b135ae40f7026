package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestAISEOServiceSuggestMetaDescription(t *testing.T) {
	gdb, cleanup := setupAISummaryTestDB(t)
	defer cleanup()

	site := seedSettingSite(t, gdb, "ai-seo")
	settings := NewSiteSettingService(gdb)
	if _, err := settings.UpdateSettings(site.ID, SiteSettingsInput{
		AIProvider:   AIProviderOpenAI,
		OpenAIAPIKey: "sk-seo",
	}); err != nil {
		t.Fatalf("failed to seed settings: %v", err)
	}

	svc := NewAISEOService(settings)
	svc.SetOpenAIBaseURL("https://openai.test/v1")
	svc.SetHTTPClient(fakeHTTPClient{handler: func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-seo" {
			t.Fatalf("unexpected authorization header %s", got)
		}

		var payload chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if len(payload.Messages) != 2 || payload.Messages[0].Content != defaultMetaSystemPrompt {
			t.Fatalf("unexpected system prompt: %#v", payload.Messages)
		}
		userPrompt := payload.Messages[1].Content
		if !strings.Contains(userPrompt, "标题：多站点部署指南") {
			t.Fatalf("expected title in prompt: %s", userPrompt)
		}
		if !strings.Contains(userPrompt, "面向中小团队") {
			t.Fatalf("expected content in prompt: %s", userPrompt)
		}

		return jsonResponse(http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"\"面向中小团队的多站点内容平台部署指南，覆盖域名、缓存与发布流程。\""}}],"usage":{"prompt_tokens":60,"completion_tokens":40}}`), nil
	}})

	result, err := svc.SuggestMetaDescription(context.Background(), site.ID, MetaSuggestionInput{
		Title:   "多站点部署指南",
		Content: "面向中小团队，介绍如何部署多站点内容平台。",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Description != "面向中小团队的多站点内容平台部署指南，覆盖域名、缓存与发布流程。" {
		t.Fatalf("expected surrounding quotes to be trimmed, got %q", result.Description)
	}
	if result.PromptTokens != 60 || result.CompletionTokens != 40 {
		t.Fatalf("unexpected usage: %+v", result)
	}
}

func TestAISEOServiceCapsLongDescription(t *testing.T) {
	gdb, cleanup := setupAISummaryTestDB(t)
	defer cleanup()

	site := seedSettingSite(t, gdb, "ai-seo-long")
	settings := NewSiteSettingService(gdb)
	if _, err := settings.UpdateSettings(site.ID, SiteSettingsInput{
		AIProvider:   AIProviderOpenAI,
		OpenAIAPIKey: "sk-seo",
	}); err != nil {
		t.Fatalf("failed to seed settings: %v", err)
	}

	long := strings.Repeat("长", 200)
	svc := NewAISEOService(settings)
	svc.SetHTTPClient(fakeHTTPClient{handler: func(r *http.Request) (*http.Response, error) {
		body, err := json.Marshal(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": long}},
			},
		})
		if err != nil {
			t.Fatalf("failed to marshal response: %v", err)
		}
		return jsonResponse(http.StatusOK, string(body)), nil
	}})

	result, err := svc.SuggestMetaDescription(context.Background(), site.ID, MetaSuggestionInput{Content: "内容"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runes := []rune(result.Description)
	if len(runes) != 160 {
		t.Fatalf("expected description capped at 160 runes, got %d", len(runes))
	}
	if result.Description != strings.Repeat("长", 160) {
		t.Fatalf("unexpected capped description: %q", result.Description)
	}
}

func TestAISEOServiceRequiresContent(t *testing.T) {
	gdb, cleanup := setupAISummaryTestDB(t)
	defer cleanup()

	site := seedSettingSite(t, gdb, "ai-seo-empty")
	settings := NewSiteSettingService(gdb)

	svc := NewAISEOService(settings)
	svc.SetHTTPClient(fakeHTTPClient{handler: func(r *http.Request) (*http.Response, error) {
		t.Fatal("request should not be sent without content")
		return nil, nil
	}})

	if _, err := svc.SuggestMetaDescription(context.Background(), site.ID, MetaSuggestionInput{Title: "只有标题"}); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestAISEOServiceEmptyModelOutput(t *testing.T) {
	gdb, cleanup := setupAISummaryTestDB(t)
	defer cleanup()

	site := seedSettingSite(t, gdb, "ai-seo-blank")
	settings := NewSiteSettingService(gdb)
	if _, err := settings.UpdateSettings(site.ID, SiteSettingsInput{
		AIProvider:   AIProviderOpenAI,
		OpenAIAPIKey: "sk-seo",
	}); err != nil {
		t.Fatalf("failed to seed settings: %v", err)
	}

	svc := NewAISEOService(settings)
	svc.SetHTTPClient(fakeHTTPClient{handler: func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"\"\""}}]}`), nil
	}})

	_, err := svc.SuggestMetaDescription(context.Background(), site.ID, MetaSuggestionInput{Content: "内容"})
	if !errors.Is(err, ErrMetaSuggestionEmpty) {
		t.Fatalf("expected ErrMetaSuggestionEmpty, got %v", err)
	}
}
