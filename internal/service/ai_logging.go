package service

import (
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

const maxAILogSnippetRunes = 1024

// logAIExchange 记录 AI 请求与响应的关键片段，方便排查模型行为。
func logAIExchange(kind, phase, content string) {
	trimmed := strings.TrimSpace(content)
	fields := log.Fields{"kind": kind, "phase": phase}
	if trimmed == "" {
		log.WithFields(fields).Debug("AI 交互内容为空")
		return
	}

	runeCount := utf8.RuneCountInString(trimmed)
	snippet := trimmed
	if runeCount > maxAILogSnippetRunes {
		snippet = string([]rune(trimmed)[:maxAILogSnippetRunes]) + "…(truncated)"
	}
	fields["runes"] = runeCount
	log.WithFields(fields).Debug(snippet)
}
