package service

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// ContentRenderer 把 Markdown 渲染为可安全输出的 HTML。
// 文章与评论走不同的净化策略：文章允许受控的视频 iframe，
// 评论只保留基础排版标签。
type ContentRenderer struct {
	markdown      goldmark.Markdown
	articlePolicy *bluemonday.Policy
	commentPolicy *bluemonday.Policy
}

func NewContentRenderer() *ContentRenderer {
	return &ContentRenderer{
		markdown: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.Linkify,
				extension.Table,
			),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				html.WithXHTML(),
			),
		),
		articlePolicy: buildArticleSanitizer(),
		commentPolicy: buildCommentSanitizer(),
	}
}

// RenderArticle 渲染文章正文；独立成行的视频链接会先替换为受控 iframe
func (r *ContentRenderer) RenderArticle(markdown string) (string, error) {
	prepared := applyVideoEmbeds(markdown)
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(prepared), &buf); err != nil {
		return "", err
	}
	return r.articlePolicy.Sanitize(buf.String()), nil
}

// RenderComment 渲染评论内容，脚本与嵌入一律剥除
func (r *ContentRenderer) RenderComment(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(r.commentPolicy.Sanitize(buf.String())), nil
}

func buildCommentSanitizer() *bluemonday.Policy {
	policy := bluemonday.NewPolicy()
	policy.AllowStandardURLs()
	policy.AllowElements("p", "br", "strong", "em", "del", "code", "pre", "blockquote", "ul", "ol", "li")
	policy.AllowAttrs("href").OnElements("a")
	policy.RequireNoFollowOnLinks(true)
	return policy
}
