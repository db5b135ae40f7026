package service

import (
	"regexp"
	"strings"
	"testing"
)

var iframeAllowAutoplayPattern = regexp.MustCompile(`allow="[^"]*autoplay`)

func TestContentRendererVideoEmbeds(t *testing.T) {
	t.Parallel()

	renderer := NewContentRenderer()

	tests := []struct {
		name       string
		markdown   string
		wantSrc    string
		wantVendor string
	}{
		{
			name:       "youtube",
			markdown:   "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			wantSrc:    "https://www.youtube.com/embed/dQw4w9WgXcQ",
			wantVendor: "youtube",
		},
		{
			name:       "vimeo",
			markdown:   "https://vimeo.com/76979871",
			wantSrc:    "player.vimeo.com/video/76979871",
			wantVendor: "vimeo",
		},
		{
			name:       "bilibili",
			markdown:   "https://www.bilibili.com/video/BV1x5411c7mD",
			wantSrc:    "player.bilibili.com/player.html",
			wantVendor: "bilibili",
		},
		{
			name:       "douyin",
			markdown:   "https://www.iesdouyin.com/share/video/7234567890123456789",
			wantSrc:    "iesdouyin.com/share/video/7234567890123456789",
			wantVendor: "douyin",
		},
		{
			name:       "douyin-modal-id",
			markdown:   "douyin.com/modal_id=7602245594001771802",
			wantSrc:    "iesdouyin.com/share/video/7602245594001771802",
			wantVendor: "douyin",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			html, err := renderer.RenderArticle(tt.markdown)
			if err != nil {
				t.Fatalf("render article: %v", err)
			}

			if !strings.Contains(html, "<iframe") {
				t.Fatalf("expected iframe in output, got: %s", html)
			}
			if !strings.Contains(html, `class="video-embed is-loading"`) {
				t.Fatalf("expected loading class on video container, got: %s", html)
			}
			if !strings.Contains(html, tt.wantSrc) {
				t.Fatalf("expected iframe src to include %q, got: %s", tt.wantSrc, html)
			}
			if tt.wantVendor == "bilibili" && !strings.Contains(html, "autoplay=0") {
				t.Fatalf("expected bilibili iframe src to disable autoplay, got: %s", html)
			}
			if iframeAllowAutoplayPattern.MatchString(html) {
				t.Fatalf("expected iframe allow attr to disable autoplay, got: %s", html)
			}
			if !strings.Contains(html, "data-video-platform=\""+tt.wantVendor+"\"") {
				t.Fatalf("expected platform %q marker, got: %s", tt.wantVendor, html)
			}
		})
	}
}

func TestContentRendererSkipsVideoEmbedInsideCodeFence(t *testing.T) {
	t.Parallel()

	renderer := NewContentRenderer()
	html, err := renderer.RenderArticle("```\nhttps://www.youtube.com/watch?v=dQw4w9WgXcQ\n```")
	if err != nil {
		t.Fatalf("render article: %v", err)
	}
	if strings.Contains(html, "<iframe") {
		t.Fatalf("expected no iframe inside code fence, got: %s", html)
	}
}

func TestContentRendererYouTubeEmbedHasDisplayParams(t *testing.T) {
	t.Parallel()

	renderer := NewContentRenderer()
	html, err := renderer.RenderArticle("<https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=62s>")
	if err != nil {
		t.Fatalf("render article: %v", err)
	}

	for _, want := range []string{"modestbranding=1", "rel=0", "playsinline=1", "start=62"} {
		if !strings.Contains(html, want) {
			t.Fatalf("expected %q in embed src, got: %s", want, html)
		}
	}
}

func TestContentRendererSkipsInlineVideoURL(t *testing.T) {
	t.Parallel()

	renderer := NewContentRenderer()
	html, err := renderer.RenderArticle("观看链接：https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("render article: %v", err)
	}
	if strings.Contains(html, "<iframe") {
		t.Fatalf("expected inline url to remain a link, got: %s", html)
	}
}

func TestContentRendererRejectsLookalikeVideoDomains(t *testing.T) {
	t.Parallel()

	renderer := NewContentRenderer()
	tests := []struct {
		name     string
		markdown string
	}{
		{
			name:     "fake youtube domain",
			markdown: "https://notyoutube.com/watch?v=dQw4w9WgXcQ",
		},
		{
			name:     "fake vimeo domain",
			markdown: "https://notvimeo.com/76979871",
		},
		{
			name:     "fake bilibili domain",
			markdown: "https://notbilibili.com/video/BV1x5411c7mD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			html, err := renderer.RenderArticle(tt.markdown)
			if err != nil {
				t.Fatalf("render article: %v", err)
			}
			if strings.Contains(html, "<iframe") {
				t.Fatalf("expected no iframe for lookalike domain, got: %s", html)
			}
		})
	}
}

func TestContentRendererStripsDangerousMarkup(t *testing.T) {
	t.Parallel()

	renderer := NewContentRenderer()
	html, err := renderer.RenderArticle("正文<script>alert(1)</script>\n\n<img src=\"x\" onerror=\"alert(2)\" />")
	if err != nil {
		t.Fatalf("render article: %v", err)
	}
	if strings.Contains(html, "<script") || strings.Contains(html, "onerror") {
		t.Fatalf("dangerous markup should be stripped, got: %s", html)
	}
}

func TestContentRendererCommentPolicy(t *testing.T) {
	t.Parallel()

	renderer := NewContentRenderer()

	html, err := renderer.RenderComment("**加粗** 和 `代码`\n\nhttps://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("render comment: %v", err)
	}
	if !strings.Contains(html, "<strong>") || !strings.Contains(html, "<code>") {
		t.Fatalf("basic formatting should survive, got: %s", html)
	}
	if strings.Contains(html, "<iframe") {
		t.Fatalf("comments must not embed video, got: %s", html)
	}

	html, err = renderer.RenderComment("[链接](https://example.com)<script>alert(1)</script>")
	if err != nil {
		t.Fatalf("render comment: %v", err)
	}
	if strings.Contains(html, "<script") {
		t.Fatalf("script should be stripped from comments, got: %s", html)
	}
	if !strings.Contains(html, `rel="nofollow"`) {
		t.Fatalf("comment links should carry nofollow, got: %s", html)
	}
}
