package service

import (
	"fmt"
	"regexp"
	"strings"
)

var promptImagePattern = regexp.MustCompile(`!\[[^\]]*]\((<[^>]+>|[^)\s]+)([^)]*)\)`)

// imagePlaceholders 记录送往模型前被遮蔽的图片链接，生成结果后按记录还原。
type imagePlaceholders struct {
	originals map[string]string
}

// maskImageURLs 把正文里 Markdown 图片的长链接换成 image://asset-N 占位符，
// 压低 Prompt 的 Token 开销。
func maskImageURLs(input string) (string, *imagePlaceholders) {
	if !promptImagePattern.MatchString(input) {
		return input, &imagePlaceholders{}
	}

	masked := &imagePlaceholders{originals: make(map[string]string)}
	next := 1

	result := promptImagePattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := promptImagePattern.FindStringSubmatch(match)
		if len(groups) < 3 {
			return match
		}

		original := groups[1]
		placeholder := fmt.Sprintf("image://asset-%d", next)
		next++

		// 尖括号包裹的链接保持包裹形式，还原时才能对得上
		if strings.HasPrefix(original, "<") && strings.HasSuffix(original, ">") {
			placeholder = "<" + placeholder + ">"
		}

		masked.originals[placeholder] = original
		return strings.Replace(match, original, placeholder, 1)
	})

	return result, masked
}

// Count 返回被遮蔽的图片数量。
func (p *imagePlaceholders) Count() int {
	if p == nil {
		return 0
	}
	return len(p.originals)
}

// Restore 把模型输出里的占位符换回原始图片链接。
// 模型可能擅自增删尖括号，两种形态都要能还原。
func (p *imagePlaceholders) Restore(input string) string {
	if p.Count() == 0 {
		return input
	}

	output := input
	for placeholder, original := range p.originals {
		output = strings.ReplaceAll(output, placeholder, original)

		bare := strings.TrimSuffix(strings.TrimPrefix(placeholder, "<"), ">")
		bareOriginal := strings.TrimSuffix(strings.TrimPrefix(original, "<"), ">")

		if bare != placeholder {
			// 记录时带尖括号，补一遍去括号的形态
			output = strings.ReplaceAll(output, bare, bareOriginal)
			continue
		}

		// 记录时不带尖括号，补一遍模型自行加括号的形态
		wrapped := "<" + placeholder + ">"
		if bareOriginal == original {
			output = strings.ReplaceAll(output, wrapped, "<"+bareOriginal+">")
		} else {
			output = strings.ReplaceAll(output, wrapped, original)
		}
	}
	return output
}
