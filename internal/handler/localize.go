package handler

import (
	"strings"

	"github.com/presshub/internal/db"
	"github.com/presshub/internal/locale"
)

func localizedTagName(tag db.Tag, language string) string {
	name := locale.Pick(language, tag.NameEn, tag.Name)
	if strings.TrimSpace(name) == "" {
		name = tag.Name
	}
	return strings.TrimSpace(name)
}

func localizedCategoryName(category db.Category, language string) string {
	name := locale.Pick(language, category.NameEn, category.Name)
	if strings.TrimSpace(name) == "" {
		name = category.Name
	}
	return strings.TrimSpace(name)
}

// localizeTagSliceInPlace 把标签名替换为请求语言下的展示名，
// 返回 ID 到展示名的映射供嵌套结构复用。
func localizeTagSliceInPlace(tags []db.Tag, language string) map[uint]string {
	names := make(map[uint]string, len(tags))
	for i := range tags {
		displayName := localizedTagName(tags[i], language)
		if displayName != "" {
			tags[i].Name = displayName
			names[tags[i].ID] = displayName
		}
	}
	return names
}

func localizePublicationTagsInPlace(publications []db.ArticlePublication, language string) {
	for i := range publications {
		if len(publications[i].Tags) == 0 {
			continue
		}
		localizeTagSliceInPlace(publications[i].Tags, language)
	}
}
