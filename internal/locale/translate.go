package locale

// Pick 在一对本地化文案间做选择：请求英文时优先英文，
// 其余语言优先中文，选中的一侧为空时退回另一侧。
func Pick(language, english, chinese string) string {
	primary, fallback := chinese, english
	if NormalizeLanguage(language) == LanguageEnglish {
		primary, fallback = english, chinese
	}
	if primary != "" {
		return primary
	}
	return fallback
}
