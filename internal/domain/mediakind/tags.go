package mediakind

import (
	"strings"
	"unicode"

	"github.com/bigkaa/worklog/internal/domain/model"
)

var hashtagTags = map[string]model.MediaTag{
	"проблема":  model.TagProblem,
	"problem":   model.TagProblem,
	"снабжение": model.TagSupply,
	"supply":    model.TagSupply,
	"отчет":     model.TagFinalReport,
	"отчёт":     model.TagFinalReport,
	"report":    model.TagFinalReport,
}

var reactionTags = map[string]model.MediaTag{
	"❗":  model.TagProblem,
	"⚠":  model.TagProblem,
	"⚠️": model.TagProblem,
	"🛒":  model.TagSupply,
	"📦":  model.TagSupply,
	"🏁":  model.TagFinalReport,
}

// TagFromText ищет первый известный хэштег в подписи или тексте.
func TagFromText(text string) (model.MediaTag, bool) {
	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '.' || r == ';'
	}) {
		if !strings.HasPrefix(word, "#") {
			continue
		}
		if tag, ok := hashtagTags[strings.ToLower(strings.TrimPrefix(word, "#"))]; ok {
			return tag, true
		}
	}
	return model.TagNone, false
}

// TagFromReaction возвращает пометку по эмодзи реакции.
func TagFromReaction(emoji string) (model.MediaTag, bool) {
	tag, ok := reactionTags[emoji]
	return tag, ok
}
