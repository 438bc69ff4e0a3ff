package mapper

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-faster/errors"
)

// Transform преобразует сохраненное содержимое поста в raw целевой платформы
type Transform func(raw string) (string, error)

// Identity - содержимое без изменений
func Identity(raw string) (string, error) { return raw, nil }

// xmlTag - открывающий или закрывающий тег s9e XML
var xmlTag = regexp.MustCompile(`<(/?)([A-Za-z][A-Za-z0-9_-]*)`)

// TextFormatter восстанавливает исходный markdown из XML s9e TextFormatter,
// в котором Flarum хранит посты: "<t>" - простой текст, "<r>" - с разметкой.
// Оригинальный текст - это текстовое содержимое документа: маркеры
// разметки хранятся в <s>/<e> как текст. Другие строки не меняются.
// Теги переименовываются в x-*, иначе HTML парсер переставит текст
// таблиц (<TABLE>, <TR>) и списков.
func TextFormatter(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "<t>") && !strings.HasPrefix(trimmed, "<r>") {
		return raw, nil
	}

	neutral := xmlTag.ReplaceAllString(trimmed, "<${1}x-${2}")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(neutral))
	if err != nil {
		return "", errors.Wrap(err, "parse textformatter xml")
	}

	root := doc.Find("body").Children().First()
	if root.Length() == 0 {
		return "", nil
	}
	return root.Text(), nil
}

// TransformByName возвращает преобразование по имени из конфигурации
func TransformByName(name string) (Transform, error) {
	switch name {
	case "", "identity":
		return Identity, nil
	case "textformatter":
		return TextFormatter, nil
	}
	return nil, errors.Errorf("unknown content transform %q", name)
}
