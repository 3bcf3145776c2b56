package domain

import (
	"slices"
	"strings"
)

// NormalizeTags приводит набор тегов к каноничному виду:
// обрезает пробелы, убирает пустые и дубликаты, сортирует.
// Для пустого входа возвращает пустой (не nil) slice, чтобы в JSON и БД
// всегда уходил массив.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, t)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// TagsIntersect возвращает true, если у наборов есть хотя бы один общий тег (hasSome).
func TagsIntersect(a, b []string) bool {
	for _, t := range a {
		if slices.Contains(b, t) {
			return true
		}
	}
	return false
}

// TagsSatisfy проверяет, что набор тегов worker'а покрывает требуемые теги.
// Пустой набор требований удовлетворяется любым worker'ом.
func TagsSatisfy(workerTags, required []string) bool {
	for _, t := range required {
		if !slices.Contains(workerTags, t) {
			return false
		}
	}
	return true
}
