// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode/utf8"
)

const maxDocumentIDBytes = 1500

// IsValidDocumentID проверяет идентификатор документа (заказа, продавца):
// непустая строка UTF-8 не длиннее 1500 байт, без '/', не "." и не "..",
// не зарезервированная форма __name__.
func IsValidDocumentID(id string) bool {
	if id == "" || len(id) > maxDocumentIDBytes {
		return false
	}
	if !utf8.ValidString(id) {
		return false
	}
	if strings.TrimSpace(id) == "" {
		return false
	}
	if id == "." || id == ".." {
		return false
	}
	if strings.Contains(id, "/") {
		return false
	}
	if len(id) > 4 && strings.HasPrefix(id, "__") && strings.HasSuffix(id, "__") {
		return false
	}
	return true
}
