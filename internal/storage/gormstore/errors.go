package gormstore

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// isUniqueViolation recognizes unique-index failures from every supported dialect. Error
// translation covers most drivers; the message check is a fallback for those that do not
// implement it.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value")
}

// escapeLike escapes LIKE wildcards so search terms match literally.
func escapeLike(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(term)
}
