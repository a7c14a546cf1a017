// Package classify maps failures onto the closed error taxonomy.
package classify

import (
	"pipewatch/app/internal/models"
	"strings"
)

type rule struct {
	category models.Category
	keywords []string
}

// rules are checked in order and the first match wins. Inputs matching
// several categories always resolve to the earliest one.
var rules = []rule{
	{models.CategoryConnection, []string{"connection", "timeout", "network", "socket"}},
	{models.CategoryAuthentication, []string{"401", "403", "unauthorized", "forbidden", "auth"}},
	{models.CategoryDataValidation, []string{"value", "key", "validation", "invalid", "missing"}},
	{models.CategoryStorage, []string{"io", "file", "permission", "disk", "storage"}},
	{models.CategoryConfiguration, []string{"config", "setting", "parameter"}},
}

// Classify returns the category of a failure given its type name and message
func Classify(errorType, message string) models.Category {
	text := strings.ToLower(errorType + " " + message)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.category
			}
		}
	}
	return models.CategoryUnknown
}
