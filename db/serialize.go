// ABOUTME: Content document serialization
// ABOUTME: Instance fields travel as compact JSON in the content column
package db

import (
	"encoding/json"

	"github.com/openpanel-ng/corestore/models"
)

func serialize(members models.Document) (string, error) {
	if members == nil {
		members = models.Document{}
	}
	raw, err := json.Marshal(members)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func deserialize(content string) (models.Document, error) {
	if content == "" {
		return models.Document{}, nil
	}
	var doc models.Document
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = models.Document{}
	}
	return doc, nil
}
