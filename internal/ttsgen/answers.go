package ttsgen

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// ErrInvalidAnswers is returned when an answers document is neither an
// array nor an object with an "answers" array.
var ErrInvalidAnswers = errors.New("ttsgen: answers must be an array or {\"answers\": [...]}")

// LoadAnswersFile reads an answers document from path.
func LoadAnswersFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ttsgen: open answers: %w", err)
	}
	defer f.Close()
	return LoadAnswers(f)
}

// LoadAnswers decodes a JSON answers document. Items may be strings or
// objects with a "text" field; any other item is skipped with a warning.
func LoadAnswers(r io.Reader) ([]string, error) {
	var doc any
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("ttsgen: decode answers: %w", err)
	}

	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		list, ok := v["answers"].([]any)
		if !ok {
			return nil, ErrInvalidAnswers
		}
		items = list
	default:
		return nil, ErrInvalidAnswers
	}

	answers := make([]string, 0, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case string:
			answers = append(answers, v)
		case map[string]any:
			if text, ok := v["text"].(string); ok {
				answers = append(answers, text)
				continue
			}
			slog.Warn("ttsgen: skipping answer without text", "index", i)
		default:
			slog.Warn("ttsgen: skipping answer", "index", i, "value", item)
		}
	}
	return answers, nil
}
