// Package onboarding provides the fixed, ordered onboarding question set.
// The default set is embedded; an alternative YAML file may replace it.
package onboarding

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/capsule/pkg/types"
)

//go:embed questions.yaml
var defaultQuestionsYAML []byte

// ErrInvalidQuestionSet is returned when a question set fails validation.
var ErrInvalidQuestionSet = errors.New("invalid question set")

// Question is one onboarding question.
type Question struct {
	Key    string `yaml:"key" json:"key"`       // Profile key the answer is stored under
	Prompt string `yaml:"prompt" json:"prompt"` // Text shown to the user
}

// QuestionSet is an ordered list of questions with unique keys.
type QuestionSet []Question

type questionFile struct {
	Questions []Question `yaml:"questions"`
}

// Default returns the embedded question set.
// It panics if the embedded file is invalid, which is a build defect.
func Default() QuestionSet {
	qs, err := Parse(defaultQuestionsYAML)
	if err != nil {
		panic(fmt.Sprintf("onboarding: embedded questions are invalid: %v", err))
	}
	return qs
}

// Load reads a question set from a YAML file. An empty path returns Default().
func Load(path string) (QuestionSet, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("onboarding: failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML question set.
func Parse(data []byte) (QuestionSet, error) {
	var f questionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("onboarding: failed to parse questions: %w", err)
	}
	qs := QuestionSet(f.Questions)
	for i := range qs {
		qs[i].Key = strings.TrimSpace(qs[i].Key)
		qs[i].Prompt = strings.TrimSpace(qs[i].Prompt)
	}
	if err := qs.Validate(); err != nil {
		return nil, err
	}
	return qs, nil
}

// Validate checks that the set is non-empty, keys are unique and not
// reserved, and every question has a prompt.
func (qs QuestionSet) Validate() error {
	if len(qs) == 0 {
		return fmt.Errorf("%w: no questions", ErrInvalidQuestionSet)
	}
	seen := make(map[string]bool, len(qs))
	for i, q := range qs {
		switch {
		case q.Key == "":
			return fmt.Errorf("%w: question %d has no key", ErrInvalidQuestionSet, i)
		case q.Prompt == "":
			return fmt.Errorf("%w: question %q has no prompt", ErrInvalidQuestionSet, q.Key)
		case types.IsReservedProfileKey(q.Key):
			return fmt.Errorf("%w: key %q is reserved", ErrInvalidQuestionSet, q.Key)
		case seen[q.Key]:
			return fmt.Errorf("%w: duplicate key %q", ErrInvalidQuestionSet, q.Key)
		}
		seen[q.Key] = true
	}
	return nil
}

// Keys returns the storage keys in question order.
func (qs QuestionSet) Keys() []string {
	keys := make([]string, len(qs))
	for i, q := range qs {
		keys[i] = q.Key
	}
	return keys
}

// Prompt returns the prompt for key, if the key belongs to the set.
func (qs QuestionSet) Prompt(key string) (string, bool) {
	for _, q := range qs {
		if q.Key == key {
			return q.Prompt, true
		}
	}
	return "", false
}
