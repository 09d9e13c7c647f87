// Package safety screens user prompts against a blocklist of disallowed content.
package safety

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// DefaultBlocklist holds the phrases rejected out of the box.
var DefaultBlocklist = []string{
	"child porn",
	"cp",
	"underage",
	"under-age",
	"kidnapping",
	"terrorist",
	"terrorism",
	"bomb making",
	"make a bomb",
	"self harm",
	"suicide",
	"kill myself",
	"kill him",
	"kill her",
	"beheading",
	"graphic gore",
	"disemboweled",
	"neo-nazi",
	"white supremacist",
	"hate symbol",
}

// Screen matches whole words and phrases, ignoring case and punctuation.
type Screen struct {
	phrases [][]string
	labels  []string
}

// NewScreen builds a screen over phrases; an empty list selects DefaultBlocklist.
func NewScreen(phrases []string) *Screen {
	if len(phrases) == 0 {
		phrases = DefaultBlocklist
	}
	s := &Screen{}
	for _, p := range phrases {
		tokens := s.tokenize(p)
		if len(tokens) == 0 {
			continue
		}
		s.phrases = append(s.phrases, tokens)
		s.labels = append(s.labels, strings.Join(tokens, " "))
	}
	return s
}

// Check reports whether the combined texts are allowed. When they are not,
// reason lists the matched phrases.
func (s *Screen) Check(texts ...string) (bool, string) {
	tokens := s.tokenize(strings.Join(texts, " "))
	if len(tokens) == 0 {
		return true, ""
	}

	found := make(map[string]struct{})
	for i, phrase := range s.phrases {
		if containsSequence(tokens, phrase) {
			found[s.labels[i]] = struct{}{}
		}
	}
	if len(found) == 0 {
		return true, ""
	}
	matches := make([]string, 0, len(found))
	for m := range found {
		matches = append(matches, m)
	}
	sort.Strings(matches)
	return false, "prompt contains disallowed content keywords: " + strings.Join(matches, ", ")
}

func (s *Screen) tokenize(text string) []string {
	// Casers are stateful, so each call gets its own.
	folded := cases.Fold().String(text)
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsSequence(tokens, phrase []string) bool {
	if len(phrase) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j, p := range phrase {
			if tokens[i+j] != p {
				continue outer
			}
		}
		return true
	}
	return false
}
