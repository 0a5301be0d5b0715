// Package detect classifies assistant responses that end in a clarifying
// question.
//
// The detector is a prioritized list of pattern rules, not a language
// model: it is deterministic, order-sensitive, and intentionally
// approximate. False positives and negatives are expected and acceptable.
package detect

import (
	"regexp"
	"strings"

	"github.com/coderelay/coderelay/pkg/types"
)

// TailWindowLines bounds the analysis to the final lines of a response;
// questions are assumed to appear at the end.
const TailWindowLines = 10

var (
	numberedItem = regexp.MustCompile(`^\s*\d+[.)]\s+(.+)$`)
	letteredItem = regexp.MustCompile(`^\s*[A-Za-z][.)]\s+(.+)$`)
	bulletedItem = regexp.MustCompile(`^\s*[-*]\s+(.+)$`)

	choosePhrase       = regexp.MustCompile(`(?i)\b(choose one|select an option|pick one|select one)\b`)
	confirmationPhrase = regexp.MustCompile(`(?i)\b(are you sure|confirm|proceed|continue|is this correct)\b`)
	yesNoPhrase        = regexp.MustCompile(`(?i)\b(yes/no|yes or no|do you want|would you like|should i|are you ready)\b`)
)

// Detect inspects a response and returns the question it poses, or nil when
// the response does not read as a question. The returned question carries
// text, type, and choices; the executor stamps identity and timestamps.
//
// Classification priority, first match wins: multiple choice, confirmation,
// yes/no, free text.
func Detect(text string) *types.PendingQuestion {
	if !strings.Contains(text, "?") {
		return nil
	}

	tail := tailLines(text, TailWindowLines)
	window := strings.Join(tail, "\n")
	if !strings.Contains(window, "?") {
		return nil
	}

	question := questionText(tail)
	if question == "" {
		return nil
	}

	if choices := extractChoices(tail); len(choices) > 0 || choosePhrase.MatchString(window) {
		return &types.PendingQuestion{
			Text:    question,
			Type:    types.QuestionMultipleChoice,
			Choices: choices,
		}
	}
	if confirmationPhrase.MatchString(window) {
		return &types.PendingQuestion{Text: question, Type: types.QuestionConfirmation}
	}
	if yesNoPhrase.MatchString(window) {
		return &types.PendingQuestion{Text: question, Type: types.QuestionYesNo}
	}
	return &types.PendingQuestion{Text: question, Type: types.QuestionFreeText}
}

// tailLines returns the last n lines of text.
func tailLines(text string, n int) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// questionText picks the last line containing '?', falling back to the
// last non-blank line of the window.
func questionText(tail []string) string {
	for i := len(tail) - 1; i >= 0; i-- {
		if strings.Contains(tail[i], "?") {
			return strings.TrimSpace(tail[i])
		}
	}
	for i := len(tail) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(tail[i]); line != "" {
			return line
		}
	}
	return ""
}

// extractChoices collects list items from the window in order, prefixes
// stripped. Duplicates are preserved.
func extractChoices(tail []string) []string {
	var choices []string
	for _, line := range tail {
		for _, re := range []*regexp.Regexp{numberedItem, letteredItem, bulletedItem} {
			if m := re.FindStringSubmatch(line); m != nil {
				choices = append(choices, strings.TrimSpace(m[1]))
				break
			}
		}
	}
	return choices
}
