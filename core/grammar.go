package orchestration

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
)

// navigationCommands maps spoken phrases to key combinations understood by
// the press_keys tool.
var navigationCommands = map[string]string{
	"press enter": "enter",
	"new line":    "enter",
	"newline":     "enter",
	"line break":  "enter",

	"press tab":       "tab",
	"press shift tab": "shift+tab",
	"press alt tab":   "alt+tab",
	"press escape":    "esc",

	"press space":     "space",
	"press space bar": "space",
	"space bar":       "space",

	"press backspace": "backspace",
	"backspace":       "backspace",
	"delete last":     "backspace",
	"undo last":       "backspace",
	"press delete":    "delete",

	"press up arrow":    "up",
	"press up":          "up",
	"press down arrow":  "down",
	"press down":        "down",
	"press left arrow":  "left",
	"press left":        "left",
	"press right arrow": "right",
	"press right":       "right",

	"press control c": "ctrl+c",
	"press control v": "ctrl+v",
	"press control x": "ctrl+x",
	"press control a": "ctrl+a",

	"go to the top":    "ctrl+home",
	"go to the bottom": "ctrl+end",
	"select all":       "ctrl+a",
	"undo":             "ctrl+z",
	"redo":             "ctrl+y",
}

// longest phrase first so "undo last" wins over "undo"
var navigationPhrases = func() []string {
	phrases := make([]string, 0, len(navigationCommands))
	for phrase := range navigationCommands {
		phrases = append(phrases, phrase)
	}
	slices.SortFunc(phrases, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return phrases
}()

var (
	startDictationPhrases = []string{"start typing mode", "enable voice typing", "start dictation", "start typing"}
	stopDictationPhrases  = []string{"stop typing mode", "disable voice typing", "cancel dictation", "stop typing"}

	quitWords = []string{"quit", "exit", "goodbye"}
)

type trigger int

const (
	noTrigger trigger = iota
	startTrigger
	stopTrigger
)

// normalizeUtterance lowercases text, turns hyphens into spaces, collapses
// whitespace and strips trailing punctuation.
func normalizeUtterance(text string) string {
	text = strings.ToLower(text)
	text = strings.ReplaceAll(text, "-", " ")
	text = strings.Join(strings.Fields(text), " ")
	return strings.TrimRight(text, ".,!?;: ")
}

// matchNavigation returns the key combination for the longest navigation
// phrase contained in normalized.
func matchNavigation(normalized string) (phrase, keys string, ok bool) {
	for _, phrase := range navigationPhrases {
		if strings.Contains(normalized, phrase) {
			return phrase, navigationCommands[phrase], true
		}
	}
	return "", "", false
}

func matchTrigger(normalized string) (trigger, string) {
	for _, phrase := range stopDictationPhrases {
		if strings.Contains(normalized, phrase) {
			return stopTrigger, phrase
		}
	}
	for _, phrase := range startDictationPhrases {
		if strings.Contains(normalized, phrase) {
			return startTrigger, phrase
		}
	}
	return noTrigger, ""
}

func isQuitWord(normalized string) bool {
	return slices.Contains(quitWords, normalized)
}

// textAfterPhrase returns what follows the first case-insensitive
// occurrence of phrase in the original text, with leading separators
// removed.
func textAfterPhrase(original, phrase string) string {
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return ""
	}
	for i, word := range words {
		words[i] = regexp.QuoteMeta(word)
	}
	pattern, err := regexp.Compile(`(?i)\b` + strings.Join(words, `[\s-]+`) + `\b`)
	if err != nil {
		return ""
	}
	loc := pattern.FindStringIndex(original)
	if loc == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimLeft(original[loc[1]:], ", .:;-"))
}
