package strategy

import (
	"regexp"
	"strings"
)

const (
	briefMessageWords = 3
	longReplyWords    = 15
)

var (
	casualMarkers = regexp.MustCompile(`(?i)\b(bb|bby|u|ur|idk|tbh|fr)\b`)
	wordYou       = regexp.MustCompile(`\byou\b`)
	wordYour      = regexp.MustCompile(`\byour\b`)
	sentenceEnd   = regexp.MustCompile(`[.!?]`)
)

// MatchEnergy mirrors the visitor's register. A reply to a very brief
// message is cut to its first sentence, keeping a question mark when the
// reply asked something; a casual message gets "you"/"your" shortened.
func MatchEnergy(userMessage, reply string) string {
	if len(strings.Fields(userMessage)) <= briefMessageWords && len(strings.Fields(reply)) > longReplyWords {
		first := strings.TrimSpace(reply)
		if loc := sentenceEnd.FindStringIndex(first); loc != nil {
			first = strings.TrimSpace(first[:loc[0]])
		}
		if first != "" {
			if strings.Contains(reply, "?") {
				return first + "?"
			}
			return first
		}
	}
	if casualMarkers.MatchString(userMessage) {
		reply = wordYou.ReplaceAllString(reply, "u")
		reply = wordYour.ReplaceAllString(reply, "ur")
	}
	return reply
}
