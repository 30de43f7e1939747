package common

import (
	"strings"
)

const zeroWidthSpace = "​"

var (
	everyoneReplacer = strings.NewReplacer("@everyone", "@"+zeroWidthSpace+"everyone")
	hereReplacer     = strings.NewReplacer("@here", "@"+zeroWidthSpace+"here")
)

// EscapeSpecialMentions adds a zero width space between the '@' and the rest
// of everyone/here mentions, so stored reasons can never ping a server when
// echoed back.
func EscapeSpecialMentions(in string) string {
	return EscapeEveryoneHere(in, true, true)
}

func EscapeEveryoneHere(s string, escapeEveryone, escapeHere bool) string {
	if escapeEveryone {
		s = everyoneReplacer.Replace(s)
	}

	if escapeHere {
		s = hereReplacer.Replace(s)
	}

	return s
}
