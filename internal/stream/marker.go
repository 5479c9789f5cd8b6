// Package stream defines the in-band markers that terminate a chat response
// stream. A successful stream ends with "\n\n[CONVERSATION_ID:<id>]", a failed
// one with "\n\n[ERROR: Failed to generate response]". Exactly one of the two
// is ever written, and always last.
package stream

import "regexp"

// ErrorMarker terminates a stream whose generation failed.
const ErrorMarker = "\n\n[ERROR: Failed to generate response]"

const conversationIDPrefix = "\n\n[CONVERSATION_ID:"

var (
	conversationIDPattern = regexp.MustCompile(`\[CONVERSATION_ID:([^\]]+)\]`)
	trailingIDPattern     = regexp.MustCompile(`\n\n\[CONVERSATION_ID:[^\]]+\]$`)
	trailingErrorPattern  = regexp.MustCompile(`\n\n\[ERROR: [^\]]*\]$`)
)

// ConversationIDMarker returns the success marker carrying id.
func ConversationIDMarker(id string) string {
	return conversationIDPrefix + id + "]"
}

// ConversationID returns the id of the first conversation-id marker in buf.
func ConversationID(buf string) (string, bool) {
	m := conversationIDPattern.FindStringSubmatch(buf)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Display strips a conversation-id marker from the end of buf.
func Display(buf string) string {
	return trailingIDPattern.ReplaceAllString(buf, "")
}

// Failed reports whether buf ends with an error marker.
func Failed(buf string) bool {
	return trailingErrorPattern.MatchString(buf)
}

// StripError removes a trailing error marker.
func StripError(buf string) string {
	return trailingErrorPattern.ReplaceAllString(buf, "")
}
