// Package sanitize strips HTML from free-text user content before it is persisted, since message content (spec §3)
// is plain text that later reaches other users' clients verbatim.
package sanitize

import "github.com/microcosm-cc/bluemonday"

// policy is built once; bluemonday policies are safe for concurrent use after construction.
var policy = bluemonday.StrictPolicy()

// Content strips all HTML tags from s, leaving plain text. Message bodies are not rich text (spec §3 calls content
// "1-10 000 chars" with no markup model), so a strict policy rather than the teacher's UGC allow-list is correct here.
func Content(s string) string {
	return policy.Sanitize(s)
}
