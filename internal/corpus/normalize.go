package corpus

import (
	"regexp"
	"strings"
)

var (
	// htmlCommentRe also swallows unterminated comments to the end of the
	// segment; issue templates leave those behind surprisingly often.
	htmlCommentRe = regexp.MustCompile(`(?s)<!--.*?(-->|$)`)
	htmlTagRe     = regexp.MustCompile(`</?[a-zA-Z][^>\n]*>`)
	blankRunsRe   = regexp.MustCompile(`\n{3,}`)
)

// normalizeBody strips HTML comments and tags from issue markdown and
// collapses runs of blank lines. Fenced code blocks pass through verbatim:
// stack traces and config snippets are exactly what retrieval needs intact.
func normalizeBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")

	// Even segments sit outside ``` fences, odd segments inside.
	segments := strings.Split(body, "```")
	for i := 0; i < len(segments); i += 2 {
		seg := segments[i]
		seg = htmlCommentRe.ReplaceAllString(seg, "")
		seg = htmlTagRe.ReplaceAllString(seg, "")
		seg = blankRunsRe.ReplaceAllString(seg, "\n\n")
		segments[i] = seg
	}

	return strings.TrimSpace(strings.Join(segments, "```"))
}

// normalizeTitle flattens a title to a single clean line.
func normalizeTitle(title string) string {
	title = htmlCommentRe.ReplaceAllString(title, "")
	title = htmlTagRe.ReplaceAllString(title, "")
	return strings.Join(strings.Fields(title), " ")
}
