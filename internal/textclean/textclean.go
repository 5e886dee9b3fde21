// Package textclean turns OCR markdown into plain text suitable for
// narration.
package textclean

import (
	"regexp"
	"strings"
)

var (
	fencedCode    = regexp.MustCompile("(?s)```[^\\n]*\\n(.*?)```")
	htmlTag       = regexp.MustCompile(`<[^>]+>`)
	setextUnder   = regexp.MustCompile(`(?m)^[=\-]{2,}[ \t]*$`)
	horizontalRul = regexp.MustCompile(`(?m)^[ \t]*([-*_][ \t]*){3,}$`)
	tableRule     = regexp.MustCompile(`(?m)^[ \t]*\|?[ \t]*:?-{3,}:?[ \t]*(\|[ \t]*:?-{3,}:?[ \t]*)*\|?[ \t]*$`)
	heading       = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+(.*?)[ \t]*#*[ \t]*$`)
	blockquote    = regexp.MustCompile(`(?m)^[ \t]*>+[ \t]?`)
	listMarker    = regexp.MustCompile(`(?m)^([ \t]*)(?:[*+\-]|\d+[.)])[ \t]+`)
	image         = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	link          = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	refLink       = regexp.MustCompile(`\[([^\]]*)\]\[[^\]]*\]`)
	refDef        = regexp.MustCompile(`(?m)^[ \t]*\[[^\]]+\]:[ \t]*\S+.*$`)
	footnote      = regexp.MustCompile(`\[\^[^\]]+\]`)
	strong        = regexp.MustCompile(`(\*\*|__)(\S(?:.*?\S)?)(\*\*|__)`)
	emphasis      = regexp.MustCompile(`(^|[^\w*])[*_](\S(?:[^*_]*?\S)?)[*_]`)
	strike        = regexp.MustCompile(`~~(.*?)~~`)
	inlineCode    = regexp.MustCompile("`([^`]*)`")
	tablePipe     = regexp.MustCompile(`[ \t]*\|[ \t]*`)
	manyBlank     = regexp.MustCompile(`\n{3,}`)
	spaces        = regexp.MustCompile(`[ \t]{2,}`)
)

// StripMarkdown removes markdown syntax and keeps the readable text:
// headings, emphasis, links, images and code lose their markers, tables
// become space-separated cells, rules and reference definitions are
// dropped.
func StripMarkdown(md string) string {
	s := strings.ReplaceAll(md, "\r\n", "\n")

	s = fencedCode.ReplaceAllString(s, "$1")
	s = htmlTag.ReplaceAllString(s, "")
	s = tableRule.ReplaceAllString(s, "")
	s = horizontalRul.ReplaceAllString(s, "")
	s = setextUnder.ReplaceAllString(s, "")
	s = heading.ReplaceAllString(s, "$1")
	s = blockquote.ReplaceAllString(s, "")
	s = listMarker.ReplaceAllString(s, "$1")
	s = refDef.ReplaceAllString(s, "")
	s = footnote.ReplaceAllString(s, "")
	s = image.ReplaceAllString(s, "$1")
	s = link.ReplaceAllString(s, "$1")
	s = refLink.ReplaceAllString(s, "$1")
	s = strong.ReplaceAllString(s, "$2")
	s = emphasis.ReplaceAllString(s, "$1$2")
	s = strike.ReplaceAllString(s, "$1")
	s = inlineCode.ReplaceAllString(s, "$1")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if strings.Contains(line, "|") {
			line = strings.Trim(tablePipe.ReplaceAllString(line, " "), " ")
		}
		lines[i] = strings.TrimRight(spaces.ReplaceAllString(line, " "), " \t")
	}
	s = strings.Join(lines, "\n")
	s = manyBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// IsBlank reports whether text has nothing to narrate.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
