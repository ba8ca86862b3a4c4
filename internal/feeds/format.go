package feeds

import (
	"fmt"
	"strings"

	"rsstt/internal/fetcher"
)

// FormatPost renders a feed entry as a plain-text chat message.
func FormatPost(feedName string, entry fetcher.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n\n", feedName)
	b.WriteString(entry.Title)
	if entry.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(entry.Description)
	}
	if entry.Link != "" {
		b.WriteString("\n\n")
		b.WriteString(entry.Link)
	}
	return b.String()
}
