package bot

import (
	"fmt"
	"strings"
	"time"

	"rsstt/internal/feeds"
	"rsstt/internal/model"
)

// FormatFeedList formats the collection for display.
func FormatFeedList(list []model.Feed) string {
	if len(list) == 0 {
		return "No feeds yet. Use /add <name> <link> to add one."
	}
	var b strings.Builder
	b.WriteString("Feeds:\n")
	for _, f := range list {
		fmt.Fprintf(&b, "\n%s\n   %s\n", f.Name, f.URL)
		if f.LastCheckAt != nil {
			fmt.Fprintf(&b, "   last check: %s\n", f.LastCheckAt.UTC().Format("2006-01-02 15:04 UTC"))
		}
	}
	return b.String()
}

// FormatImportResult reports which imported feeds were added.
func FormatImportResult(res *feeds.ImportResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Imported %d feed(s), %d failed.\n", len(res.Valid), len(res.Invalid))
	if len(res.Valid) > 0 {
		b.WriteString("\nValid:\n")
		for _, s := range res.Valid {
			fmt.Fprintf(&b, "%s: %s\n", s.Name, s.Link)
		}
	}
	if len(res.Invalid) > 0 {
		b.WriteString("\nInvalid:\n")
		for _, s := range res.Invalid {
			fmt.Fprintf(&b, "%s: %s\n", s.Name, s.Link)
		}
	}
	return b.String()
}

// FormatAdded confirms a new subscription.
func FormatAdded(f *model.Feed) string {
	return fmt.Sprintf("Feed added.\nName: %s\nLink: %s", f.Name, f.URL)
}

func exportFileName(now time.Time) string {
	return "feeds_export_" + now.UTC().Format("20060102150405") + ".opml"
}

func helpText(chatID int64) string {
	return fmt.Sprintf(`Commands:
/add <name> <link> — subscribe this chat to a feed
/remove <name> — delete a feed
/list — show all feeds
/test <link> [start [end]] — send entries of a feed here (0-based, inclusive)
/test <link> all — send every entry of a feed here
/import — import feeds from an OPML file
/export — export feeds as an OPML file
/refresh — resend every entry of every feed (private chat only)
/version — show the running build
/help — show this message

Chat ID: %d`, chatID)
}
