package bot

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"stockwatch/internal/model"
	"stockwatch/internal/notify"
)

// FormatEmbed renders an item notification as message text.
func FormatEmbed(e notify.Embed) string {
	var b strings.Builder
	b.WriteString(e.Title)
	if e.URL != "" {
		b.WriteString("\n")
		b.WriteString(e.URL)
	}
	if len(e.Fields) > 0 {
		b.WriteString("\n")
		for _, f := range e.Fields {
			fmt.Fprintf(&b, "\n%s: %s", f.Name, f.Value)
		}
	}
	if e.Footer != "" {
		b.WriteString("\n\n")
		b.WriteString(e.Footer)
	}
	return b.String()
}

// FormatAlertList formats the alerts of a chat with their filter counts.
func FormatAlertList(alerts []model.Alert, filterCounts map[int64]int) string {
	if len(alerts) == 0 {
		return "You have no alerts in this chat. Use /register <query> to add one."
	}
	var b strings.Builder
	b.WriteString("Your alerts:\n")
	for _, a := range alerts {
		fmt.Fprintf(&b, "\n#%d %s  (added %s)\n", a.ID, a.SearchQuery, humanize.Time(a.CreatedAt))
		switch n := filterCounts[a.ID]; n {
		case 0:
			b.WriteString("   no filters\n")
		case 1:
			b.WriteString("   1 filter\n")
		default:
			fmt.Fprintf(&b, "   %d filters\n", n)
		}
	}
	return b.String()
}

// FormatAllAlerts lists the alerts of every chat, ordered by chat.
func FormatAllAlerts(alerts []model.Alert) string {
	if len(alerts) == 0 {
		return "No alerts are registered."
	}
	sorted := slices.Clone(alerts)
	slices.SortStableFunc(sorted, func(a, b model.Alert) int {
		return cmp.Compare(a.ChatID, b.ChatID)
	})

	lines := make([]string, 0, len(sorted))
	for _, a := range sorted {
		lines = append(lines, fmt.Sprintf("chat %d: #%d %s", a.ChatID, a.ID, a.SearchQuery))
	}
	return strings.Join(lines, "\n")
}

// SplitMessage breaks text into chunks of at most limit characters, cutting
// only at line breaks. A single line longer than limit is cut hard.
func SplitMessage(text string, limit int) []string {
	var (
		chunks []string
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	for _, line := range strings.Split(text, "\n") {
		for len([]rune(line)) > limit {
			flush()
			r := []rune(line)
			chunks = append(chunks, string(r[:limit]))
			line = string(r[limit:])
		}
		n := len([]rune(cur.String()))
		if n > 0 && n+1+len([]rune(line)) > limit {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(line)
	}
	flush()
	return chunks
}

// FormatFilterList formats the filter rules of an alert grouped by mode.
func FormatFilterList(alert *model.Alert, filters []model.Filter) string {
	if len(filters) == 0 {
		return fmt.Sprintf("No filters for #%d \"%s\".\nUse /filter_add to add one.", alert.ID, alert.SearchQuery)
	}

	var whitelist, blacklist []model.Filter
	for _, f := range filters {
		if f.Inverse {
			blacklist = append(blacklist, f)
		} else {
			whitelist = append(whitelist, f)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Filters for #%d \"%s\":\n", alert.ID, alert.SearchQuery)
	for _, g := range []struct {
		name    string
		filters []model.Filter
	}{
		{"Whitelist", whitelist},
		{"Blacklist", blacklist},
	} {
		if len(g.filters) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", g.name)
		for _, f := range g.filters {
			fmt.Fprintf(&b, "  F%d: %s %q (%s, %s)\n",
				f.ID, f.Kind, f.Value, targetLabel(f.Target), matchLabel(f.MatchCount))
		}
	}
	return b.String()
}

func targetLabel(t model.FilterTarget) string {
	if t == model.TargetID {
		return "item id"
	}
	return "title"
}

func matchLabel(n int64) string {
	if n == 1 {
		return "1 match"
	}
	return humanize.Comma(n) + " matches"
}

func modeLabel(inverse bool) string {
	if inverse {
		return "blacklist"
	}
	return "whitelist"
}
