package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"catalog_bot/internal/broadcast"
	"catalog_bot/internal/model"
)

const (
	messageLimit = 4096
	captionLimit = 1024
	dateLayout   = "2006-01-02 15:04"
)

// SplitMessage breaks text into chunks within Telegram's message size limit,
// preferring newline boundaries.
func SplitMessage(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= messageLimit {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + messageLimit
		if end >= len(runes) {
			if chunk := strings.Trim(string(runes[start:]), "\n"); chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}

		split := end
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				split = i
				break
			}
		}

		if chunk := strings.Trim(string(runes[start:split]), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		start = split
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}
	return parts
}

// FormatItemCaption renders the caption sent with an item's payload.
func FormatItemCaption(item model.Item) string {
	var b strings.Builder
	b.WriteString(item.Title)
	if item.Year > 0 {
		fmt.Fprintf(&b, " (%d)", item.Year)
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Rating: %s\n", formatRating(item.Rating, item.RatingCount))
	fmt.Fprintf(&b, "Views: %d | Downloads: %d\n", item.Views, item.Downloads)
	if item.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", item.Category)
	}
	if item.Duration != "" {
		fmt.Fprintf(&b, "Duration: %s\n", item.Duration)
	}
	fmt.Fprintf(&b, "Code: %s", item.Code)

	head := b.String()
	if item.Description == "" {
		return head
	}
	room := captionLimit - utf8.RuneCountInString(head) - 2
	if room < 20 {
		return head
	}
	return head + "\n\n" + truncate(item.Description, room)
}

// FormatPartCaption renders the caption of one part of a multi-part item.
func FormatPartCaption(item model.Item, part model.ItemPart) string {
	return fmt.Sprintf("%s\n%s\nCode: %s", item.Title, part.Title, item.Code)
}

func formatRating(rating float64, count int) string {
	if count == 0 {
		return "not rated yet"
	}
	return fmt.Sprintf("%.1f/5 (%d votes)", rating, count)
}

// FormatItemList renders a numbered list of items starting at offset+1.
func FormatItemList(title string, items []model.Item, offset int) string {
	if len(items) == 0 {
		return title + "\n\nNothing here yet."
	}
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	for i, it := range items {
		fmt.Fprintf(&b, "\n%d. %s [%s] - %d views", offset+i+1, it.Title, it.Code, it.Views)
		if !it.IsActive {
			b.WriteString(" (deleted)")
		}
	}
	return b.String()
}

// FormatSearchPage renders one page of search results.
func FormatSearchPage(query string, items []model.Item, total, page int) string {
	if total == 0 {
		return fmt.Sprintf("Nothing found for %q.", query)
	}
	pages := (total + searchPageSize - 1) / searchPageSize
	title := fmt.Sprintf("Results for %q: %d found, page %d of %d", query, total, page+1, pages)
	return FormatItemList(title, items, page*searchPageSize)
}

// FormatStatistics renders the admin statistics snapshot.
func FormatStatistics(st model.Statistics) string {
	return fmt.Sprintf(`Statistics

Users: %d total, %d active, %d blocked, %d premium
Today: %d new, %d active

Items: %d total, %d active
Views: %d
Downloads: %d

Mandatory channels: %d`,
		st.TotalUsers, st.ActiveUsers, st.BlockedUsers, st.PremiumUsers,
		st.TodayNewUsers, st.TodayActiveUsers,
		st.TotalItems, st.ActiveItems, st.TotalViews, st.TotalDownloads,
		st.MandatoryChannels)
}

// FormatProfile renders a user's own profile.
func FormatProfile(u model.User, favorites int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Profile\n\nName: %s\n", displayName(u))
	if u.Handle != "" {
		fmt.Fprintf(&b, "Username: @%s\n", u.Handle)
	}
	fmt.Fprintf(&b, "ID: %d\n", u.ID)
	fmt.Fprintf(&b, "Joined: %s\n", u.JoinedAt.Format(dateLayout))
	fmt.Fprintf(&b, "Downloads: %d\n", u.TotalDownloads)
	fmt.Fprintf(&b, "Favorites: %d", favorites)
	return b.String()
}

// FormatUserList renders users for the admin panel.
func FormatUserList(title string, users []model.User) string {
	if len(users) == 0 {
		return title + "\n\nNo users found."
	}
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	for _, u := range users {
		fmt.Fprintf(&b, "\n%d - %s", u.ID, displayName(u))
		if u.Handle != "" {
			fmt.Fprintf(&b, " (@%s)", u.Handle)
		}
		var flags []string
		if u.IsAdmin {
			flags = append(flags, "admin")
		}
		if u.IsBlocked {
			flags = append(flags, "blocked")
		}
		if len(flags) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(flags, ", "))
		}
		if !u.LastActiveAt.IsZero() {
			fmt.Fprintf(&b, ", last seen %s", u.LastActiveAt.Format(dateLayout))
		}
	}
	return b.String()
}

// FormatChannelList renders the gate channels.
func FormatChannelList(channels []model.Channel) string {
	if len(channels) == 0 {
		return "No channels configured."
	}
	var b strings.Builder
	b.WriteString("Channels:\n")
	for _, ch := range channels {
		mode := "optional"
		if ch.IsMandatory {
			mode = "mandatory"
		}
		fmt.Fprintf(&b, "\n#%d %s (%s, %s)\n   %s", ch.ID, ch.Name, kindName(ch.Kind), mode, ch.URL)
	}
	return b.String()
}

// FormatReport renders a broadcast summary or progress line.
func FormatReport(r broadcast.Report, finished bool) string {
	if !finished {
		return fmt.Sprintf("Broadcasting... %d of %d (sent %d, failed %d)", r.Done(), r.Total, r.Sent, r.Failed)
	}
	return fmt.Sprintf("Broadcast finished.\nRecipients: %d\nSent: %d\nFailed: %d\nRun: %s", r.Total, r.Sent, r.Failed, r.RunID)
}

func displayName(u model.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Handle != "" {
		return "@" + u.Handle
	}
	return fmt.Sprintf("user %d", u.ID)
}

func kindName(k model.ChannelKind) string {
	switch k {
	case model.ChannelTelegram:
		return "Telegram"
	case model.ChannelInstagram:
		return "Instagram"
	case model.ChannelYouTube:
		return "YouTube"
	case model.ChannelWebsite:
		return "Website"
	}
	return string(k)
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}
