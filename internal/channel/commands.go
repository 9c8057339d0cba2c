package channel

import (
	"fmt"
	"strings"
)

// ChatCommand represents a parsed chat command.
type ChatCommand struct {
	Name string   // command name without "/" or "@botname"
	Args []string // arguments after the command
	Raw  string   // original full text
}

// ParseCommand checks if a message starts with "/" and parses it into a ChatCommand.
// Returns nil if the message is not a command.
func ParseCommand(text string) *ChatCommand {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil
	}

	name := strings.TrimPrefix(parts[0], "/")
	// Group chats address commands as /property@insight_bot.
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return nil
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return &ChatCommand{
		Name: strings.ToLower(name),
		Args: args,
		Raw:  text,
	}
}

func helpText() string {
	return `InsightBot answers questions about your GA4 traffic and your site's SEO crawl.

Examples:
• Sessions by device category over the last 7 days
• Which URLs have titles longer than 60 characters?
• Top 10 pages by views and their title tags

Commands:
/property <id> - Set the GA4 property for this chat
/property - Show the current property
/help - Show this message`
}

func propertyText(id string) string {
	if id == "" {
		return "No GA4 property set. Use /property <id> to set one. SEO questions work without it."
	}
	return fmt.Sprintf("GA4 property: %s", id)
}
