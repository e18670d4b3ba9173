package bot

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/magnetoid/nisam-video-sub001/internal/model"
)

// FilterArgs holds the parsed arguments of a filter command.
type FilterArgs struct {
	ChannelID int64
	Scope     model.FilterScope
	Value     string
}

// ParseFilterCommand parses arguments for /include, /exclude, etc.
// Format: <channel_id> [-s title|content|all] <value...>
func ParseFilterCommand(args string) (FilterArgs, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return FilterArgs{}, fmt.Errorf("usage: <channel_id> [-s title|content|all] <value>")
	}

	channelID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return FilterArgs{}, fmt.Errorf("invalid channel ID %q", parts[0])
	}

	scope := model.ScopeAll
	rest := parts[1:]

	if len(rest) >= 2 && rest[0] == "-s" {
		switch rest[1] {
		case "title":
			scope = model.ScopeTitle
		case "content":
			scope = model.ScopeContent
		case "all":
			scope = model.ScopeAll
		default:
			return FilterArgs{}, fmt.Errorf("invalid scope %q, use: title, content, all", rest[1])
		}
		rest = rest[2:]
	}

	if len(rest) == 0 {
		return FilterArgs{}, fmt.Errorf("filter value is required")
	}

	return FilterArgs{
		ChannelID: channelID,
		Scope:     scope,
		Value:     strings.Join(rest, " "),
	}, nil
}

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}

// ParseHoursArg parses the scheduler interval in hours. Fractions are allowed.
func ParseHoursArg(args string) (float64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("usage: /interval <hours>")
	}
	h, err := strconv.ParseFloat(s, 64)
	if err != nil || h <= 0 || math.IsInf(h, 0) || math.IsNaN(h) {
		return 0, fmt.Errorf("interval must be a positive number of hours")
	}
	return h, nil
}

// ParseAddChannelArgs extracts a YouTube channel ID and an optional display name.
func ParseAddChannelArgs(args string) (string, string, error) {
	parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("usage: /addchannel <channel_id> [name]")
	}
	if !strings.HasPrefix(parts[0], "UC") {
		return "", "", fmt.Errorf("invalid channel ID %q, expected UC...", parts[0])
	}
	var name string
	if len(parts) == 2 {
		name = strings.TrimSpace(parts[1])
	}
	return parts[0], name, nil
}
