package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"stockwatch/internal/model"
)

const filterUsage = "usage: /filter_add <alert_id> [-k text|pattern] [-m blacklist|whitelist] [-s title|id] <value>"

// FilterArgs holds the parsed arguments of a filter command.
type FilterArgs struct {
	AlertID int64
	Kind    model.FilterKind
	Target  model.FilterTarget
	Inverse bool
	Value   string
}

// ParseFilterCommand parses arguments for /filter_add.
// Format: <alert_id> [-k text|pattern] [-m blacklist|whitelist] [-s title|id] <value...>
// Filters are text blacklists on the title unless flags say otherwise.
func ParseFilterCommand(args string) (FilterArgs, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return FilterArgs{}, errors.New(filterUsage)
	}

	alertID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return FilterArgs{}, fmt.Errorf("invalid alert ID %q", parts[0])
	}

	fa := FilterArgs{
		AlertID: alertID,
		Kind:    model.FilterText,
		Target:  model.TargetTitle,
		Inverse: true,
	}
	rest := parts[1:]

flags:
	for len(rest) >= 2 {
		switch rest[0] {
		case "-k":
			switch rest[1] {
			case "text":
				fa.Kind = model.FilterText
			case "pattern", "regex":
				fa.Kind = model.FilterPattern
			default:
				return FilterArgs{}, fmt.Errorf("invalid kind %q, use: text, pattern", rest[1])
			}
		case "-m":
			switch rest[1] {
			case "blacklist":
				fa.Inverse = true
			case "whitelist":
				fa.Inverse = false
			default:
				return FilterArgs{}, fmt.Errorf("invalid mode %q, use: blacklist, whitelist", rest[1])
			}
		case "-s":
			switch rest[1] {
			case "title":
				fa.Target = model.TargetTitle
			case "id":
				fa.Target = model.TargetID
			default:
				return FilterArgs{}, fmt.Errorf("invalid scope %q, use: title, id", rest[1])
			}
		default:
			break flags
		}
		rest = rest[2:]
	}

	if len(rest) == 0 {
		return FilterArgs{}, fmt.Errorf("filter value is required")
	}
	fa.Value = strings.Join(rest, " ")
	return fa, nil
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

// ParseQuery normalizes a search query argument.
func ParseQuery(args string) (string, error) {
	q := strings.Join(strings.Fields(args), " ")
	if q == "" {
		return "", fmt.Errorf("search query is required")
	}
	return q, nil
}
