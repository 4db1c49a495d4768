// Package command parses free-text user input into a Command.
package command

import (
	"errors"
	"strings"

	"github.com/w3f/ack-escalation/internal/alertmodel"
)

// ErrInvalidCommand is returned when the input matches the "ack"/
// "acknowledge" shape but the id token does not parse.
var ErrInvalidCommand = errors.New("command: invalid command")

// Parse normalises input (collapse runs of spaces, lower-case, trim) and
// matches it against the command grammar. A nil, nil return means the
// input silently doesn't match anything recognised — not an error.
func Parse(input string) (*alertmodel.Command, error) {
	normalized := normalize(input)

	switch normalized {
	case "pending":
		c := alertmodel.PendingCommand()
		return &c, nil
	case "help":
		c := alertmodel.HelpCommand()
		return &c, nil
	}

	tokens := strings.Split(normalized, " ")
	if len(tokens) == 2 && (tokens[0] == "ack" || tokens[0] == "acknowledge") {
		id, err := alertmodel.ParseAlertId(tokens[1])
		if err != nil {
			return nil, ErrInvalidCommand
		}
		c := alertmodel.AckCommand(id)
		return &c, nil
	}

	return nil, nil
}

// normalize collapses runs of two spaces to one, lower-cases, and trims.
// Applied repeatedly so that longer runs of whitespace fully collapse.
func normalize(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return s
}

// Format renders a Command back to its canonical textual form, the
// inverse of Parse for every Command Parse can produce.
func Format(c alertmodel.Command) string {
	switch c.Kind {
	case alertmodel.CommandKindPending:
		return "pending"
	case alertmodel.CommandKindHelp:
		return "help"
	case alertmodel.CommandKindAck:
		return "ack " + c.Id.String()
	default:
		return ""
	}
}
