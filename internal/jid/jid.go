// Package jid classifies WhatsApp chat identifiers.
package jid

import (
	"fmt"
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

var sendable = regexp.MustCompile(`^\d+@(s\.whatsapp\.net|g\.us)$`)

// Parse parses s into a whatsmeow JID. Only numeric user and group JIDs on
// the default servers are accepted.
func Parse(s string) (types.JID, error) {
	if !sendable.MatchString(s) {
		return types.JID{}, fmt.Errorf("invalid JID %q: expected 1234567890@s.whatsapp.net or 123456789@g.us", s)
	}
	j, err := types.ParseJID(s)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid JID %q: %w", s, err)
	}
	return j, nil
}

// IsGroup reports whether s addresses a group chat.
func IsGroup(s string) bool {
	return strings.HasSuffix(s, "@"+types.GroupServer)
}

// User returns the part before the server, or s unchanged if it has none.
func User(s string) string {
	if i := strings.IndexByte(s, '@'); i >= 0 {
		return s[:i]
	}
	return s
}

// DirectSuffix is the LIKE-pattern suffix for one-to-one chats.
const DirectSuffix = "@" + types.DefaultUserServer
