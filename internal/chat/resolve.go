// Package chat resolves decoded GeoChat events into stable message
// identities: scope (group vs direct), sender, recipient and the
// conversation key that groups a thread.
package chat

import "strings"

// GroupConversationID is the single conversation shared by all
// group-scope messages, regardless of which sentinel chatroom name the
// sending implementation used.
const GroupConversationID = "All Chat Rooms"

// groupChatroomRules is the ordered list of matchers that recognize a
// chatroom value as group scope. TAK implementations disagree on the
// exact sentinel string, so the list is deliberately permissive; adding
// a new vendor spelling is one entry here, not new control flow.
var groupChatroomRules = []func(string) bool{
	func(s string) bool { return s == "" },
	func(s string) bool { return s == "All Chat Rooms" },
	func(s string) bool { return s == "AllChatRooms" },
	func(s string) bool { return strings.Contains(strings.ToLower(s), "all chat") },
	func(s string) bool { return strings.EqualFold(s, "broadcast") },
}

// ClassifyScope decides whether a chatroom value addresses the whole
// network or a single contact. Classification never fails: an unknown or
// absent chatroom is treated as group scope, so a message from an
// unrecognized implementation shows up in the consolidated stream
// instead of being silently dropped.
func ClassifyScope(chatroom string) Scope {
	for _, match := range groupChatroomRules {
		if match(chatroom) {
			return ScopeGroup
		}
	}
	return ScopeDirect
}

// DeriveConversationID computes the conversation key for a message.
// Group messages all share GroupConversationID. Direct messages key on
// the lexicographically sorted participant pair, so both sides of a
// conversation compute the same id whichever direction a message flows.
func DeriveConversationID(scope Scope, participantA, participantB string) string {
	if scope == ScopeGroup {
		return GroupConversationID
	}
	lo, hi := participantA, participantB
	if lo > hi {
		lo, hi = hi, lo
	}
	return "DM-" + lo + "-" + hi
}

// DeriveRecipient extracts the recipient identity of a direct message
// from the chatroom value and the chat-group's secondary uid field. The
// display name is the chatroom value. The uid field is trusted only when
// it differs from the display name, because some implementations echo
// the callsign into it.
func DeriveRecipient(scope Scope, chatroom, chatGroupUID1 string) (id, callsign string) {
	if scope != ScopeDirect {
		return "", ""
	}
	callsign = chatroom
	if chatGroupUID1 != "" && chatGroupUID1 != chatroom {
		id = chatGroupUID1
	}
	return id, callsign
}
