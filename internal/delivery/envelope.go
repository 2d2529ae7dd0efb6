package delivery

import (
	"fmt"
	"strings"
)

// Reply-hint envelope constants. The opening/closing tags and the
// mcp__relaycast__* tool names are stable protocol surface, not tunable
// configuration.
const (
	EnvelopeOpenTag  = "<system-reminder>"
	EnvelopeCloseTag = "</system-reminder>"

	ToolSendDM       = "mcp__relaycast__send_dm"
	ToolPostMessage  = "mcp__relaycast__post_message"
	ToolReplyThread  = "mcp__relaycast__reply_to_thread"
	ToolCheckInbox   = "mcp__relaycast__check_inbox"
)

// shortID returns a short fingerprint of a delivery ID, long enough to be a
// safe substring match against PTY echo but short enough to stay out of the
// way of the human-readable message.
func shortID(deliveryID string) string {
	if len(deliveryID) <= 8 {
		return deliveryID
	}
	return deliveryID[:8]
}

// Compose builds the single system-reminder-wrapped envelope injected for
// pd: exactly one opening tag, one closing tag, a human-readable restatement
// of the message, and a machine-parseable reply hint naming the MCP tool the
// agent should call back.
func Compose(pd *PendingDelivery) string {
	var b strings.Builder
	b.WriteString(EnvelopeOpenTag)
	b.WriteByte('\n')

	channelSuffix := ""
	if pd.Channel != "" {
		channelSuffix = " #" + pd.Channel
	}
	fmt.Fprintf(&b, "Relay message from %s [%s]%s: %s\n", pd.From, shortID(pd.DeliveryID), channelSuffix, pd.Text)

	b.WriteString(replyHint(pd))
	b.WriteString(EnvelopeCloseTag)
	return b.String()
}

func replyHint(pd *PendingDelivery) string {
	var b strings.Builder
	switch {
	case pd.ThreadID != "":
		fmt.Fprintf(&b, "To reply in this thread, call %s with thread_id=%q.\n", ToolReplyThread, pd.ThreadID)
	case pd.Channel != "":
		fmt.Fprintf(&b, "To reply, call %s with channel=%q.\n", ToolPostMessage, pd.Channel)
	default:
		fmt.Fprintf(&b, "To reply, call %s.\n", ToolSendDM)
	}
	fmt.Fprintf(&b, "You can also call %s to see pending messages.\n", ToolCheckInbox)
	return b.String()
}
