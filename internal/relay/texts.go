package relay

import (
	"fmt"
	"strconv"
	"strings"

	"relaybot/internal/transport"
)

const DefaultWelcome = "🎬 Welcome!\n\n" +
	"If you're looking for something, feel free to request it here.\n" +
	"We will try our best to provide it for you. 🍿"

const (
	txtNonText         = "[Non-text message]"
	txtNoUsername      = "No username"
	txtNoUserForReply  = "❌ No user found for this message."
	txtReplyBlocked    = "🚫 This user is blocked."
	txtReplyNeedsText  = "⚠ Only text replies can be relayed."
	txtAdminHint       = "⚠ Use /sendall or reply to a user's message."
	txtBroadcastPrompt = "📝 Send the message you want to broadcast.\nUse /cancel to abort."
	txtBroadcastText   = "⚠ A broadcast needs a text message. Send text or /cancel."
	txtBroadcastBusy   = "⏳ A broadcast is still running. Send the text again when it has finished, or /cancel."
	txtBroadcastStart  = "📣 Broadcast started. A report follows when it finishes."
	txtCancelled       = "✖ Broadcast cancelled."
	txtNothingToCancel = "ℹ Nothing to cancel."
	txtInvalidUserID   = "❗ Invalid user ID."
	txtNoBlocked       = "✅ No blocked users."
)

const txtHelp = "Admin commands:\n" +
	"/sendall - broadcast the next message to every user\n" +
	"/cancel - abort a pending broadcast\n" +
	"/block <user_id> - stop relaying a user\n" +
	"/unblock <user_id> - relay a user again\n" +
	"/blocked - list blocked users\n" +
	"/stats - show relay counters\n\n" +
	"Reply to a forwarded message to answer its sender."

func usageText(cmd string) string {
	return "ℹ Usage: /" + cmd + " <user_id>"
}

func forwardText(m *transport.Message) string {
	username := txtNoUsername
	if m.FromUsername != "" {
		username = "@" + m.FromUsername
	}
	body := txtNonText
	if m.HasText && m.Text != "" {
		body = m.Text
	}
	var b strings.Builder
	b.WriteString("📩 New Message Received!\n")
	fmt.Fprintf(&b, "From    : %s\n", m.DisplayName())
	fmt.Fprintf(&b, "Username: %s\n", username)
	fmt.Fprintf(&b, "UserID  : %d\n\n", m.FromID)
	b.WriteString(body)
	return b.String()
}

func blockedListText(ids []int64) string {
	if len(ids) == 0 {
		return txtNoBlocked
	}
	var b strings.Builder
	b.WriteString("🚫 Blocked Users:")
	for _, id := range ids {
		b.WriteByte('\n')
		b.WriteString(strconv.FormatInt(id, 10))
	}
	return b.String()
}

func broadcastDoneText(delivered, failed int) string {
	s := fmt.Sprintf("✅ Broadcast sent to %d users.", delivered)
	if failed > 0 {
		s += fmt.Sprintf("\n⚠ %d deliveries failed.", failed)
	}
	return s
}

func statsText(st Stats) string {
	return fmt.Sprintf("📊 Relay stats\nKnown users: %d\nBlocked users: %d\nForwarded messages: %d",
		st.KnownUsers, st.BlockedUsers, st.Forwarded)
}

// withPersistWarning appends a notice when a state change was applied in
// memory but not saved.
func withPersistWarning(text string, err error) string {
	if err == nil {
		return text
	}
	return text + "\n⚠ Not saved to storage: " + err.Error()
}
