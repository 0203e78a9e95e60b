// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v4"
)

// =============================================================================
// ACCESS CONTROL
// =============================================================================

// accessControl drops updates from users outside the allowlist. The first
// rejected update per user gets a short notice; later ones are ignored
// silently.
func (b *Bot) accessControl(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}
		// join events pass through so onAddedToGroup can leave the chat
		if m := c.Message(); m != nil && (m.UserJoined != nil || len(m.UsersJoined) > 0) {
			return next(c)
		}
		if b.cfg.Telegram.Allowed(sender.ID) {
			return next(c)
		}

		b.log.WithFields(logrus.Fields{
			"user_id":  sender.ID,
			"username": sender.Username,
		}).Warn("rejected unauthorized user")
		b.rec.IncMessage("denied")

		if b.firstDenial(sender.ID) {
			return c.Send("Sorry, this bot is private.")
		}
		return nil
	}
}

// firstDenial reports whether this is the first rejected update from the
// user, and marks them seen.
func (b *Bot) firstDenial(userID int64) bool {
	b.deniedMu.Lock()
	defer b.deniedMu.Unlock()
	if b.deniedOnce[userID] {
		return false
	}
	b.deniedOnce[userID] = true
	return true
}

// onAddedToGroup leaves immediately if whoever added the bot is not on
// the allowlist.
func (b *Bot) onAddedToGroup(c telebot.Context) error {
	sender := c.Sender()
	if sender != nil && b.cfg.Telegram.Allowed(sender.ID) {
		b.log.WithField("chat_id", c.Chat().ID).Info("added to group")
		return nil
	}

	b.log.WithField("chat_id", c.Chat().ID).Warn("added to group by unauthorized user, leaving")
	_ = c.Send("This bot is private; leaving.")
	return b.tb.Leave(c.Chat())
}
