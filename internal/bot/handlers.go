// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v4"

	"github.com/jeranaias/gemgram/internal/gemini"
)

const pickModelUnique = "pick_model"

const startText = `Hi! I'm a Gemini-backed assistant.

Send me a message (or a photo) and I'll reply. In forum groups each
topic keeps its own conversation.

Commands:
/clear - forget this conversation
/model - choose the Gemini model`

// =============================================================================
// COMMANDS
// =============================================================================

func (b *Bot) onStart(c telebot.Context) error {
	b.rec.IncMessage("command")
	return c.Send(startText)
}

func (b *Bot) onClear(c telebot.Context) error {
	b.rec.IncMessage("command")
	key := convKey(c.Message())

	lk := b.locks.lock(key)
	defer lk.Unlock()

	n, err := b.store.ClearHistory(context.Background(), key)
	if err != nil {
		b.log.WithError(err).WithField("conv", key.String()).Error("failed to clear history")
		return c.Send("Couldn't clear the conversation, try again.")
	}
	if n == 0 {
		return c.Send("Nothing to clear.")
	}
	return c.Send(fmt.Sprintf("Cleared %d messages.", n))
}

func (b *Bot) onModel(c telebot.Context) error {
	b.rec.IncMessage("command")
	key := convKey(c.Message())

	current, ok, err := b.store.Model(context.Background(), key)
	if err != nil {
		b.log.WithError(err).WithField("conv", key.String()).Error("failed to read model selection")
	}
	if !ok {
		current = b.cfg.Gemini.DefaultModel
	}

	menu := &telebot.ReplyMarkup{}
	var rows []telebot.Row
	for _, m := range b.cfg.Gemini.ModelOptions {
		label := m
		if m == current {
			label = "• " + m
		}
		rows = append(rows, menu.Row(menu.Data(label, pickModelUnique, m)))
	}
	menu.Inline(rows...)

	return c.Send(fmt.Sprintf("Current model: %s\n\nChoose a model:", current), menu)
}

func (b *Bot) onModelPick(c telebot.Context) error {
	model := strings.TrimSpace(c.Data())

	valid := false
	for _, m := range b.cfg.Gemini.ModelOptions {
		if m == model {
			valid = true
			break
		}
	}
	if !valid {
		return c.Respond(&telebot.CallbackResponse{Text: "Unknown model."})
	}

	key := convKey(c.Message())
	if err := b.store.SetModel(context.Background(), key, model); err != nil {
		b.log.WithError(err).WithField("conv", key.String()).Error("failed to store model selection")
		return c.Respond(&telebot.CallbackResponse{Text: "Couldn't save the selection."})
	}

	b.log.WithFields(logrus.Fields{
		"conv":  key.String(),
		"model": model,
	}).Info("model selected")

	_ = c.Edit("Model set to " + model + ".")
	return c.Respond(&telebot.CallbackResponse{Text: "Model set."})
}

// =============================================================================
// MESSAGES
// =============================================================================

func (b *Bot) onText(c telebot.Context) error {
	b.rec.IncMessage("text")
	text := c.Message().Text
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return b.respond(c, []gemini.Part{{Text: text}}, text)
}

func (b *Bot) onPhoto(c telebot.Context) error {
	b.rec.IncMessage("photo")
	photo := c.Message().Photo
	if photo == nil {
		return nil
	}

	rc, err := b.tb.File(&photo.File)
	if err != nil {
		b.log.WithError(err).Error("failed to download photo")
		return c.Send("Couldn't download that photo, try again.")
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		b.log.WithError(err).Error("failed to read photo")
		return c.Send("Couldn't download that photo, try again.")
	}

	parts, entry := photoParts(c.Message().Caption, data)
	return b.respond(c, parts, entry)
}

// photoParts builds the prompt for a relayed photo. A photo without a
// caption still needs a text part, so the model gets asked to describe
// it; history records a placeholder either way.
func photoParts(caption string, data []byte) (parts []gemini.Part, entry string) {
	prompt := caption
	entry = "[Image] " + caption
	if caption == "" {
		prompt = "Describe this image"
		entry = "[Image]"
	}
	parts = []gemini.Part{
		{Text: prompt},
		{InlineData: &gemini.InlineData{
			MIMEType: "image/jpeg",
			Data:     base64.StdEncoding.EncodeToString(data),
		}},
	}
	return parts, entry
}
