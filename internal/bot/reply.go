// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v4"

	"github.com/jeranaias/gemgram/internal/gemini"
	"github.com/jeranaias/gemgram/internal/markdown"
	"github.com/jeranaias/gemgram/internal/storage"
)

// =============================================================================
// REPLY PATH
// =============================================================================

// respond runs the full exchange for one inbound message: load history,
// call Gemini, persist both turns, render the reply, and deliver the
// chunks. historyEntry is what gets stored for the user turn (photos
// store a placeholder, not the image bytes).
func (b *Bot) respond(c telebot.Context, parts []gemini.Part, historyEntry string) error {
	key := convKey(c.Message())

	lk := b.locks.lock(key)
	defer lk.Unlock()

	logger := b.log.WithFields(logrus.Fields{
		"conv":       key.String(),
		"request_id": uuid.NewString()[:8],
	})

	if err := c.Notify(telebot.Typing); err != nil {
		logger.WithError(err).Debug("typing notification failed")
	}

	model, ok, err := b.store.Model(context.Background(), key)
	if err != nil {
		logger.WithError(err).Error("failed to read model selection")
	}
	if !ok {
		model = b.cfg.Gemini.DefaultModel
	}

	history, err := b.store.History(context.Background(), key, b.cfg.Render.HistoryLimit)
	if err != nil {
		logger.WithError(err).Error("failed to load history")
		return c.Send("Something went wrong, try again.")
	}

	req := b.buildRequest(history, parts)

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Gemini.RequestTimeout())
	defer cancel()

	start := time.Now()
	resp, err := b.llm.Generate(ctx, model, req)
	b.rec.ObserveGenerateDuration(time.Since(start))
	if err != nil {
		category, userMsg := describeGenerateError(err)
		b.rec.IncProviderError(category)
		logger.WithError(err).WithField("category", category).Error("generate failed")
		return c.Send(userMsg)
	}
	reply := resp.Text()

	logger.WithFields(logrus.Fields{
		"model":    model,
		"duration": time.Since(start).Round(time.Millisecond).String(),
		"history":  len(history),
	}).Info("reply generated")

	if err := b.store.AppendTurn(context.Background(), key, storage.RoleUser, historyEntry); err != nil {
		logger.WithError(err).Error("failed to store user turn")
	}
	if err := b.store.AppendTurn(context.Background(), key, storage.RoleModel, reply); err != nil {
		logger.WithError(err).Error("failed to store model turn")
	}

	renderStart := time.Now()
	result := b.pipeline.Render(reply)
	b.rec.ObserveRenderDuration(time.Since(renderStart))
	for i := 0; i < result.Demoted(); i++ {
		b.rec.IncDemotion()
	}

	return b.deliver(c, logger, result)
}

// buildRequest assembles the generateContent payload: optional system
// instruction, stored turns in order, then the new user parts.
func (b *Bot) buildRequest(history []storage.Turn, parts []gemini.Part) *gemini.GenerateRequest {
	req := &gemini.GenerateRequest{}

	if si := b.cfg.Gemini.SystemInstruction; si != "" {
		sys := gemini.TextContent(gemini.RoleUser, si)
		req.SystemInstruction = &sys
	}

	for _, turn := range history {
		role := gemini.RoleUser
		if turn.Role == storage.RoleModel {
			role = gemini.RoleModel
		}
		req.Contents = append(req.Contents, gemini.TextContent(role, turn.Content))
	}

	req.Contents = append(req.Contents, gemini.Content{Role: gemini.RoleUser, Parts: parts})
	return req
}

// describeGenerateError maps a Gemini client failure to a metric label
// and a message fit for the chat.
func describeGenerateError(err error) (category, userMsg string) {
	switch {
	case errors.Is(err, gemini.ErrModelNotFound):
		return "model_not_found", "That model isn't available. Use /model to pick another."
	case errors.Is(err, gemini.ErrUnauthorized):
		return "unauthorized", "The Gemini API rejected my credentials. This needs operator attention."
	case errors.Is(err, gemini.ErrRateLimited):
		return "rate_limited", "I'm being rate limited. Give it a minute and try again."
	case errors.Is(err, gemini.ErrTimeout):
		return "timeout", "The model took too long to answer. Try again."
	default:
		return "other", "Something went wrong talking to the model, try again."
	}
}

// =============================================================================
// DELIVERY
// =============================================================================

// deliver sends the rendered chunks in order under the global rate limit.
// A chunk whose markup Telegram rejects is resent fully escaped, and as
// raw text if even that fails.
func (b *Bot) deliver(c telebot.Context, logger *logrus.Entry, result markdown.Result) error {
	threadID := 0
	if m := c.Message(); m != nil && m.TopicMessage {
		threadID = m.ThreadID
	}

	for i, chunk := range result.Chunks {
		if err := b.limiter.Wait(context.Background()); err != nil {
			return err
		}
		if chunk.Oversized {
			b.rec.IncOversized()
			logger.WithField("chunk", i).Warn("oversized chunk sent as-is")
		}

		switch chunk.Mode {
		case markdown.ModeMarkup:
			err := c.Send(chunk.Text, &telebot.SendOptions{
				ParseMode: telebot.ModeMarkdownV2,
				ThreadID:  threadID,
			})
			if err == nil {
				b.rec.IncChunk("MarkdownV2")
				continue
			}
			logger.WithError(err).WithField("chunk", i).Warn("markup send rejected, retrying escaped")

			err = c.Send(markdown.Escape(chunk.Text), &telebot.SendOptions{
				ParseMode: telebot.ModeMarkdownV2,
				ThreadID:  threadID,
			})
			if err == nil {
				b.rec.IncChunk("escaped")
				continue
			}
			logger.WithError(err).WithField("chunk", i).Warn("escaped send rejected, sending plain")

			if err := c.Send(chunk.Text, &telebot.SendOptions{ThreadID: threadID}); err != nil {
				return err
			}
			b.rec.IncChunk("plain")

		case markdown.ModePlain:
			if err := c.Send(chunk.Text, &telebot.SendOptions{ThreadID: threadID}); err != nil {
				return err
			}
			b.rec.IncChunk("plain")
		}
	}
	return nil
}
