// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gopkg.in/telebot.v4"

	"github.com/jeranaias/gemgram/internal/config"
	"github.com/jeranaias/gemgram/internal/gemini"
	"github.com/jeranaias/gemgram/internal/markdown"
	"github.com/jeranaias/gemgram/internal/metrics"
	"github.com/jeranaias/gemgram/internal/storage"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Store is the conversation persistence the bot depends on.
// Implemented by *storage.Store.
type Store interface {
	AppendTurn(ctx context.Context, key storage.ConvKey, role, content string) error
	History(ctx context.Context, key storage.ConvKey, limit int) ([]storage.Turn, error)
	ClearHistory(ctx context.Context, key storage.ConvKey) (int64, error)
	Model(ctx context.Context, key storage.ConvKey) (string, bool, error)
	SetModel(ctx context.Context, key storage.ConvKey, model string) error
}

// Generator produces model replies. Implemented by *gemini.Client.
type Generator interface {
	Generate(ctx context.Context, model string, req *gemini.GenerateRequest) (*gemini.GenerateResponse, error)
}

// =============================================================================
// BOT
// =============================================================================

// Bot is the assembled Telegram bot.
type Bot struct {
	cfg      *config.Config
	tb       *telebot.Bot
	store    Store
	llm      Generator
	pipeline *markdown.Pipeline
	rec      *metrics.Recorder
	log      *logrus.Logger
	limiter  *rate.Limiter

	locks convLocks

	// deniedOnce tracks users already told they lack access, so an
	// unauthorized user spamming the bot produces one reply, not many
	deniedMu   sync.Mutex
	deniedOnce map[int64]bool
}

// New builds the bot and registers all handlers. rec may be nil when
// metrics are disabled.
func New(cfg *config.Config, store Store, llm Generator, rec *metrics.Recorder, log *logrus.Logger) (*Bot, error) {
	pipeline, err := renderPipeline(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build render pipeline: %w", err)
	}

	tb, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.Telegram.Token,
		Poller: &telebot.LongPoller{Timeout: cfg.Telegram.PollTimeout()},
		OnError: func(err error, c telebot.Context) {
			log.WithError(err).Error("telegram handler error")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	b := &Bot{
		cfg:        cfg,
		tb:         tb,
		store:      store,
		llm:        llm,
		pipeline:   pipeline,
		rec:        rec,
		log:        log,
		limiter:    rate.NewLimiter(rate.Limit(cfg.Telegram.SendRatePerSec), 1),
		deniedOnce: make(map[int64]bool),
	}
	b.registerHandlers()
	return b, nil
}

// renderPipeline builds the outbound pipeline from config: Telegram's
// dialect defaults with the configured message limit.
func renderPipeline(cfg *config.Config) (*markdown.Pipeline, error) {
	opts := markdown.DefaultOptions()
	opts.Limit = cfg.Render.MessageLimit
	return markdown.NewPipeline(opts)
}

func (b *Bot) registerHandlers() {
	b.tb.Use(b.accessControl)

	b.tb.Handle("/start", b.onStart)
	b.tb.Handle("/clear", b.onClear)
	b.tb.Handle("/model", b.onModel)
	b.tb.Handle(&telebot.Btn{Unique: pickModelUnique}, b.onModelPick)
	b.tb.Handle(telebot.OnText, b.onText)
	b.tb.Handle(telebot.OnPhoto, b.onPhoto)
	b.tb.Handle(telebot.OnAddedToGroup, b.onAddedToGroup)
}

// Start begins long polling. Blocks until Stop is called.
func (b *Bot) Start() {
	b.log.WithField("bot", b.tb.Me.Username).Info("bot started")
	b.tb.Start()
}

// Stop terminates long polling.
func (b *Bot) Stop() {
	b.tb.Stop()
}

// =============================================================================
// CONVERSATION KEYS
// =============================================================================

// convKey derives the storage key for a message. Forum topics get their
// own history; plain chats map to thread 0.
func convKey(m *telebot.Message) storage.ConvKey {
	key := storage.ConvKey{ChatID: m.Chat.ID}
	if m.TopicMessage {
		key.ThreadID = int64(m.ThreadID)
	}
	return key
}

// convLocks serializes the read-generate-append cycle per conversation,
// so two quick messages in the same chat can't interleave their history
// writes. Distinct conversations proceed in parallel.
type convLocks struct {
	mu sync.Mutex
	m  map[storage.ConvKey]*sync.Mutex
}

func (l *convLocks) lock(key storage.ConvKey) *sync.Mutex {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[storage.ConvKey]*sync.Mutex)
	}
	lk, ok := l.m[key]
	if !ok {
		lk = &sync.Mutex{}
		l.m[key] = lk
	}
	l.mu.Unlock()

	lk.Lock()
	return lk
}
