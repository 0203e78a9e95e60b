// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"gopkg.in/telebot.v4"

	"github.com/jeranaias/gemgram/internal/config"
	"github.com/jeranaias/gemgram/internal/gemini"
	"github.com/jeranaias/gemgram/internal/storage"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// memStore is an in-memory Store for handler tests.
type memStore struct {
	turns  map[storage.ConvKey][]storage.Turn
	models map[storage.ConvKey]string
}

func newMemStore() *memStore {
	return &memStore{
		turns:  make(map[storage.ConvKey][]storage.Turn),
		models: make(map[storage.ConvKey]string),
	}
}

func (s *memStore) AppendTurn(_ context.Context, key storage.ConvKey, role, content string) error {
	s.turns[key] = append(s.turns[key], storage.Turn{Role: role, Content: content})
	return nil
}

func (s *memStore) History(_ context.Context, key storage.ConvKey, limit int) ([]storage.Turn, error) {
	turns := s.turns[key]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (s *memStore) ClearHistory(_ context.Context, key storage.ConvKey) (int64, error) {
	n := int64(len(s.turns[key]))
	delete(s.turns, key)
	return n, nil
}

func (s *memStore) Model(_ context.Context, key storage.ConvKey) (string, bool, error) {
	m, ok := s.models[key]
	return m, ok, nil
}

func (s *memStore) SetModel(_ context.Context, key storage.ConvKey, model string) error {
	s.models[key] = model
	return nil
}

// stubGenerator returns a fixed reply or error.
type stubGenerator struct {
	reply    string
	err      error
	gotReq   *gemini.GenerateRequest
	gotModel string
}

func (g *stubGenerator) Generate(_ context.Context, model string, req *gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
	g.gotModel = model
	g.gotReq = req
	if g.err != nil {
		return nil, g.err
	}
	return &gemini.GenerateResponse{
		Candidates: []gemini.Candidate{{Content: gemini.TextContent(gemini.RoleModel, g.reply)}},
	}, nil
}

type sentMessage struct {
	text string
	mode telebot.ParseMode
}

// fakeContext implements the handful of telebot.Context methods the
// handlers touch. Unimplemented methods panic via the embedded nil
// interface, which is what we want in a test.
type fakeContext struct {
	telebot.Context
	msg        *telebot.Message
	sent       []sentMessage
	failMarkup bool
	edited     string
	responded  bool
	data       string
}

func (f *fakeContext) Message() *telebot.Message { return f.msg }
func (f *fakeContext) Sender() *telebot.User     { return f.msg.Sender }
func (f *fakeContext) Chat() *telebot.Chat       { return f.msg.Chat }
func (f *fakeContext) Data() string              { return f.data }

func (f *fakeContext) Notify(action telebot.ChatAction) error { return nil }

func (f *fakeContext) Send(what interface{}, opts ...interface{}) error {
	text, _ := what.(string)
	var mode telebot.ParseMode
	for _, o := range opts {
		if so, ok := o.(*telebot.SendOptions); ok {
			mode = so.ParseMode
		}
	}
	if f.failMarkup && mode == telebot.ModeMarkdownV2 {
		return errors.New("telegram: Bad Request: can't parse entities")
	}
	f.sent = append(f.sent, sentMessage{text: text, mode: mode})
	return nil
}

func (f *fakeContext) Edit(what interface{}, opts ...interface{}) error {
	if text, ok := what.(string); ok {
		f.edited = text
	}
	return nil
}

func (f *fakeContext) Respond(resp ...*telebot.CallbackResponse) error {
	f.responded = true
	return nil
}

func userMessage(chatID int64, text string) *telebot.Message {
	return &telebot.Message{
		Text:   text,
		Chat:   &telebot.Chat{ID: chatID},
		Sender: &telebot.User{ID: 7},
	}
}

func newTestBot(t *testing.T, store Store, llm Generator) *Bot {
	t.Helper()

	cfg := config.Default()
	cfg.Telegram.Token = "test"
	cfg.Gemini.APIKey = "test"
	cfg.Gemini.SystemInstruction = "Be helpful."

	pipeline, err := renderPipeline(cfg)
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)

	return &Bot{
		cfg:        cfg,
		store:      store,
		llm:        llm,
		pipeline:   pipeline,
		log:        log,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		deniedOnce: make(map[int64]bool),
	}
}

// =============================================================================
// UNIT TESTS
// =============================================================================

func TestRenderPipelineFromConfig(t *testing.T) {
	// the default config must always yield a working pipeline, with the
	// dialect defaults filled in alongside the configured limit
	p, err := renderPipeline(config.Default())
	require.NoError(t, err)
	require.NotNil(t, p)

	cfg := config.Default()
	cfg.Render.MessageLimit = 2048
	p, err = renderPipeline(cfg)
	require.NoError(t, err)

	res := p.Render(strings.Repeat("a", 3000))
	require.Len(t, res.Chunks, 2)
	require.Len(t, res.Chunks[0].Text, 2048)
}

func TestConvKey(t *testing.T) {
	plain := &telebot.Message{Chat: &telebot.Chat{ID: 42}, ThreadID: 9}
	require.Equal(t, storage.ConvKey{ChatID: 42}, convKey(plain))

	topic := &telebot.Message{Chat: &telebot.Chat{ID: 42}, ThreadID: 9, TopicMessage: true}
	require.Equal(t, storage.ConvKey{ChatID: 42, ThreadID: 9}, convKey(topic))
}

func TestFirstDenial(t *testing.T) {
	b := newTestBot(t, newMemStore(), &stubGenerator{})

	require.True(t, b.firstDenial(1))
	require.False(t, b.firstDenial(1))
	require.True(t, b.firstDenial(2))
}

func TestBuildRequest(t *testing.T) {
	b := newTestBot(t, newMemStore(), &stubGenerator{})

	history := []storage.Turn{
		{Role: storage.RoleUser, Content: "question"},
		{Role: storage.RoleModel, Content: "answer"},
	}
	parts := []gemini.Part{{Text: "followup"}}

	req := b.buildRequest(history, parts)

	require.NotNil(t, req.SystemInstruction)
	require.Equal(t, "Be helpful.", req.SystemInstruction.Parts[0].Text)

	require.Len(t, req.Contents, 3)
	require.Equal(t, gemini.RoleUser, req.Contents[0].Role)
	require.Equal(t, gemini.RoleModel, req.Contents[1].Role)
	require.Equal(t, "followup", req.Contents[2].Parts[0].Text)
}

func TestDescribeGenerateError(t *testing.T) {
	tests := []struct {
		err      error
		category string
	}{
		{gemini.ErrModelNotFound, "model_not_found"},
		{gemini.ErrUnauthorized, "unauthorized"},
		{gemini.ErrRateLimited, "rate_limited"},
		{gemini.ErrTimeout, "timeout"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		category, userMsg := describeGenerateError(tt.err)
		if category != tt.category {
			t.Errorf("%v: category = %q, want %q", tt.err, category, tt.category)
		}
		if userMsg == "" {
			t.Errorf("%v: empty user message", tt.err)
		}
	}
}

// =============================================================================
// HANDLER TESTS
// =============================================================================

func TestRespondStoresAndSends(t *testing.T) {
	store := newMemStore()
	llm := &stubGenerator{reply: "**bold** and plain."}
	b := newTestBot(t, store, llm)

	c := &fakeContext{msg: userMessage(42, "hi")}
	err := b.respond(c, []gemini.Part{{Text: "hi"}}, "hi")
	require.NoError(t, err)

	key := storage.ConvKey{ChatID: 42}
	require.Len(t, store.turns[key], 2)
	require.Equal(t, storage.RoleUser, store.turns[key][0].Role)
	require.Equal(t, "hi", store.turns[key][0].Content)
	require.Equal(t, storage.RoleModel, store.turns[key][1].Role)

	// history plus the new message went to the model
	require.NotNil(t, llm.gotReq)
	require.Equal(t, "hi", llm.gotReq.Contents[len(llm.gotReq.Contents)-1].Parts[0].Text)

	require.Len(t, c.sent, 1)
	require.Equal(t, telebot.ModeMarkdownV2, c.sent[0].mode)
	require.Equal(t, `*bold* and plain\.`, c.sent[0].text)
}

func TestRespondUsesSelectedModel(t *testing.T) {
	store := newMemStore()
	key := storage.ConvKey{ChatID: 42}
	require.NoError(t, store.SetModel(context.Background(), key, "gemini-2.5-pro"))

	llm := &stubGenerator{reply: "ok"}
	b := newTestBot(t, store, llm)

	c := &fakeContext{msg: userMessage(42, "hi")}
	require.NoError(t, b.respond(c, []gemini.Part{{Text: "hi"}}, "hi"))
	require.Equal(t, "gemini-2.5-pro", llm.gotModel)
}

func TestRespondGenerateError(t *testing.T) {
	store := newMemStore()
	llm := &stubGenerator{err: gemini.ErrRateLimited}
	b := newTestBot(t, store, llm)

	c := &fakeContext{msg: userMessage(42, "hi")}
	require.NoError(t, b.respond(c, []gemini.Part{{Text: "hi"}}, "hi"))

	// failed exchanges leave no trace in history
	require.Empty(t, store.turns[storage.ConvKey{ChatID: 42}])

	require.Len(t, c.sent, 1)
	require.Contains(t, c.sent[0].text, "rate limited")
	require.Equal(t, telebot.ParseMode(""), c.sent[0].mode)
}

func TestDeliverFallsBackToPlain(t *testing.T) {
	b := newTestBot(t, newMemStore(), &stubGenerator{reply: "*hi*"})

	c := &fakeContext{msg: userMessage(42, "hi"), failMarkup: true}
	err := b.respond(c, []gemini.Part{{Text: "hi"}}, "hi")
	require.NoError(t, err)

	// markup rejected, escaped retry also markup so it fails too, then raw
	require.Len(t, c.sent, 1)
	require.Equal(t, telebot.ParseMode(""), c.sent[0].mode)
	require.Equal(t, "_hi_", c.sent[0].text)
}

func TestOnClear(t *testing.T) {
	store := newMemStore()
	key := storage.ConvKey{ChatID: 42}
	require.NoError(t, store.AppendTurn(context.Background(), key, storage.RoleUser, "a"))
	require.NoError(t, store.AppendTurn(context.Background(), key, storage.RoleModel, "b"))

	b := newTestBot(t, store, &stubGenerator{})
	c := &fakeContext{msg: userMessage(42, "/clear")}

	require.NoError(t, b.onClear(c))
	require.Empty(t, store.turns[key])
	require.Len(t, c.sent, 1)
	require.Contains(t, c.sent[0].text, "Cleared 2")

	c2 := &fakeContext{msg: userMessage(42, "/clear")}
	require.NoError(t, b.onClear(c2))
	require.Contains(t, c2.sent[0].text, "Nothing to clear")
}

func TestOnModelPick(t *testing.T) {
	store := newMemStore()
	b := newTestBot(t, store, &stubGenerator{})

	c := &fakeContext{msg: userMessage(42, ""), data: "gemini-2.5-pro"}
	require.NoError(t, b.onModelPick(c))

	require.Equal(t, "gemini-2.5-pro", store.models[storage.ConvKey{ChatID: 42}])
	require.Contains(t, c.edited, "gemini-2.5-pro")
	require.True(t, c.responded)

	bad := &fakeContext{msg: userMessage(42, ""), data: "no-such-model"}
	require.NoError(t, b.onModelPick(bad))
	require.True(t, bad.responded)
	require.Empty(t, bad.edited)
}

func TestOnModelShowsCurrent(t *testing.T) {
	store := newMemStore()
	b := newTestBot(t, store, &stubGenerator{})

	c := &fakeContext{msg: userMessage(42, "/model")}
	require.NoError(t, b.onModel(c))
	require.Len(t, c.sent, 1)
	require.Contains(t, c.sent[0].text, "Current model: "+b.cfg.Gemini.DefaultModel)

	store.models[storage.ConvKey{ChatID: 42}] = "gemini-2.5-pro"
	c2 := &fakeContext{msg: userMessage(42, "/model")}
	require.NoError(t, b.onModel(c2))
	require.Contains(t, c2.sent[0].text, "Current model: gemini-2.5-pro")
}

func TestPhotoParts(t *testing.T) {
	data := []byte{0xff, 0xd8}
	encoded := base64.StdEncoding.EncodeToString(data)

	parts, entry := photoParts("what is this?", data)
	require.Len(t, parts, 2)
	require.Equal(t, "what is this?", parts[0].Text)
	require.Equal(t, "image/jpeg", parts[1].InlineData.MIMEType)
	require.Equal(t, encoded, parts[1].InlineData.Data)
	require.Equal(t, "[Image] what is this?", entry)

	parts, entry = photoParts("", data)
	require.Len(t, parts, 2)
	require.Equal(t, "Describe this image", parts[0].Text)
	require.Equal(t, "[Image]", entry)
}

func TestAccessControlDeniesOnce(t *testing.T) {
	b := newTestBot(t, newMemStore(), &stubGenerator{})
	b.cfg.Telegram.AllowedUserIDs = []int64{1}

	called := 0
	handler := b.accessControl(func(c telebot.Context) error {
		called++
		return nil
	})

	msg := userMessage(42, "hi")
	msg.Sender = &telebot.User{ID: 99}

	first := &fakeContext{msg: msg}
	require.NoError(t, handler(first))
	require.Zero(t, called)
	require.Len(t, first.sent, 1)

	second := &fakeContext{msg: msg}
	require.NoError(t, handler(second))
	require.Zero(t, called)
	require.Empty(t, second.sent)

	allowed := userMessage(42, "hi")
	allowed.Sender = &telebot.User{ID: 1}
	require.NoError(t, handler(&fakeContext{msg: allowed}))
	require.Equal(t, 1, called)
}
