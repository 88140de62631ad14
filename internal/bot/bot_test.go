package bot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bazibot/internal/conversation"
	"bazibot/internal/models"
	"bazibot/internal/storage/stubs"
)

// Note: tgbotapi.BotAPI is not mocked; tests swap the sender for a recorder

type fakeSender struct {
	mu        sync.Mutex
	sent      []tgbotapi.Chattable
	requests  []tgbotapi.Chattable
	failMedia bool
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch c.(type) {
	case tgbotapi.PhotoConfig, tgbotapi.VoiceConfig, tgbotapi.VideoConfig:
		if f.failMedia {
			return tgbotapi.Message{}, errors.New("Bad Request: wrong file identifier")
		}
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

type handlerFunc func(ctx context.Context, ev conversation.Event) (conversation.Reply, error)

func (f handlerFunc) Handle(ctx context.Context, ev conversation.Event) (conversation.Reply, error) {
	return f(ctx, ev)
}

// recorder captures events and answers each with a single text message
type recorder struct {
	mu     sync.Mutex
	events []conversation.Event
}

func (r *recorder) Handle(_ context.Context, ev conversation.Event) (conversation.Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return conversation.Reply{Messages: []models.Outbound{{Text: "ok"}}}, nil
}

func newTestBot(handler Handler, allowed ...int64) (*Bot, *fakeSender) {
	out := &fakeSender{}
	b := newBot(handler, stubs.NewMockDB(), allowed, zap.NewNop())
	b.out = out
	b.token = "123456:TEST-TOKEN"
	b.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return b, out
}

func commandMessage(userID int64, text string) *tgbotapi.Message {
	cmd := strings.Fields(text)[0]
	return &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID, UserName: "anna_k", FirstName: "Anna", LastName: "K"},
		Chat:     &tgbotapi.Chat{ID: userID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}
}

func TestBot_CommandBecomesEvent(t *testing.T) {
	rec := &recorder{}
	b, out := newTestBot(rec)

	b.HandleUpdate(context.Background(), tgbotapi.Update{Message: commandMessage(123, "/Start")})

	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	assert.Equal(t, conversation.KindCommand, ev.Kind)
	assert.Equal(t, "start", ev.Payload)
	assert.Equal(t, int64(123), ev.UserID)
	assert.Equal(t, "anna_k", ev.Username)
	assert.Equal(t, "Anna K", ev.DisplayName)
	assert.NotEmpty(t, ev.ID)

	require.Len(t, out.sent, 1)
	msg, ok := out.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, "ok", msg.Text)
	assert.Equal(t, int64(123), msg.ChatID)
}

func TestBot_TextBecomesEvent(t *testing.T) {
	rec := &recorder{}
	b, _ := newTestBot(rec)

	b.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 7, FirstName: "Anna"},
		Chat: &tgbotapi.Chat{ID: 70},
		Text: "15.03.1990",
	}})

	require.Len(t, rec.events, 1)
	assert.Equal(t, conversation.KindText, rec.events[0].Kind)
	assert.Equal(t, "15.03.1990", rec.events[0].Payload)
	assert.Equal(t, int64(70), rec.events[0].ChatID)
	assert.Equal(t, "Anna", rec.events[0].DisplayName)
}

func TestBot_CallbackIsAnsweredAndDispatched(t *testing.T) {
	rec := &recorder{}
	b, out := newTestBot(rec)

	b.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: 5},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 50}},
		Data:    models.CallbackConsent,
	}})

	require.Len(t, out.requests, 1)
	answer, ok := out.requests[0].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	assert.Equal(t, "cb-1", answer.CallbackQueryID)

	require.Len(t, rec.events, 1)
	assert.Equal(t, conversation.KindButton, rec.events[0].Kind)
	assert.Equal(t, models.CallbackConsent, rec.events[0].Payload)
	assert.Equal(t, int64(50), rec.events[0].ChatID)
}

func TestBot_AllowList(t *testing.T) {
	rec := &recorder{}
	b, out := newTestBot(rec, 1, 2)

	b.HandleUpdate(context.Background(), tgbotapi.Update{Message: commandMessage(99, "/start")})
	assert.Empty(t, rec.events)
	require.Len(t, out.sent, 1)
	assert.Equal(t, unauthorizedText, out.sent[0].(tgbotapi.MessageConfig).Text)

	b.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "x", From: &tgbotapi.User{ID: 99}, Data: "restart",
	}})
	assert.Empty(t, rec.events)
	assert.Empty(t, out.requests)

	b.HandleUpdate(context.Background(), tgbotapi.Update{Message: commandMessage(2, "/start")})
	assert.Len(t, rec.events, 1)
}

func TestBot_RecoversFromPanic(t *testing.T) {
	b, out := newTestBot(handlerFunc(func(context.Context, conversation.Event) (conversation.Reply, error) {
		panic("boom")
	}))

	assert.NotPanics(t, func() {
		b.HandleUpdate(context.Background(), tgbotapi.Update{Message: commandMessage(1, "/start")})
	})
	require.Len(t, out.sent, 1)
	assert.Equal(t, panicText, out.sent[0].(tgbotapi.MessageConfig).Text)
}

func TestBot_ErrorReplyIsStillSent(t *testing.T) {
	b, out := newTestBot(handlerFunc(func(context.Context, conversation.Event) (conversation.Reply, error) {
		return conversation.Reply{Messages: []models.Outbound{{Text: "try again"}}}, conversation.ErrStorageUnavailable
	}))

	b.HandleUpdate(context.Background(), tgbotapi.Update{Message: commandMessage(1, "/start")})
	require.Len(t, out.sent, 1)
	assert.Equal(t, "try again", out.sent[0].(tgbotapi.MessageConfig).Text)
}

func TestSendReply_DelaysAndMedia(t *testing.T) {
	b, out := newTestBot(&recorder{})
	var delays []time.Duration
	b.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	b.sendReply(context.Background(), 10, conversation.Reply{Messages: []models.Outbound{
		{
			Text:    "Metal Yin",
			Media:   &models.Media{Kind: models.MediaPhoto, FileID: "photo-id"},
			Buttons: []models.Button{{Label: "Next", Callback: "node:show_superpower"}},
		},
		{Text: "voice", Media: &models.Media{Kind: models.MediaVoice, FileID: "voice-id"}, Delay: 2 * time.Second},
		{Text: "video", Media: &models.Media{Kind: models.MediaVideo, FileID: "video-id"}, Delay: time.Second},
	}})

	assert.Equal(t, []time.Duration{2 * time.Second, time.Second}, delays)
	require.Len(t, out.sent, 3)

	photo, ok := out.sent[0].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, "Metal Yin", photo.Caption)
	assert.Equal(t, tgbotapi.FileID("photo-id"), photo.File)
	markup, ok := photo.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	require.NotNil(t, markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "node:show_superpower", *markup.InlineKeyboard[0][0].CallbackData)

	_, ok = out.sent[1].(tgbotapi.VoiceConfig)
	assert.True(t, ok)
	_, ok = out.sent[2].(tgbotapi.VideoConfig)
	assert.True(t, ok)
}

func TestSendReply_StopsWhenContextDone(t *testing.T) {
	b, out := newTestBot(&recorder{})
	b.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.sendReply(ctx, 10, conversation.Reply{Messages: []models.Outbound{
		{Text: "first"},
		{Text: "second", Delay: time.Hour},
	}})

	require.Len(t, out.sent, 1)
	assert.Equal(t, "first", out.sent[0].(tgbotapi.MessageConfig).Text)
}

func TestSendReply_MediaFailureFallsBackToText(t *testing.T) {
	b, out := newTestBot(&recorder{})
	out.failMedia = true

	b.sendReply(context.Background(), 10, conversation.Reply{Messages: []models.Outbound{{
		Text:    "caption text",
		Media:   &models.Media{Kind: models.MediaPhoto, FileID: "stale"},
		Buttons: []models.Button{{Label: "Site", URL: "https://example.com"}},
	}}})

	require.Len(t, out.sent, 1)
	msg, ok := out.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, "caption text", msg.Text)
	markup := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.NotNil(t, markup.InlineKeyboard[0][0].URL)
	assert.Equal(t, "https://example.com", *markup.InlineKeyboard[0][0].URL)
}

func TestSendReply_MediaFailureKeepsButtons(t *testing.T) {
	b, out := newTestBot(&recorder{})
	out.failMedia = true

	b.sendReply(context.Background(), 10, conversation.Reply{Messages: []models.Outbound{
		{
			Media:   &models.Media{Kind: models.MediaVoice, FileID: "stale"},
			Buttons: []models.Button{{Label: "Next", Callback: "node:next"}},
		},
		{Media: &models.Media{Kind: models.MediaPhoto, FileID: "stale"}},
	}})

	require.Len(t, out.sent, 1, "media without text or buttons is dropped")
	msg, ok := out.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, buttonsOnlyText, msg.Text)
	markup := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.NotNil(t, markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "node:next", *markup.InlineKeyboard[0][0].CallbackData)
}

func TestBuildMessages_LongCaptionIsSplit(t *testing.T) {
	long := strings.Repeat("я", captionLimit+1)
	msgs := buildMessages(1, models.Outbound{
		Text:    long,
		Media:   &models.Media{Kind: models.MediaPhoto, FileID: "p"},
		Buttons: []models.Button{{Label: "Next", Callback: "node:x"}},
	})

	require.Len(t, msgs, 2)
	photo := msgs[0].(tgbotapi.PhotoConfig)
	assert.Empty(t, photo.Caption)
	assert.Nil(t, photo.ReplyMarkup)

	text := msgs[1].(tgbotapi.MessageConfig)
	assert.Equal(t, long, text.Text)
	assert.NotNil(t, text.ReplyMarkup)
}

// signedInitData builds initData the way Telegram signs it
func signedInitData(token string, userID int64, authDate time.Time) string {
	values := url.Values{}
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	values.Set("query_id", "AAH")
	values.Set("user", `{"id":`+strconv.FormatInt(userID, 10)+`,"first_name":"Anna"}`)
	values.Set("hash", signInitData(token, values))
	return values.Encode()
}

func TestValidateTelegramInitData(t *testing.T) {
	b, _ := newTestBot(&recorder{}, 42)
	hs := NewHTTPServer(b, false)
	now := time.Now()

	userID, err := hs.validateTelegramInitData(signedInitData(b.token, 42, now))
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)

	tests := []struct {
		name     string
		initData string
		wantErr  string
	}{
		{"empty", "", "missing initData"},
		{"wrong token", signedInitData("other:token", 42, now), "invalid hash"},
		{"too old", signedInitData(b.token, 42, now.Add(-25*time.Hour)), "too old"},
		{"not allowed", signedInitData(b.token, 7, now), "not allowed"},
		{"no hash", "auth_date=1&user=%7B%7D", "missing hash"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := hs.validateTelegramInitData(tt.initData)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProfileEndpoint(t *testing.T) {
	b, _ := newTestBot(&recorder{})
	db := b.profiles.(*stubs.MockDB)
	ctx := context.Background()

	chart := models.ChartResult{Element: models.Metal, Polarity: models.Yin, AnimalOfYear: "Horse", Source: models.SourceFallback}
	require.NoError(t, db.UpsertProfile(ctx, 42, models.ProfileUpdate{
		DisplayName: models.Ptr("Anna K"),
		ContactName: models.Ptr("Anna"),
		BirthDate:   models.Ptr("15.03.1990"),
		Chart:       &chart,
	}))

	router := chi.NewRouter()
	NewHTTPServer(b, false).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("Authorization", "tma "+signedInitData(b.token, 42, time.Now()))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp ProfileResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "Anna", resp.Name)
	assert.True(t, resp.HasChart)
	assert.Equal(t, models.Metal, resp.Chart.Element)
	assert.Equal(t, "15.03.1990", resp.BirthDate)

	// Missing header
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/profile", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Unknown user
	req = httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("Authorization", "tma "+signedInitData(b.token, 77, time.Now()))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestProfileEndpoint_RequiresInitDataOutsideDevMode(t *testing.T) {
	b, _ := newTestBot(&recorder{}, 1)
	db := b.profiles.(*stubs.MockDB)
	ctx := context.Background()
	require.NoError(t, db.UpsertProfile(ctx, 42, models.ProfileUpdate{
		ContactName: models.Ptr("Anna"),
		BirthDate:   models.Ptr("15.03.1990"),
		BirthCity:   models.Ptr("Paris"),
	}))
	require.NoError(t, db.UpsertProfile(ctx, 1, models.ProfileUpdate{ContactName: models.Ptr("Owner")}))

	router := chi.NewRouter()
	NewHTTPServer(b, false).RegisterRoutes(router)

	tests := []struct {
		name       string
		target     string
		initData   string
		wantStatus int
	}{
		{"query user id is ignored", "/api/profile?user_id=42", "", http.StatusUnauthorized},
		{"allowed user id without auth", "/api/profile?user_id=1", "", http.StatusUnauthorized},
		{"signed but not allow-listed", "/api/profile", signedInitData(b.token, 42, time.Now()), http.StatusUnauthorized},
		{"signed and allowed", "/api/profile", signedInitData(b.token, 1, time.Now()), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.initData != "" {
				req.Header.Set("Authorization", "tma "+tt.initData)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus != http.StatusOK {
				assert.NotContains(t, rr.Body.String(), "Paris")
			}
		})
	}
}

func TestProfileEndpoint_DevModeTrustsQueryWithinAllowList(t *testing.T) {
	b, _ := newTestBot(&recorder{}, 5)
	db := b.profiles.(*stubs.MockDB)
	ctx := context.Background()
	require.NoError(t, db.UpsertProfile(ctx, 5, models.ProfileUpdate{DisplayName: models.Ptr("Dev")}))
	require.NoError(t, db.UpsertProfile(ctx, 42, models.ProfileUpdate{DisplayName: models.Ptr("Anna")}))

	router := chi.NewRouter()
	NewHTTPServer(b, true).RegisterRoutes(router)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/profile?user_id=5", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"name":"Dev"`)
	assert.Contains(t, rr.Body.String(), `"has_chart":false`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/profile?user_id=42", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/profile", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
