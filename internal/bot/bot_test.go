package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitsl/material-tracker/internal/domain/materials"
	"github.com/sitsl/material-tracker/internal/report"
)

const adminChat = 100

type fakeAPI struct {
	sent    []tgbotapi.Chattable
	updates chan tgbotapi.Update
	stopped int
}

func (f *fakeAPI) StopReceivingUpdates() { f.stopped++ }

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

type fakeCatalog struct {
	list     []materials.Material
	category string
}

func (f *fakeCatalog) List(_ context.Context, filter materials.Filter) ([]materials.Material, error) {
	f.category = filter.Category
	return f.list, nil
}

type fakeReports struct {
	day  time.Time
	data []byte
	err  error
	by   report.Signatory
}

func (f *fakeReports) ParseDate(v string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", v, time.UTC)
}

func (f *fakeReports) Workbook(_ context.Context, day time.Time, by report.Signatory) ([]byte, error) {
	f.day, f.by = day, by
	return f.data, f.err
}

func command(chatID int64, text string) *tgbotapi.Message {
	name := text
	for i, r := range text {
		if r == ' ' {
			name = text[:i]
			break
		}
	}
	return &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}
}

func newBot(api *fakeAPI, cat *fakeCatalog, rep *fakeReports) *Bot {
	b := New(api, slog.New(slog.NewTextHandler(io.Discard, nil)), adminChat, cat, rep,
		report.Signatory{Name: "Victor Ikeh"})
	b.now = func() time.Time { return time.Date(2025, 6, 17, 15, 0, 0, 0, time.UTC) }
	return b
}

func text(t *testing.T, c tgbotapi.Chattable) string {
	t.Helper()
	msg, ok := c.(tgbotapi.MessageConfig)
	require.True(t, ok, "expected a text message, got %T", c)
	return msg.Text
}

func TestStockListsLowestFirst(t *testing.T) {
	api := &fakeAPI{}
	cat := &fakeCatalog{list: []materials.Material{
		{Description: "Flange", Category: "Flanges", Delivered: decimal.NewFromInt(10), Issued: decimal.NewFromInt(2)},
		{Description: "Pipe", Category: "Pipes", Delivered: decimal.RequireFromString("12.5"), Issued: decimal.RequireFromString("10.25")},
	}}
	b := newBot(api, cat, &fakeReports{})

	b.onMessage(context.Background(), command(adminChat, "/stock pipes"))

	assert.Equal(t, "pipes", cat.category)
	require.Len(t, api.sent, 1)
	assert.Equal(t,
		"Pipe: 2.25 metres (in 12.5 / out 10.25)\nFlange: 8 pcs (in 10 / out 2)",
		text(t, api.sent[0]))
}

func TestIgnoresOtherChats(t *testing.T) {
	api := &fakeAPI{}
	b := newBot(api, &fakeCatalog{}, &fakeReports{})
	b.onMessage(context.Background(), command(5, "/stock"))
	assert.Empty(t, api.sent)
}

func TestReportSendsWorkbook(t *testing.T) {
	api := &fakeAPI{}
	rep := &fakeReports{data: []byte("xlsx")}
	b := newBot(api, &fakeCatalog{}, rep)

	b.onMessage(context.Background(), command(adminChat, "/report"))

	assert.Equal(t, time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC), rep.day)
	assert.Equal(t, "Victor Ikeh", rep.by.Name)
	require.Len(t, api.sent, 1)
	doc, ok := api.sent[0].(tgbotapi.DocumentConfig)
	require.True(t, ok)
	file, ok := doc.File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.Equal(t, "MIR_20250617.xlsx", file.Name)
	assert.Equal(t, []byte("xlsx"), file.Bytes)
}

func TestReportErrors(t *testing.T) {
	api := &fakeAPI{}
	rep := &fakeReports{err: report.ErrNoData}
	b := newBot(api, &fakeCatalog{}, rep)

	b.onMessage(context.Background(), command(adminChat, "/report 2025-06-01"))
	b.onMessage(context.Background(), command(adminChat, "/report yesterday"))
	rep.err = errors.New("db down")
	b.onMessage(context.Background(), command(adminChat, "/report 2025-06-02"))

	require.Len(t, api.sent, 3)
	assert.Equal(t, "No deliveries or issuances on 2025-06-01", text(t, api.sent[0]))
	assert.Equal(t, "Date must look like 2025-06-17", text(t, api.sent[1]))
	assert.Equal(t, "Could not build the report", text(t, api.sent[2]))
}

func TestRunStopsOnCancel(t *testing.T) {
	api := &fakeAPI{updates: make(chan tgbotapi.Update, 1)}
	b := newBot(api, &fakeCatalog{}, &fakeReports{})

	api.updates <- tgbotapi.Update{Message: command(adminChat, "/help")}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, 0) }()

	require.Eventually(t, func() bool { return len(api.updates) == 0 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 1, api.stopped, "long polling must be stopped on shutdown")
}
