// Package bot answers stock and report commands in the admin Telegram chat.
// It is read-only: logs are recorded through the HTTP API.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sitsl/material-tracker/internal/domain/materials"
	"github.com/sitsl/material-tracker/internal/report"
)

// maxStockLines keeps /stock replies under Telegram's message size limit.
const maxStockLines = 60

type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(u tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Catalog interface {
	List(ctx context.Context, f materials.Filter) ([]materials.Material, error)
}

type Reports interface {
	ParseDate(v string) (time.Time, error)
	Workbook(ctx context.Context, day time.Time, by report.Signatory) ([]byte, error)
}

type Bot struct {
	api       API
	log       *slog.Logger
	adminChat int64
	catalog   Catalog
	reports   Reports
	signatory report.Signatory
	now       func() time.Time
}

func New(api API, log *slog.Logger, adminChatID int64, catalog Catalog, reports Reports, by report.Signatory) *Bot {
	return &Bot{
		api: api, log: log, adminChat: adminChatID,
		catalog: catalog, reports: reports, signatory: by,
		now: time.Now,
	}
}

func (b *Bot) Run(ctx context.Context, timeoutSec int) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSec
	updates := b.api.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			// ends the long poll; the API must not be stopped twice
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if upd.Message != nil {
				b.onMessage(ctx, upd.Message)
			}
		}
	}
}

func (b *Bot) send(msg tgbotapi.Chattable) {
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send failed", "err", err)
	}
}

func (b *Bot) onMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if chatID != b.adminChat {
		b.log.Debug("ignoring message from foreign chat", "chat_id", chatID)
		return
	}
	if !msg.IsCommand() {
		return
	}

	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "start", "help":
		b.send(tgbotapi.NewMessage(chatID, helpText))
	case "stock":
		b.handleStock(ctx, chatID, args)
	case "report":
		b.handleReport(ctx, chatID, args)
	default:
		b.send(tgbotapi.NewMessage(chatID, "Unknown command. Try /help"))
	}
}

const helpText = `/stock [category] - balances, lowest first
/report [YYYY-MM-DD] - inspection report for the day (today by default)`

func (b *Bot) handleStock(ctx context.Context, chatID int64, category string) {
	list, err := b.catalog.List(ctx, materials.Filter{Category: category})
	if err != nil {
		b.log.Error("stock list failed", "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Could not load materials"))
		return
	}
	if len(list) == 0 {
		b.send(tgbotapi.NewMessage(chatID, "No materials"))
		return
	}
	b.send(tgbotapi.NewMessage(chatID, stockText(list)))
}

func stockText(list []materials.Material) string {
	sorted := make([]materials.Material, len(list))
	copy(sorted, list)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Balance().LessThan(sorted[j].Balance())
	})

	var sb strings.Builder
	for i, m := range sorted {
		if i == maxStockLines {
			fmt.Fprintf(&sb, "... and %d more", len(sorted)-i)
			break
		}
		fmt.Fprintf(&sb, "%s: %s %s (in %s / out %s)\n", m.Description, m.Balance(), m.Unit(), m.Delivered, m.Issued)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) handleReport(ctx context.Context, chatID int64, arg string) {
	var (
		day time.Time
		err error
	)
	if arg == "" {
		day, err = b.reports.ParseDate(b.now().Format("2006-01-02"))
	} else {
		day, err = b.reports.ParseDate(arg)
	}
	if err != nil {
		b.send(tgbotapi.NewMessage(chatID, "Date must look like 2025-06-17"))
		return
	}

	data, err := b.reports.Workbook(ctx, day, b.signatory)
	if err != nil {
		if errors.Is(err, report.ErrNoData) {
			b.send(tgbotapi.NewMessage(chatID, "No deliveries or issuances on "+day.Format("2006-01-02")))
			return
		}
		b.log.Error("report failed", "day", day, "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Could not build the report"))
		return
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: report.FileName(day), Bytes: data})
	doc.Caption = "Inspection report " + day.Format("2006-01-02")
	b.send(doc)
}
