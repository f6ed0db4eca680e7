package analytics

import (
	"context"
	"fmt"
	"time"

	"neurodeep/internal/journal"
)

// Sender доставляет текст в чат
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Reporter собирает дневную статистику из журнала и отправляет её админу
type Reporter struct {
	journal journal.Recorder
	sender  Sender
	chatID  int64
	now     func() time.Time
}

func NewReporter(rec journal.Recorder, sender Sender, chatID int64) *Reporter {
	return &Reporter{journal: rec, sender: sender, chatID: chatID, now: time.Now}
}

// Run отправляет отчет за текущий день (UTC)
func (r *Reporter) Run(ctx context.Context) error {
	if r.chatID == 0 {
		return nil
	}
	events, err := r.journal.Load()
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	stats := AnalyzeDailyLogs(events, r.now().UTC())
	if err := r.sender.SendText(ctx, r.chatID, stats.GenerateReportSummary()); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	return nil
}
