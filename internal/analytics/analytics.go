package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"neurodeep/internal/journal"
)

// DailyStats содержит статистику чатов за день
type DailyStats struct {
	Date             string              `json:"date"`
	TotalMessages    int                 `json:"total_messages"`
	UniqueUsers      int                 `json:"unique_users"`
	ActiveChats      int                 `json:"active_chats"`
	Replies          int                 `json:"replies"`
	OperatorPosts    int                 `json:"operator_posts"`
	RepliesByReason  map[string]int      `json:"replies_by_reason"`
	Fallbacks        int                 `json:"fallbacks"`
	FallbacksByClass map[string]int      `json:"fallbacks_by_class"`
	UserStats        map[int64]UserStats `json:"user_stats"`
}

// UserStats содержит статистику по пользователю
type UserStats struct {
	UserID   int64  `json:"user_id"`
	Name     string `json:"name"`
	Messages int    `json:"messages"`
}

// AnalyzeDailyLogs анализирует журнал за указанную дату
func AnalyzeDailyLogs(events []journal.Event, targetDate time.Time) *DailyStats {
	// Нормализуем дату до начала дня
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	stats := &DailyStats{
		Date:             startOfDay.Format("2006-01-02"),
		RepliesByReason:  make(map[string]int),
		FallbacksByClass: make(map[string]int),
		UserStats:        make(map[int64]UserStats),
	}
	chats := make(map[int64]bool)

	for _, event := range events {
		if event.Timestamp.Before(startOfDay) || !event.Timestamp.Before(endOfDay) {
			continue
		}
		// Посты оператора и отчеты не считаются активностью чата
		if event.Kind == journal.KindOperator {
			stats.OperatorPosts++
			continue
		}
		chats[event.ChatID] = true

		switch event.Kind {
		case journal.KindMessage:
			stats.TotalMessages++
			userStat, exists := stats.UserStats[event.UserID]
			if !exists {
				userStat = UserStats{UserID: event.UserID}
			}
			if event.UserName != "" {
				userStat.Name = event.UserName
			}
			userStat.Messages++
			stats.UserStats[event.UserID] = userStat
		case journal.KindReply:
			stats.Replies++
			if event.Reason != "" {
				stats.RepliesByReason[event.Reason]++
			}
			if event.Fallback != "" {
				stats.Fallbacks++
				stats.FallbacksByClass[event.Fallback]++
			}
		}
	}

	stats.UniqueUsers = len(stats.UserStats)
	stats.ActiveChats = len(chats)
	return stats
}

// GenerateReportSummary создает текстовый отчет для админ-чата
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 NeuroDeep за %s\n\n", ds.Date)
	fmt.Fprintf(&b, "- Сообщений: %d\n", ds.TotalMessages)
	fmt.Fprintf(&b, "- Уникальных пользователей: %d\n", ds.UniqueUsers)
	fmt.Fprintf(&b, "- Активных чатов: %d\n", ds.ActiveChats)
	fmt.Fprintf(&b, "- Ответов бота: %d\n", ds.Replies)

	if len(ds.RepliesByReason) > 0 {
		b.WriteString("\nПоводы для ответа:\n")
		for _, k := range sortedKeys(ds.RepliesByReason) {
			fmt.Fprintf(&b, "- %s: %d\n", k, ds.RepliesByReason[k])
		}
	}
	if ds.Fallbacks > 0 {
		fmt.Fprintf(&b, "\nЗаглушек вместо ответа: %d\n", ds.Fallbacks)
		for _, k := range sortedKeys(ds.FallbacksByClass) {
			fmt.Fprintf(&b, "- %s: %d\n", k, ds.FallbacksByClass[k])
		}
	}

	if len(ds.UserStats) > 0 {
		users := make([]UserStats, 0, len(ds.UserStats))
		for _, u := range ds.UserStats {
			users = append(users, u)
		}
		sort.Slice(users, func(i, j int) bool {
			if users[i].Messages != users[j].Messages {
				return users[i].Messages > users[j].Messages
			}
			return users[i].UserID < users[j].UserID
		})
		b.WriteString("\nСамые болтливые:\n")
		for i, u := range users {
			if i == 5 {
				break
			}
			name := u.Name
			if name == "" {
				name = fmt.Sprintf("user_%d", u.UserID)
			}
			fmt.Fprintf(&b, "- %s: %d\n", name, u.Messages)
		}
	}
	return b.String()
}

// ToJSON сериализует статистику в JSON
func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
