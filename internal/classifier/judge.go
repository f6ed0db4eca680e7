package classifier

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"neurodeep/internal/llm"
)

const humorPrompt = "Ты анализатор текста. Определи, содержит ли сообщение шутку, подкол, сарказм или юмор. " +
	"Ответь ОДНИМ словом: ДА или НЕТ."

// LLMHumorJudge asks the completion service for a yes/no verdict.
type LLMHumorJudge struct {
	client  llm.Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewLLMHumorJudge(client llm.Client, timeout time.Duration, logger *slog.Logger) *LLMHumorJudge {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMHumorJudge{client: client, timeout: timeout, logger: logger}
}

func (j *LLMHumorJudge) IsHumor(ctx context.Context, text string) bool {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	resp, err := j.client.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: humorPrompt},
		{Role: llm.RoleUser, Content: text},
	})
	if err != nil {
		j.logger.Debug("humor check failed", "class", llm.ClassOf(err), "error", err)
		return false
	}
	answer := strings.ToUpper(strings.TrimSpace(resp.Content))
	return strings.Contains(answer, "ДА") || strings.HasPrefix(answer, "YES")
}
