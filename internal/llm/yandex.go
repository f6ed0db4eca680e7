package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Morwran/yagpt"
)

// IAM tokens live for 12h; refresh well before that.
const iamTokenTTL = time.Hour

// YandexClient talks to YandexGPT Lite through yagpt. yagpt fixes the
// sampling options of every request (temperature 0.6, max 2000 tokens), so
// Factory.MaxTokens and Factory.Temperature do not apply to this provider.
type YandexClient struct {
	ya yagpt.YaGPTFace

	mu       sync.Mutex
	issue    func() (string, error)
	iamToken string
	issuedAt time.Time
}

func NewYandex(oauthToken, folderID string) (*YandexClient, error) {
	// Create IAM token from OAuth token
	iam, err := yagpt.NewYaIam(oauthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init yandex iam: %w", err)
	}
	issue := func() (string, error) {
		resp, err := iam.Create()
		if err != nil {
			return "", fmt.Errorf("failed to create iam token: %w", err)
		}
		return resp.IamToken, nil
	}

	// Create YaGPT client for a folder
	ya, err := yagpt.NewYagpt(folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to init yagpt: %w", err)
	}

	c := &YandexClient{ya: ya, issue: issue}
	if _, err := c.token(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *YandexClient) token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.iamToken != "" && time.Since(c.issuedAt) < iamTokenTTL {
		return c.iamToken, nil
	}
	tok, err := c.issue()
	if err != nil {
		return "", err
	}
	c.iamToken = tok
	c.issuedAt = time.Now()
	return tok, nil
}

func (c *YandexClient) Generate(ctx context.Context, messages []Message) (Response, error) {
	tok, err := c.token()
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	yaMsgs := make([]yagpt.Message, 0, len(messages))
	for _, m := range messages {
		yaMsgs = append(yaMsgs, yagpt.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := c.ya.CompletionWithCtx(ctx, tok, yaMsgs)
	if err != nil {
		return Response{}, fmt.Errorf("yagpt completion failed: %w", classify(err))
	}
	if resp == nil || len(resp.Alternatives) == 0 {
		return Response{}, fmt.Errorf("yagpt returned empty response: %w", ErrUnknown)
	}
	out := Response{Content: strings.TrimSpace(resp.Alternatives[0].Message.Content), Model: yagpt.YaModelLite}
	out.PromptTokens = int(resp.Usage.InputTextTokens)
	out.CompletionTokens = int(resp.Usage.CompletionTokens)
	out.TotalTokens = int(resp.Usage.TotalTokens)
	return out, nil
}
