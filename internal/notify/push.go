package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fableforge/internal/config"
)

const userAgent = "FableForge-Go/0.1.0"

// Pusher mirrors notification events to an external channel.
type Pusher interface {
	PushStageComplete(ctx context.Context, projectTitle, stage string) error
	PushStageFailed(ctx context.Context, projectTitle, stage, reason string) error
	PushDeploy(ctx context.Context, projectTitle string) error
	TestPush(ctx context.Context) error
}

// NewPusher builds a push mirror backed by an ntfy-style endpoint when one
// is configured. Without a push URL a noop implementation is returned.
func NewPusher(cfg *config.Config) Pusher {
	endpoint := strings.TrimSpace(cfg.Notifications.PushURL)
	if endpoint == "" {
		return noopPusher{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyPusher{
		endpoint:      endpoint,
		client:        &http.Client{Timeout: timeout},
		stageComplete: cfg.Notifications.StageComplete,
		stageFailed:   cfg.Notifications.StageFailed,
		deploy:        cfg.Notifications.Deploy,
	}
}

type pushPayload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyPusher struct {
	endpoint      string
	client        *http.Client
	stageComplete bool
	stageFailed   bool
	deploy        bool
}

func (p *ntfyPusher) PushStageComplete(ctx context.Context, projectTitle, stage string) error {
	if !p.stageComplete {
		return nil
	}
	data := pushPayload{
		title:   "FableForge - Stage Ready",
		message: fmt.Sprintf("%s: %s is ready for review", strings.TrimSpace(projectTitle), stage),
		tags:    []string{"fableforge", "stage", "completed"},
	}
	return p.send(ctx, data)
}

func (p *ntfyPusher) PushStageFailed(ctx context.Context, projectTitle, stage, reason string) error {
	if !p.stageFailed {
		return nil
	}
	message := fmt.Sprintf("%s: %s generation failed", strings.TrimSpace(projectTitle), stage)
	if reason = strings.TrimSpace(reason); reason != "" {
		message = fmt.Sprintf("%s\n%s", message, reason)
	}
	data := pushPayload{
		title:    "FableForge - Stage Failed",
		message:  message,
		tags:     []string{"fableforge", "stage", "failed"},
		priority: "high",
	}
	return p.send(ctx, data)
}

func (p *ntfyPusher) PushDeploy(ctx context.Context, projectTitle string) error {
	if !p.deploy {
		return nil
	}
	data := pushPayload{
		title:    "FableForge - Deployed",
		message:  fmt.Sprintf("Project published: %s", strings.TrimSpace(projectTitle)),
		tags:     []string{"fableforge", "deploy", "completed"},
		priority: "high",
	}
	return p.send(ctx, data)
}

func (p *ntfyPusher) TestPush(ctx context.Context) error {
	data := pushPayload{
		title:    "FableForge - Test",
		message:  "Notification channel test",
		tags:     []string{"fableforge", "test"},
		priority: "low",
	}
	return p.send(ctx, data)
}

func (p *ntfyPusher) send(ctx context.Context, data pushPayload) error {
	if p == nil || p.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send push notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("push endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopPusher struct{}

func (noopPusher) PushStageComplete(context.Context, string, string) error      { return nil }
func (noopPusher) PushStageFailed(context.Context, string, string, string) error { return nil }
func (noopPusher) PushDeploy(context.Context, string) error                     { return nil }
func (noopPusher) TestPush(context.Context) error                               { return nil }
