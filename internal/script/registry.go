// Package script 按实体属性（项目、优先级、标签）匹配的创建后自动化脚本
// 脚本失败会让任务重试，直至进入死信队列
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/gtplusnet/ante-official-sub001/internal/domain"
)

// Script 单个自动化脚本
type Script interface {
	Name() string
	Run(ctx context.Context, t *domain.Task) error
}

// Match 匹配条件，零值字段不参与匹配
type Match struct {
	ProjectID   *int64
	MinPriority int
	Tag         string
}

func (m Match) matches(t *domain.Task) bool {
	if m.ProjectID != nil && (t.ProjectID == nil || *t.ProjectID != *m.ProjectID) {
		return false
	}
	if m.MinPriority > 0 && t.PriorityLevel < m.MinPriority {
		return false
	}
	if m.Tag != "" && !slices.Contains(t.Tags, m.Tag) {
		return false
	}
	return true
}

type rule struct {
	match  Match
	script Script
}

// Registry 按注册顺序执行所有匹配的脚本，遇到第一个错误即返回
type Registry struct {
	rules []rule
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(m Match, s Script) {
	r.rules = append(r.rules, rule{match: m, script: s})
}

func (r *Registry) ExecuteCreationScripts(ctx context.Context, t *domain.Task) error {
	for _, rl := range r.rules {
		if !rl.match.matches(t) {
			continue
		}
		if err := rl.script.Run(ctx, t); err != nil {
			return fmt.Errorf("script %s: %w", rl.script.Name(), err)
		}
	}
	return nil
}

// Webhook 把实体快照 POST 给外部自动化服务，非 2xx 视为失败
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{url: url, client: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Run(ctx context.Context, t *domain.Task) error {
	body, err := json.Marshal(struct {
		Event string       `json:"event"`
		Task  *domain.Task `json:"task"`
	}{Event: "task.created", Task: t})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}

// Func 适配普通函数
type Func struct {
	ScriptName string
	Fn         func(ctx context.Context, t *domain.Task) error
}

func (f Func) Name() string { return f.ScriptName }

func (f Func) Run(ctx context.Context, t *domain.Task) error { return f.Fn(ctx, t) }
