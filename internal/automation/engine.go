// Package automation 实现营销工作流引擎：轮询到期的流程实例，
// 按步骤推进邮件、等待、打标签与 webhook，并处理 cron 触发与漏跑恢复。
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/presshub/internal/db"
	"github.com/presshub/internal/locale"
	"github.com/presshub/internal/service"
)

// 占坑租约：实例被认领后推迟这么久再到期，进程崩溃时租约过期自动回队。
const enrollmentClaimLease = 5 * time.Minute

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config 控制引擎的轮询节奏与并发上限。
type Config struct {
	PollInterval  time.Duration
	MaxConcurrent int
	MissedWindow  time.Duration
	BatchSize     int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.MissedWindow <= 0 {
		c.MissedWindow = 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Engine 是工作流引擎本体，作为后台 goroutine 运行。
type Engine struct {
	db          *gorm.DB
	subscribers *service.SubscriberService
	outbox      *service.OutboxService
	sites       *service.SiteService
	metrics     *Metrics
	cfg         Config
	http        httpDoer
}

// New 构造引擎。metrics 可以为 nil。
func New(gdb *gorm.DB, cfg Config, subscribers *service.SubscriberService, outbox *service.OutboxService, sites *service.SiteService, metrics *Metrics) *Engine {
	return &Engine{
		db:          gdb,
		subscribers: subscribers,
		outbox:      outbox,
		sites:       sites,
		metrics:     metrics,
		cfg:         cfg.withDefaults(),
		http:        &http.Client{Timeout: 10 * time.Second},
	}
}

// SetHTTPClient 覆盖 webhook 步骤使用的 HTTP 客户端，主要用于测试。
func (e *Engine) SetHTTPClient(client httpDoer) {
	if client == nil {
		e.http = &http.Client{Timeout: 10 * time.Second}
		return
	}
	e.http = client
}

// Start 启动引擎循环并返回取消函数。
func (e *Engine) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		log.WithFields(log.Fields{
			"poll_interval":  e.cfg.PollInterval.String(),
			"max_concurrent": e.cfg.MaxConcurrent,
		}).Info("自动化引擎已启动")

		e.recoverMissedRuns(ctx)

		ticker := time.NewTicker(e.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info("自动化引擎已停止")
				return
			case <-ticker.C:
				e.tick(ctx)
			}
		}
	}()

	return cancel
}

// RunNow 立即执行一轮完整轮询，管理端"立即运行"操作使用。
func (e *Engine) RunNow(ctx context.Context) {
	e.tick(ctx)
}

func (e *Engine) tick(ctx context.Context) {
	start := time.Now()

	if err := e.runCronWorkflows(ctx, start.UTC()); err != nil {
		log.WithError(err).Error("cron 工作流轮询失败")
	}
	if err := e.runDueEnrollments(ctx, time.Now().UTC()); err != nil {
		log.WithError(err).Error("到期实例推进失败")
	}

	if e.metrics != nil {
		e.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
}

// FireSubscriberConfirmed 在订阅确认后调用，
// 把订阅者加入该站点所有激活的 subscriber_confirmed 工作流。
func (e *Engine) FireSubscriberConfirmed(siteID, subscriberID uint) error {
	workflows, err := e.activeWorkflows(siteID, db.TriggerSubscriberConfirmed)
	if err != nil || len(workflows) == 0 {
		return err
	}

	now := time.Now().UTC()
	correlationID := newCorrelationID()
	return e.db.Transaction(func(tx *gorm.DB) error {
		for i := range workflows {
			if _, err := e.enrollBatch(tx, &workflows[i], []uint{subscriberID}, correlationID, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// FireArticlePublished 在文章发布后调用，
// 把站点全部已确认订阅者加入激活的 article_published 工作流。
func (e *Engine) FireArticlePublished(siteID, articleID uint) error {
	workflows, err := e.activeWorkflows(siteID, db.TriggerArticlePublished)
	if err != nil || len(workflows) == 0 {
		return err
	}

	now := time.Now().UTC()
	return e.db.Transaction(func(tx *gorm.DB) error {
		for i := range workflows {
			correlationID := newCorrelationID()
			created, err := e.enrollConfirmedSubscribers(tx, &workflows[i], correlationID, now)
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{
				"workflow_id":    workflows[i].ID,
				"article_id":     articleID,
				"enrolled":       created,
				"correlation_id": correlationID,
			}).Info("文章发布触发工作流")
		}
		return nil
	})
}

func (e *Engine) activeWorkflows(siteID uint, trigger string) ([]db.Workflow, error) {
	var workflows []db.Workflow
	err := e.db.
		Where("site_id = ? AND status = ? AND trigger_type = ?", siteID, db.WorkflowStatusActive, trigger).
		Find(&workflows).Error
	return workflows, err
}

func (e *Engine) runCronWorkflows(ctx context.Context, now time.Time) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []db.Workflow
		if err := db.RowLock(tx).
			Where("status = ? AND trigger_type = ? AND next_cron_at IS NOT NULL AND next_cron_at <= ?",
				db.WorkflowStatusActive, db.TriggerCron, now).
			Limit(e.cfg.BatchSize).
			Find(&due).Error; err != nil {
			return err
		}

		for i := range due {
			if err := e.fireCronWorkflow(tx, &due[i], now); err != nil {
				log.WithError(err).WithField("workflow_id", due[i].ID).Error("cron 工作流触发失败")
			}
		}
		return nil
	})
}

func (e *Engine) fireCronWorkflow(tx *gorm.DB, workflow *db.Workflow, now time.Time) error {
	correlationID := newCorrelationID()
	created, err := e.enrollConfirmedSubscribers(tx, workflow, correlationID, now)
	if err != nil {
		return err
	}

	next, err := service.NextCronTime(workflow.CronExpr, now)
	if err != nil {
		// 表达式保存时已校验，解析失败时推迟一天再试
		next = now.Add(24 * time.Hour)
		log.WithError(err).WithField("workflow_id", workflow.ID).Error("cron 表达式解析失败")
	}
	if err := tx.Model(workflow).Update("next_cron_at", next).Error; err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.CronRunsFired.Inc()
	}
	log.WithFields(log.Fields{
		"workflow_id":    workflow.ID,
		"enrolled":       created,
		"next_cron_at":   next.Format(time.RFC3339),
		"correlation_id": correlationID,
	}).Info("cron 工作流已触发")
	return nil
}

func (e *Engine) enrollConfirmedSubscribers(tx *gorm.DB, workflow *db.Workflow, correlationID string, now time.Time) (int, error) {
	var subscriberIDs []uint
	if err := tx.Model(&db.Subscriber{}).
		Where("site_id = ? AND status = ?", workflow.SiteID, db.SubscriberStatusConfirmed).
		Pluck("id", &subscriberIDs).Error; err != nil {
		return 0, err
	}
	return e.enrollBatch(tx, workflow, subscriberIDs, correlationID, now)
}

// enrollBatch 为一批订阅者创建流程实例，同一工作流里已有在途实例的订阅者跳过。
func (e *Engine) enrollBatch(tx *gorm.DB, workflow *db.Workflow, subscriberIDs []uint, correlationID string, now time.Time) (int, error) {
	if len(subscriberIDs) == 0 {
		return 0, nil
	}

	var existing []uint
	if err := tx.Model(&db.Enrollment{}).
		Where("workflow_id = ? AND status = ? AND subscriber_id IN ?",
			workflow.ID, db.EnrollmentStatusActive, subscriberIDs).
		Pluck("subscriber_id", &existing).Error; err != nil {
		return 0, err
	}
	enrolled := make(map[uint]bool, len(existing))
	for _, id := range existing {
		enrolled[id] = true
	}

	created := 0
	for _, subscriberID := range subscriberIDs {
		if enrolled[subscriberID] {
			continue
		}
		enrollment := db.Enrollment{
			WorkflowID:    workflow.ID,
			SiteID:        workflow.SiteID,
			SubscriberID:  subscriberID,
			Status:        db.EnrollmentStatusActive,
			NextRunAt:     now,
			CorrelationID: correlationID,
		}
		if err := tx.Create(&enrollment).Error; err != nil {
			return created, err
		}
		created++
	}

	if created > 0 && e.metrics != nil {
		e.metrics.EnrollmentsStarted.Add(float64(created))
	}
	return created, nil
}

func (e *Engine) runDueEnrollments(ctx context.Context, now time.Time) error {
	var claimed []db.Enrollment
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []db.Enrollment
		if err := db.RowLock(tx).
			Joins("JOIN workflows ON workflows.id = enrollments.workflow_id AND workflows.deleted_at IS NULL AND workflows.status = ?",
				db.WorkflowStatusActive).
			Where("enrollments.status = ? AND enrollments.next_run_at <= ?", db.EnrollmentStatusActive, now).
			Order("enrollments.next_run_at asc").
			Limit(e.cfg.BatchSize).
			Find(&due).Error; err != nil {
			return err
		}

		for i := range due {
			// 先占坑再执行，崩溃后租约到期会重新进入队列
			claim := tx.Model(&db.Enrollment{}).
				Where("id = ? AND status = ?", due[i].ID, db.EnrollmentStatusActive).
				Update("next_run_at", now.Add(enrollmentClaimLease))
			if claim.Error != nil {
				return claim.Error
			}
			if claim.RowsAffected == 0 {
				continue
			}
			claimed = append(claimed, due[i])
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	sem := make(chan struct{}, e.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for i := range claimed {
		sem <- struct{}{}
		wg.Add(1)
		go func(enrollment db.Enrollment) {
			defer wg.Done()
			defer func() { <-sem }()
			e.advanceEnrollment(ctx, &enrollment, now)
		}(claimed[i])
	}
	wg.Wait()
	return nil
}

func (e *Engine) advanceEnrollment(ctx context.Context, enrollment *db.Enrollment, now time.Time) {
	var workflow db.Workflow
	err := e.db.Preload("Steps", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position asc")
	}).First(&workflow, enrollment.WorkflowID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 工作流删除时实例会在同一事务里被取消，这里无需处理
			return
		}
		log.WithError(err).WithField("enrollment_id", enrollment.ID).Error("加载工作流失败")
		return
	}
	if workflow.Status != db.WorkflowStatusActive {
		// 暂停的工作流不执行，实例保持 active 等待恢复
		return
	}

	var subscriber db.Subscriber
	if err := e.db.First(&subscriber, enrollment.SubscriberID).Error; err != nil {
		e.failEnrollment(enrollment, fmt.Errorf("subscriber %d missing", enrollment.SubscriberID))
		return
	}
	if subscriber.Status == db.SubscriberStatusUnsubscribed {
		e.cancelEnrollment(enrollment, "subscriber unsubscribed")
		return
	}

	if enrollment.StepIndex >= len(workflow.Steps) {
		e.completeEnrollment(enrollment)
		return
	}
	step := workflow.Steps[enrollment.StepIndex]

	nextRun, err := e.executeStep(ctx, &workflow, &step, &subscriber, enrollment, now)
	if err != nil {
		e.failEnrollment(enrollment, err)
		return
	}
	if e.metrics != nil {
		e.metrics.StepsExecuted.Inc()
	}

	nextIndex := enrollment.StepIndex + 1
	if nextIndex >= len(workflow.Steps) {
		e.completeEnrollment(enrollment)
		return
	}
	err = e.db.Model(&db.Enrollment{}).
		Where("id = ? AND status = ?", enrollment.ID, db.EnrollmentStatusActive).
		Updates(map[string]interface{}{
			"step_index":  nextIndex,
			"next_run_at": nextRun,
		}).Error
	if err != nil {
		log.WithError(err).WithField("enrollment_id", enrollment.ID).Error("推进实例失败")
	}
}

func (e *Engine) executeStep(ctx context.Context, workflow *db.Workflow, step *db.WorkflowStep, subscriber *db.Subscriber, enrollment *db.Enrollment, now time.Time) (time.Time, error) {
	switch step.Kind {
	case db.StepKindWait:
		return now.Add(time.Duration(step.WaitSeconds) * time.Second), nil
	case db.StepKindEmail:
		return now, e.executeEmailStep(workflow, step, subscriber)
	case db.StepKindAddTag:
		return now, e.subscribers.AddTag(workflow.SiteID, subscriber.ID, step.TagName)
	case db.StepKindWebhook:
		return now, e.executeWebhookStep(ctx, workflow, step, subscriber, enrollment)
	default:
		return now, fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

type emailTemplateData struct {
	Name  string
	Email string
	Site  string
}

func (e *Engine) executeEmailStep(workflow *db.Workflow, step *db.WorkflowStep, subscriber *db.Subscriber) error {
	site, err := e.sites.Get(workflow.SiteID)
	if err != nil {
		return fmt.Errorf("加载站点失败: %w", err)
	}

	language := locale.NormalizeLanguage(subscriber.Language)
	if language == "" {
		language = site.DefaultLanguage
	}
	name := strings.TrimSpace(subscriber.Name)
	if name == "" {
		name = locale.Pick(language, "there", "朋友")
	}

	data := emailTemplateData{Name: name, Email: subscriber.Email, Site: site.Name}
	subject, err := renderEmailTemplate("subject", step.Subject, data)
	if err != nil {
		return fmt.Errorf("渲染邮件主题失败: %w", err)
	}
	body, err := renderEmailTemplate("body", step.BodyTemplate, data)
	if err != nil {
		return fmt.Errorf("渲染邮件正文失败: %w", err)
	}

	_, err = e.outbox.Enqueue(workflow.SiteID, subscriber.ID, subscriber.Email, subject, body)
	return err
}

func renderEmailTemplate(name, text string, data emailTemplateData) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func (e *Engine) executeWebhookStep(ctx context.Context, workflow *db.Workflow, step *db.WorkflowStep, subscriber *db.Subscriber, enrollment *db.Enrollment) error {
	payload := map[string]interface{}{
		"event":          "workflow.step",
		"site_id":        workflow.SiteID,
		"workflow_id":    workflow.ID,
		"workflow_name":  workflow.Name,
		"subscriber_id":  subscriber.ID,
		"email":          subscriber.Email,
		"step_position":  step.Position,
		"correlation_id": enrollment.CorrelationID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, step.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "presshub-automation/1.0")

	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("请求 webhook 失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook 返回状态 %d", resp.StatusCode)
	}
	return nil
}

func (e *Engine) completeEnrollment(enrollment *db.Enrollment) {
	err := e.db.Model(&db.Enrollment{}).
		Where("id = ? AND status = ?", enrollment.ID, db.EnrollmentStatusActive).
		Update("status", db.EnrollmentStatusCompleted).Error
	if err != nil {
		log.WithError(err).WithField("enrollment_id", enrollment.ID).Error("完成实例失败")
		return
	}
	if e.metrics != nil {
		e.metrics.EnrollmentsCompleted.Inc()
	}
}

func (e *Engine) cancelEnrollment(enrollment *db.Enrollment, note string) {
	err := e.db.Model(&db.Enrollment{}).
		Where("id = ? AND status = ?", enrollment.ID, db.EnrollmentStatusActive).
		Updates(map[string]interface{}{
			"status":     db.EnrollmentStatusCancelled,
			"last_error": note,
		}).Error
	if err != nil {
		log.WithError(err).WithField("enrollment_id", enrollment.ID).Error("取消实例失败")
	}
}

func (e *Engine) failEnrollment(enrollment *db.Enrollment, cause error) {
	message := cause.Error()
	if runes := []rune(message); len(runes) > 500 {
		message = string(runes[:500])
	}
	err := e.db.Model(&db.Enrollment{}).
		Where("id = ? AND status = ?", enrollment.ID, db.EnrollmentStatusActive).
		Updates(map[string]interface{}{
			"status":     db.EnrollmentStatusFailed,
			"last_error": message,
		}).Error
	if err != nil {
		log.WithError(err).WithField("enrollment_id", enrollment.ID).Error("标记实例失败状态时出错")
		return
	}
	log.WithError(cause).WithFields(log.Fields{
		"enrollment_id": enrollment.ID,
		"workflow_id":   enrollment.WorkflowID,
		"step_index":    enrollment.StepIndex,
	}).Warn("工作流步骤执行失败")
	if e.metrics != nil {
		e.metrics.EnrollmentsFailed.Inc()
	}
}

func (e *Engine) recoverMissedRuns(ctx context.Context) {
	now := time.Now().UTC()
	cutoff := now.Add(-e.cfg.MissedWindow)

	skipped, err := e.skipStaleEnrollmentSteps(ctx, now, cutoff)
	if err != nil {
		log.WithError(err).Error("恢复漏跑实例失败")
	}

	missed, err := e.advanceStaleCronWorkflows(ctx, now, cutoff)
	if err != nil {
		log.WithError(err).Error("恢复漏跑 cron 工作流失败")
	}

	if skipped > 0 || missed > 0 {
		log.WithFields(log.Fields{
			"steps_skipped":  skipped,
			"cron_runs_miss": missed,
		}).Info("漏跑恢复完成")
	}
}

// skipStaleEnrollmentSteps 跳过超出漏跑窗口的步骤：过期的营销动作补发只会打扰用户。
func (e *Engine) skipStaleEnrollmentSteps(ctx context.Context, now, cutoff time.Time) (int, error) {
	skipped := 0
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stale []db.Enrollment
		if err := db.RowLock(tx).
			Where("status = ? AND next_run_at < ?", db.EnrollmentStatusActive, cutoff).
			Limit(e.cfg.BatchSize).
			Find(&stale).Error; err != nil {
			return err
		}

		for i := range stale {
			enrollment := stale[i]
			var stepCount int64
			if err := tx.Model(&db.WorkflowStep{}).
				Where("workflow_id = ?", enrollment.WorkflowID).
				Count(&stepCount).Error; err != nil {
				return err
			}

			updates := map[string]interface{}{
				"step_index":  enrollment.StepIndex + 1,
				"next_run_at": now,
			}
			if int64(enrollment.StepIndex+1) >= stepCount {
				updates = map[string]interface{}{"status": db.EnrollmentStatusCompleted}
			}
			if err := tx.Model(&db.Enrollment{}).
				Where("id = ? AND status = ?", enrollment.ID, db.EnrollmentStatusActive).
				Updates(updates).Error; err != nil {
				return err
			}
			skipped++
			if e.metrics != nil {
				e.metrics.StepsSkipped.Inc()
			}
		}
		return nil
	})
	return skipped, err
}

func (e *Engine) advanceStaleCronWorkflows(ctx context.Context, now, cutoff time.Time) (int, error) {
	missed := 0
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stale []db.Workflow
		if err := db.RowLock(tx).
			Where("status = ? AND trigger_type = ? AND next_cron_at IS NOT NULL AND next_cron_at < ?",
				db.WorkflowStatusActive, db.TriggerCron, cutoff).
			Limit(e.cfg.BatchSize).
			Find(&stale).Error; err != nil {
			return err
		}

		for i := range stale {
			workflow := stale[i]
			next, err := service.NextCronTime(workflow.CronExpr, now)
			if err != nil {
				next = now.Add(24 * time.Hour)
			}
			if err := tx.Model(&workflow).Update("next_cron_at", next).Error; err != nil {
				return err
			}
			missed++
			if e.metrics != nil {
				e.metrics.CronRunsMissed.Inc()
			}
		}
		return nil
	})
	return missed, err
}

func newCorrelationID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
