package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/presshub/internal/db"
	"github.com/presshub/internal/service"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupEngineTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()

	dsn := fmt.Sprintf("file:automation-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}

	if err := gdb.AutoMigrate(
		&db.Site{},
		&db.Subscriber{},
		&db.SubscriberTag{},
		&db.Workflow{},
		&db.WorkflowStep{},
		&db.Enrollment{},
		&db.EmailMessage{},
	); err != nil {
		t.Fatalf("迁移失败: %v", err)
	}

	cleanup := func() {
		sqlDB, err := gdb.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
	return gdb, cleanup
}

// newTestEngine 构造串行执行的引擎，避免内存 sqlite 上的并发写入。
func newTestEngine(gdb *gorm.DB, cfg Config) *Engine {
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 1
	}
	return New(
		gdb,
		cfg,
		service.NewSubscriberService(gdb),
		service.NewOutboxService(gdb, nil),
		service.NewSiteService(gdb),
		nil,
	)
}

func seedEngineSite(t *testing.T, gdb *gorm.DB) *db.Site {
	t.Helper()

	site := db.Site{Slug: "press", Name: "PressHub 测试站", Status: db.SiteStatusActive, DefaultLanguage: "zh"}
	if err := gdb.Create(&site).Error; err != nil {
		t.Fatalf("创建站点失败: %v", err)
	}
	return &site
}

func seedEngineSubscriber(t *testing.T, gdb *gorm.DB, siteID uint, email, name, status string) *db.Subscriber {
	t.Helper()

	subscriber := db.Subscriber{SiteID: siteID, Email: email, Name: name, Status: status, Language: "zh"}
	if err := gdb.Create(&subscriber).Error; err != nil {
		t.Fatalf("创建订阅者失败: %v", err)
	}
	return &subscriber
}

func seedEngineWorkflow(t *testing.T, gdb *gorm.DB, siteID uint, trigger, status string, steps ...db.WorkflowStep) *db.Workflow {
	t.Helper()

	workflow := db.Workflow{
		SiteID:      siteID,
		Name:        "测试流程",
		Status:      status,
		TriggerType: trigger,
		Steps:       steps,
	}
	if err := gdb.Create(&workflow).Error; err != nil {
		t.Fatalf("创建工作流失败: %v", err)
	}
	return &workflow
}

func seedEnrollment(t *testing.T, gdb *gorm.DB, workflow *db.Workflow, subscriberID uint, stepIndex int, nextRunAt time.Time) *db.Enrollment {
	t.Helper()

	enrollment := db.Enrollment{
		WorkflowID:    workflow.ID,
		SiteID:        workflow.SiteID,
		SubscriberID:  subscriberID,
		StepIndex:     stepIndex,
		Status:        db.EnrollmentStatusActive,
		NextRunAt:     nextRunAt,
		CorrelationID: newCorrelationID(),
	}
	if err := gdb.Create(&enrollment).Error; err != nil {
		t.Fatalf("创建流程实例失败: %v", err)
	}
	return &enrollment
}

func reloadEnrollment(t *testing.T, gdb *gorm.DB, id uint) *db.Enrollment {
	t.Helper()

	var enrollment db.Enrollment
	if err := gdb.First(&enrollment, id).Error; err != nil {
		t.Fatalf("读取流程实例失败: %v", err)
	}
	return &enrollment
}

type fakeWebhookClient struct {
	requests []*http.Request
	bodies   []string
	status   int
	err      error
}

func (f *fakeWebhookClient) Do(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	f.requests = append(f.requests, req)
	f.bodies = append(f.bodies, string(body))

	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("{}")),
	}, nil
}

func TestEngineEmailStepRendersIntoOutbox(t *testing.T) {
	gdb, cleanup := setupEngineTestDB(t)
	defer cleanup()

	site := seedEngineSite(t, gdb)
	subscriber := seedEngineSubscriber(t, gdb, site.ID, "zhang@example.com", "张三", db.SubscriberStatusConfirmed)
	workflow := seedEngineWorkflow(t, gdb, site.ID, db.TriggerManual, db.WorkflowStatusActive,
		db.WorkflowStep{Position: 0, Kind: db.StepKindEmail, Subject: "欢迎来到 {{.Site}}", BodyTemplate: "你好 {{.Name}}，你的邮箱是 {{.Email}}。"},
	)

	now := time.Now().UTC()
	enrollment := seedEnrollment(t, gdb, workflow, subscriber.ID, 0, now.Add(-time.Minute))

	engine := newTestEngine(gdb, Config{})
	if err := engine.runDueEnrollments(context.Background(), now); err != nil {
		t.Fatalf("推进到期实例失败: %v", err)
	}

	refreshed := reloadEnrollment(t, gdb, enrollment.ID)
	if refreshed.Status != db.EnrollmentStatusCompleted {
		t.Fatalf("单步工作流执行后应完成，实际 %s", refreshed.Status)
	}

	var messages []db.EmailMessage
	if err := gdb.Find(&messages).Error; err != nil {
		t.Fatalf("读取 outbox 失败: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("期望 1 封邮件入队，实际 %d", len(messages))
	}
	message := messages[0]
	if message.Subject != "欢迎来到 PressHub 测试站" {
		t.Fatalf("邮件主题渲染不符: %s", message.Subject)
	}
	if message.Body != "你好 张三，你的邮箱是 zhang@example.com。" {
		t.Fatalf("邮件正文渲染不符: %s", message.Body)
	}
	if message.Status != db.EmailStatusQueued {
		t.Fatalf("入队邮件应为 queued，实际 %s", message.Status)
	}
	if message.ToEmail != subscriber.Email || message.SiteID != site.ID {
		t.Fatalf("邮件归属不符: %+v", message)
	}
}

func TestEngineWaitStepSchedulesNextRun(t *testing.T) {
	gdb, cleanup := setupEngineTestDB(t)
	defer cleanup()

	site := seedEngineSite(t, gdb)
	subscriber := seedEngineSubscriber(t, gdb, site.ID, "wait@example.com", "", db.SubscriberStatusConfirmed)
	workflow := seedEngineWorkflow(t, gdb, site.ID, db.TriggerManual, db.WorkflowStatusActive,
		db.WorkflowStep{Position: 0, Kind: db.StepKindWait, WaitSeconds: 3600},
		db.WorkflowStep{Position: 1, Kind: db.StepKindEmail, Subject: "稍后见", BodyTemplate: "正文"},
	)

	now := time.Now().UTC()
	enrollment := seedEnrollment(t, gdb, workflow, subscriber.ID, 0, now.Add(-time.Minute))

	engine := newTestEngine(gdb, Config{})
	if err := engine.runDueEnrollments(context.Background(), now); err != nil {
		t.Fatalf("推进到期实例失败: %v", err)
	}

	refreshed := reloadEnrollment(t, gdb, enrollment.ID)
	if refreshed.Status != db.EnrollmentStatusActive {
		t.Fatalf("等待步骤后实例应保持 active，实际 %s", refreshed.Status)
	}
	if refreshed.StepIndex != 1 {
		t.Fatalf("等待步骤执行后应指向下一步，实际 %d", refreshed.StepIndex)
	}
	if refreshed.NextRunAt.Before(now.Add(55 * time.Minute)) {
		t.Fatalf("下次执行时间应推迟约一小时，实际 %v", refreshed.NextRunAt)
	}

	var count int64
	if err := gdb.Model(&db.EmailMessage{}).Count(&count).Error; err != nil {
		t.Fatalf("统计 outbox 失败: %v", err)
	}
	if count != 0 {
		t.Fatalf("等待期间不应发送邮件，实际 %d 封", count)
	}
}

func TestEngineAddTagStep(t *testing.T) {
	gdb, cleanup := setupEngineTestDB(t)
	defer cleanup()

	site := seedEngineSite(t, gdb)
	subscriber := seedEngineSubscriber(t, gdb, site.ID, "tag@example.com", "", db.SubscriberStatusConfirmed)
	workflow := seedEngineWorkflow(t, gdb, site.ID, db.TriggerManual, db.WorkflowStatusActive,
		db.WorkflowStep{Position: 0, Kind: db.StepKindAddTag, TagName: "vip"},
	)

	now := time.Now().UTC()
	enrollment := seedEnrollment(t, gdb, workflow, subscriber.ID, 0, now.Add(-time.Minute))

	engine := newTestEngine(gdb, Config{})
	if err := engine.runDueEnrollments(context.Background(), now); err != nil {
		t.Fatalf("推进到期实例失败: %v", err)
	}

	if got := reloadEnrollment(t, gdb, enrollment.ID); got.Status != db.EnrollmentStatusCompleted {
		t.Fatalf("打标签后实例应完成，实际 %s", got.Status)
	}
	var tags []db.SubscriberTag
	if err := gdb.Where("subscriber_id = ?", subscriber.ID).Find(&tags).Error; err != nil {
		t.Fatalf("读取标签失败: %v", err)
	}
	if len(tags) != 1 || tags[0].Name != "vip" {
		t.Fatalf("期望标签 vip，实际 %+v", tags)
	}
}

func TestEngineWebhookStep(t *testing.T) {
	gdb, cleanup := setupEngineTestDB(t)
	defer cleanup()

	site := seedEngineSite(t, gdb)
	subscriber := seedEngineSubscriber(t, gdb, site.ID, "hook@example.com", "李四", db.SubscriberStatusConfirmed)
	workflow := seedEngineWorkflow(t, gdb, site.ID, db.TriggerManual, db.WorkflowStatusActive,
		db.WorkflowStep{Position: 0, Kind: db.StepKindWebhook, WebhookURL: "https://hooks.example.com/notify"},
	)

	now := time.Now().UTC()
	enrollment := seedEnrollment(t, gdb, workflow, subscriber.ID, 0, now.Add(-time.Minute))

	client := &fakeWebhookClient{}
	engine := newTestEngine(gdb, Config{})
	engine.SetHTTPClient(client)

	if err := engine.runDueEnrollments(context.Background(), now); err != nil {
		t.Fatalf("推进到期实例失败: %v", err)
	}

	if got := reloadEnrollment(t, gdb, enrollment.ID); got.Status != db.EnrollmentStatusCompleted {
		t.Fatalf("webhook 成功后实例应完成，实际 %s", got.Status)
	}
	if len(client.requests) != 1 {
		t.Fatalf("期望 1 次 webhook 调用，实际 %d", len(client.requests))
	}
	req := client.requests[0]
	if req.Method != http.MethodPost || req.URL.String() != "https://hooks.example.com/notify" {
		t.Fatalf("webhook 请求不符: %s %s", req.Method, req.URL)
	}
	if got := req.Header.Get("User-Agent"); got != "presshub-automation/1.0" {
		t.Fatalf("User-Agent 不符: %s", got)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(client.bodies[0]), &payload); err != nil {
		t.Fatalf("解析 webhook 负载失败: %v", err)
	}
	if payload["event"] != "workflow.step" {
		t.Fatalf("event 字段不符: %v", payload["event"])
	}
	if payload["email"] != "hook@example.com" {
		t.Fatalf("email 字段不符: %v", payload["email"])
	}
	if payload["workflow_name"] != "测试流程" {
		t.Fatalf("workflow_name 字段不符: %v", payload["workflow_name"])
	}
	if correlation, _ := payload["correlation_id"].(string); len(correlation) != 32 {
		t.Fatalf("correlation_id 应为 32 位，实际 %v", payload["correlation_id"])
	}
}

func TestEngineWebhookFailureMarksFailed(t *testing.T) {
	gdb, cleanup := setupEngineTestDB(t)
	defer cleanup()

	site := seedEngineSite(t, gdb)
	subscriber := seedEngineSubscriber(t, gdb, site.ID, "fail@example.com", "", db.SubscriberStatusConfirmed)
	workflow := seedEngineWorkflow(t, gdb, site.ID, db.TriggerManual, db.WorkflowStatusActive,
		db.WorkflowStep{Position: 0, Kind: db.StepKindWebhook, WebhookURL: "https://hooks.example.com/broken"},
	)

	now := time.Now().UTC()
	enrollment := seedEnrollment(t, gdb, workflow, subscriber.ID, 0, now.Add(-time.Minute))

	engine := newTestEngine(gdb, Config{})
	engine.SetHTTPClient(&fakeWebhookClient{status: http.StatusInternalServerError})

	if err := engine.runDueEnrollments(context.Background(), now); err != nil {
		t.Fatalf("推进到期实例失败: %v", err)
	}

	refreshed := reloadEnrollment(t, gdb, enrollment.ID)
	if refreshed.Status != db.EnrollmentStatusFailed {
		t.Fatalf("webhook 失败后实例应标记 failed，实际 %s", refreshed.Status)
	}
	if !strings.Contains(refreshed.LastError, "500") {
		t.Fatalf("LastError 应包含状态码，实际 %s", refreshed.LastError)
	}
}

func TestEngineUnsubscribedCancelled(t *testing.T) {
	gdb, cleanup := setupEngineTestDB(t)
	defer cleanup()

	site := seedEngineSite(t, gdb)
	subscriber := seedEngineSubscriber(t, gdb, site.ID, "gone@example.com", "", db.SubscriberStatusUnsubscribed)
	workflow := seedEngineWorkflow(t, gdb, site.ID, db.TriggerManual, db.WorkflowStatusActive,
		db.WorkflowStep{Position: 0, Kind: db.StepKindEmail, Subject: "标题", BodyTemplate: "正文"},
	)

	now := time.Now().UTC()
	enrollment := seedEnrollment(t, gdb, workflow, subscriber.ID, 0, now.Add(-time.Minute))

	engine := newTestEngine(gdb, Config{})
	if err := engine.runDueEnrollments(context.Background(), now); err != nil {
		t.Fatalf("推进到期实例失败: %v", err)
	}

	refreshed := reloadEnrollment(t, gdb, enrollment.ID)
	if refreshed.Status != db.EnrollmentStatusCancelled {
		t.Fatalf("退订后实例应取消，实际 %s", refreshed.Status)
	}

	var count int64
	if err := gdb.Model(&db.EmailMessage{}).Count(&count).Error; err != nil {
		t.Fatalf("统计 outbox 失败: %v", err)
	}
	if count != 0 {
		t.Fatalf("退订用户不应收到邮件，实际 %d 封", count)
	}
}

func TestEnginePausedWorkflowNotExecuted(t *testing.T) {
	gdb, cleanup := setupEngineTestDB(t)
	defer cleanup()

	site := seedEngineSite(t, gdb)
	subscriber := seedEngineSubscriber(t, gdb, site.ID, "pause@example.com", "", db.SubscriberStatusConfirmed)
	workflow := seedEngineWorkflow(t, gdb, site.ID, db.TriggerManual, db.WorkflowStatusPaused,
		db.WorkflowStep{Position: 0, Kind: db.StepKindEmail, Subject: "标题", BodyTemplate: "正文"},
	)

	now := time.Now().UTC()
	due := now.Add(-time.Minute)
	enrollment := seedEnrollment(t, gdb, workflow, subscriber.ID, 0, due)

	engine := newTestEngine(gdb, Config{})
	if err := engine.runDueEnrollments(context.Background(), now); err != nil {
		t.Fatalf("推进到期实例失败: %v", err)
	}

	refreshed := reloadEnrollment(t, gdb, enrollment.ID)
	if refreshed.Status != db.EnrollmentStatusActive || refreshed.StepIndex != 0 {
		t.Fatalf("暂停工作流的实例不应被执行: %+v", refreshed)
	}
	if refreshed.NextRunAt.Unix() != due.Unix() {
		t.Fatalf("暂停工作流的实例不应被占用，期望 %v 实际 %v", due, refreshed.NextRunAt)
	}
}

func TestEngineCompletesPastLastStep(t *testing.T) {
	gdb, cleanup := setupEngineTestDB(t)
	defer cleanup()

	site := seedEngineSite(t, gdb)
	subscriber := seedEngineSubscriber(t, gdb, site.ID, "done@example.com", "", db.SubscriberStatusConfirmed)
	workflow := seedEngineWorkflow(t, gdb, site.ID, db.TriggerManual, db.WorkflowStatusActive,
		db.WorkflowStep{Position: 0, Kind: db.StepKindWait, WaitSeconds: 60},
	)

	now := time.Now().UTC()
	enrollment := seedEnrollment(t, gdb, workflow, subscriber.ID, 5, now.Add(-time.Minute))

	engine := newTestEngine(gdb, Config{})
	if err := engine.runDueEnrollments(context.Background(), now); err != nil {
		t.Fatalf("推进到期实例失败: %v", err)
	}

	if got := reloadEnrollment(t, gdb, enrollment.ID); got.Status != db.EnrollmentStatusCompleted {
		t.Fatalf("越过末步的实例应直接完成，实际 %s", got.Status)
	}
}

func TestEngineTemplateErrorFailsStep(t *testing.T) {
	gdb, cleanup := setupEngineTestDB(t)
	defer cleanup()

	site := seedEngineSite(t, gdb)
	subscriber := seedEngineSubscriber(t, gdb, site.ID, "tpl@example.com", "", db.SubscriberStatusConfirmed)
	workflow := seedEngineWorkflow(t, gdb, site.ID, db.TriggerManual, db.WorkflowStatusActive,
		db.WorkflowStep{Position: 0, Kind: db.StepKindEmail, Subject: "{{.Name", BodyTemplate: "正文"},
	)

	now := time.Now().UTC()
	enrollment := seedEnrollment(t, gdb, workflow, subscriber.ID, 0, now.Add(-time.Minute))

	engine := newTestEngine(gdb, Config{})
	if err := engine.runDueEnrollments(context.Background(), now); err != nil {
		t.Fatalf("推进到期实例失败: %v", err)
	}

	refreshed := reloadEnrollment(t, gdb, enrollment.ID)
	if refreshed.Status != db.EnrollmentStatusFailed {
		t.Fatalf("模板渲染失败应标记实例 failed，实际 %s", refreshed.Status)
	}
	if !strings.Contains(refreshed.LastError, "渲染邮件主题失败") {
		t.Fatalf("LastError 不符: %s", refreshed.LastError)
	}

	var count int64
	if err := gdb.Model(&db.EmailMessage{}).Count(&count).Error; err != nil {
		t.Fatalf("统计 outbox 失败: %v", err)
	}
	if count != 0 {
		t.Fatalf("渲染失败不应入队邮件，实际 %d 封", count)
	}
}

func TestEngineCronFiresAndAdvances(t *testing.T) {
	gdb, cleanup := setupEngineTestDB(t)
	defer cleanup()

	site := seedEngineSite(t, gdb)
	first := seedEngineSubscriber(t, gdb, site.ID, "a@example.com", "", db.SubscriberStatusConfirmed)
	second := seedEngineSubscriber(t, gdb, site.ID, "b@example.com", "", db.SubscriberStatusConfirmed)
	seedEngineSubscriber(t, gdb, site.ID, "c@example.com", "", db.SubscriberStatusPending)

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	workflow := seedEngineWorkflow(t, gdb, site.ID, db.TriggerCron, db.WorkflowStatusActive,
		db.WorkflowStep{Position: 0, Kind: db.StepKindEmail, Subject: "每日更新", BodyTemplate: "内容"},
	)
	if err := gdb.Model(workflow).Updates(map[string]interface{}{
		"cron_expr":    "0 9 * * *",
		"next_cron_at": past,
	}).Error; err != nil {
		t.Fatalf("更新工作流失败: %v", err)
	}

	engine := newTestEngine(gdb, Config{})
	if err := engine.runCronWorkflows(context.Background(), now); err != nil {
		t.Fatalf("cron 轮询失败: %v", err)
	}

	var enrollments []db.Enrollment
	if err := gdb.Order("subscriber_id asc").Find(&enrollments).Error; err != nil {
		t.Fatalf("读取实例失败: %v", err)
	}
	if len(enrollments) != 2 {
		t.Fatalf("只有已确认订阅者应入组，期望 2 实际 %d", len(enrollments))
	}
	if enrollments[0].SubscriberID != first.ID || enrollments[1].SubscriberID != second.ID {
		t.Fatalf("入组订阅者不符: %+v", enrollments)
	}
	if enrollments[0].CorrelationID == "" || enrollments[0].CorrelationID != enrollments[1].CorrelationID {
		t.Fatalf("同批次实例应共享 correlation_id: %+v", enrollments)
	}

	var refreshed db.Workflow
	if err := gdb.First(&refreshed, workflow.ID).Error; err != nil {
		t.Fatalf("读取工作流失败: %v", err)
	}
	if refreshed.NextCronAt == nil || !refreshed.NextCronAt.After(now) {
		t.Fatalf("触发后 next_cron_at 应推进到将来，实际 %v", refreshed.NextCronAt)
	}
}

func TestEngineFireSubscriberConfirmedDedup(t *testing.T) {
	gdb, cleanup := setupEngineTestDB(t)
	defer cleanup()

	site := seedEngineSite(t, gdb)
	subscriber := seedEngineSubscriber(t, gdb, site.ID, "confirm@example.com", "", db.SubscriberStatusConfirmed)
	workflow := seedEngineWorkflow(t, gdb, site.ID, db.TriggerSubscriberConfirmed, db.WorkflowStatusActive,
		db.WorkflowStep{Position: 0, Kind: db.StepKindEmail, Subject: "欢迎", BodyTemplate: "你好"},
	)
	// 草稿工作流不应被触发
	seedEngineWorkflow(t, gdb, site.ID, db.TriggerSubscriberConfirmed, db.WorkflowStatusDraft,
		db.WorkflowStep{Position: 0, Kind: db.StepKindEmail, Subject: "草稿", BodyTemplate: "正文"},
	)

	engine := newTestEngine(gdb, Config{})
	if err := engine.FireSubscriberConfirmed(site.ID, subscriber.ID); err != nil {
		t.Fatalf("触发订阅确认失败: %v", err)
	}
	if err := engine.FireSubscriberConfirmed(site.ID, subscriber.ID); err != nil {
		t.Fatalf("重复触发不应报错: %v", err)
	}

	var enrollments []db.Enrollment
	if err := gdb.Find(&enrollments).Error; err != nil {
		t.Fatalf("读取实例失败: %v", err)
	}
	if len(enrollments) != 1 {
		t.Fatalf("同一订阅者在同一工作流应只有一个在途实例，实际 %d", len(enrollments))
	}
	if enrollments[0].WorkflowID != workflow.ID {
		t.Fatalf("实例应挂在激活工作流上: %+v", enrollments[0])
	}
}

func TestEngineFireArticlePublishedEnrollsConfirmed(t *testing.T) {
	gdb, cleanup := setupEngineTestDB(t)
	defer cleanup()

	site := seedEngineSite(t, gdb)
	seedEngineSubscriber(t, gdb, site.ID, "x@example.com", "", db.SubscriberStatusConfirmed)
	seedEngineSubscriber(t, gdb, site.ID, "y@example.com", "", db.SubscriberStatusConfirmed)
	seedEngineSubscriber(t, gdb, site.ID, "z@example.com", "", db.SubscriberStatusUnsubscribed)
	seedEngineWorkflow(t, gdb, site.ID, db.TriggerArticlePublished, db.WorkflowStatusActive,
		db.WorkflowStep{Position: 0, Kind: db.StepKindEmail, Subject: "新文章", BodyTemplate: "内容"},
	)

	engine := newTestEngine(gdb, Config{})
	if err := engine.FireArticlePublished(site.ID, 42); err != nil {
		t.Fatalf("触发文章发布失败: %v", err)
	}

	var count int64
	if err := gdb.Model(&db.Enrollment{}).Count(&count).Error; err != nil {
		t.Fatalf("统计实例失败: %v", err)
	}
	if count != 2 {
		t.Fatalf("只有已确认订阅者应入组，期望 2 实际 %d", count)
	}
}

func TestEngineRecoverSkipsStaleSteps(t *testing.T) {
	gdb, cleanup := setupEngineTestDB(t)
	defer cleanup()

	site := seedEngineSite(t, gdb)
	first := seedEngineSubscriber(t, gdb, site.ID, "stale1@example.com", "", db.SubscriberStatusConfirmed)
	second := seedEngineSubscriber(t, gdb, site.ID, "stale2@example.com", "", db.SubscriberStatusConfirmed)
	third := seedEngineSubscriber(t, gdb, site.ID, "fresh@example.com", "", db.SubscriberStatusConfirmed)
	workflow := seedEngineWorkflow(t, gdb, site.ID, db.TriggerManual, db.WorkflowStatusActive,
		db.WorkflowStep{Position: 0, Kind: db.StepKindEmail, Subject: "第一封", BodyTemplate: "正文"},
		db.WorkflowStep{Position: 1, Kind: db.StepKindEmail, Subject: "第二封", BodyTemplate: "正文"},
	)

	now := time.Now().UTC()
	cutoff := now.Add(-time.Hour)
	midway := seedEnrollment(t, gdb, workflow, first.ID, 0, now.Add(-2*time.Hour))
	atLast := seedEnrollment(t, gdb, workflow, second.ID, 1, now.Add(-2*time.Hour))
	fresh := seedEnrollment(t, gdb, workflow, third.ID, 0, now.Add(-10*time.Minute))

	engine := newTestEngine(gdb, Config{MissedWindow: time.Hour})
	skipped, err := engine.skipStaleEnrollmentSteps(context.Background(), now, cutoff)
	if err != nil {
		t.Fatalf("漏跑恢复失败: %v", err)
	}
	if skipped != 2 {
		t.Fatalf("期望跳过 2 个实例，实际 %d", skipped)
	}

	if got := reloadEnrollment(t, gdb, midway.ID); got.Status != db.EnrollmentStatusActive || got.StepIndex != 1 {
		t.Fatalf("过期步骤应被跳过而非执行: %+v", got)
	}
	if got := reloadEnrollment(t, gdb, atLast.ID); got.Status != db.EnrollmentStatusCompleted {
		t.Fatalf("末步过期的实例应直接完成，实际 %s", got.Status)
	}
	if got := reloadEnrollment(t, gdb, fresh.ID); got.StepIndex != 0 || got.Status != db.EnrollmentStatusActive {
		t.Fatalf("窗口内的实例不应被跳过: %+v", got)
	}

	var count int64
	if err := gdb.Model(&db.EmailMessage{}).Count(&count).Error; err != nil {
		t.Fatalf("统计 outbox 失败: %v", err)
	}
	if count != 0 {
		t.Fatalf("跳过的步骤不应发送邮件，实际 %d 封", count)
	}
}

func TestEngineRecoverAdvancesStaleCron(t *testing.T) {
	gdb, cleanup := setupEngineTestDB(t)
	defer cleanup()

	site := seedEngineSite(t, gdb)
	now := time.Now().UTC()
	stalePast := now.Add(-2 * time.Hour)
	freshPast := now.Add(-30 * time.Minute)

	stale := seedEngineWorkflow(t, gdb, site.ID, db.TriggerCron, db.WorkflowStatusActive,
		db.WorkflowStep{Position: 0, Kind: db.StepKindEmail, Subject: "标题", BodyTemplate: "正文"},
	)
	if err := gdb.Model(stale).Updates(map[string]interface{}{
		"cron_expr":    "0 9 * * *",
		"next_cron_at": stalePast,
	}).Error; err != nil {
		t.Fatalf("更新工作流失败: %v", err)
	}

	fresh := seedEngineWorkflow(t, gdb, site.ID, db.TriggerCron, db.WorkflowStatusActive,
		db.WorkflowStep{Position: 0, Kind: db.StepKindEmail, Subject: "标题", BodyTemplate: "正文"},
	)
	if err := gdb.Model(fresh).Updates(map[string]interface{}{
		"cron_expr":    "0 9 * * *",
		"next_cron_at": freshPast,
	}).Error; err != nil {
		t.Fatalf("更新工作流失败: %v", err)
	}

	engine := newTestEngine(gdb, Config{MissedWindow: time.Hour})
	missed, err := engine.advanceStaleCronWorkflows(context.Background(), now, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("cron 漏跑恢复失败: %v", err)
	}
	if missed != 1 {
		t.Fatalf("期望恢复 1 个工作流，实际 %d", missed)
	}

	var refreshed db.Workflow
	if err := gdb.First(&refreshed, stale.ID).Error; err != nil {
		t.Fatalf("读取工作流失败: %v", err)
	}
	if refreshed.NextCronAt == nil || !refreshed.NextCronAt.After(now) {
		t.Fatalf("漏跑的 cron 应推进到将来而不补跑，实际 %v", refreshed.NextCronAt)
	}

	var untouched db.Workflow
	if err := gdb.First(&untouched, fresh.ID).Error; err != nil {
		t.Fatalf("读取工作流失败: %v", err)
	}
	if untouched.NextCronAt == nil || untouched.NextCronAt.Unix() != freshPast.Unix() {
		t.Fatalf("窗口内的 cron 不应被改动，实际 %v", untouched.NextCronAt)
	}

	var count int64
	if err := gdb.Model(&db.Enrollment{}).Count(&count).Error; err != nil {
		t.Fatalf("统计实例失败: %v", err)
	}
	if count != 0 {
		t.Fatalf("漏跑恢复不应创建实例，实际 %d", count)
	}
}
