package service

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/presshub/internal/db"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

var (
	ErrWorkflowNotFound    = errors.New("workflow not found")
	ErrWorkflowNameMissing = errors.New("workflow name is required")
	ErrWorkflowTrigger     = errors.New("unknown workflow trigger")
	ErrWorkflowCronExpr    = errors.New("invalid cron expression")
	ErrWorkflowSteps       = errors.New("workflow steps are invalid")
	ErrWorkflowState       = errors.New("workflow state does not allow this operation")
	ErrEnrollmentNotFound  = errors.New("enrollment not found")
)

// 标准五段 cron，不带秒
var workflowCronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// WorkflowService 管理营销自动化工作流的定义与启停。
// 实际的步骤执行在 automation 引擎里。
type WorkflowService struct {
	db *gorm.DB
}

// WorkflowInput 创建或更新工作流的入参
type WorkflowInput struct {
	Name        string
	TriggerType string
	CronExpr    string
	Steps       []WorkflowStepInput
}

// WorkflowStepInput 单个步骤的入参
type WorkflowStepInput struct {
	Kind         string
	Subject      string
	BodyTemplate string
	WaitSeconds  int64
	TagName      string
	WebhookURL   string
}

// EnrollmentListResult 流程实例的分页结果
type EnrollmentListResult struct {
	Enrollments []db.Enrollment
	Total       int64
	TotalPages  int
	Page        int
	PerPage     int
}

func NewWorkflowService(gdb *gorm.DB) *WorkflowService {
	return &WorkflowService{db: gdb}
}

// NextCronTime 计算 cron 表达式在 after 之后的下一次触发时间
func NextCronTime(expr string, after time.Time) (time.Time, error) {
	schedule, err := workflowCronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrWorkflowCronExpr, expr)
	}
	return schedule.Next(after), nil
}

// List 返回站点全部工作流，步骤按位置排序
func (s *WorkflowService) List(siteID uint) ([]db.Workflow, error) {
	var workflows []db.Workflow
	err := s.db.Where("site_id = ?", siteID).
		Preload("Steps", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("workflow_steps.position asc")
		}).
		Order("created_at desc").
		Find(&workflows).Error
	return workflows, err
}

// Get 获取单个工作流
func (s *WorkflowService) Get(siteID, id uint) (*db.Workflow, error) {
	var workflow db.Workflow
	err := s.db.Where("site_id = ?", siteID).
		Preload("Steps", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("workflow_steps.position asc")
		}).
		First(&workflow, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}
	return &workflow, nil
}

// Create 新建工作流，初始状态为草稿
func (s *WorkflowService) Create(siteID uint, input WorkflowInput) (*db.Workflow, error) {
	name, trigger, cronExpr, err := validateWorkflowInput(input)
	if err != nil {
		return nil, err
	}
	steps, err := buildWorkflowSteps(input.Steps)
	if err != nil {
		return nil, err
	}

	workflow := db.Workflow{
		SiteID:      siteID,
		Name:        name,
		Status:      db.WorkflowStatusDraft,
		TriggerType: trigger,
		CronExpr:    cronExpr,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&workflow).Error; err != nil {
			return err
		}
		for i := range steps {
			steps[i].WorkflowID = workflow.ID
		}
		if len(steps) > 0 {
			return tx.Create(&steps).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(siteID, workflow.ID)
}

// Update 整体替换工作流定义。运行中的工作流不允许编辑，
// 否则在途实例的步骤下标会指向错误的步骤。
func (s *WorkflowService) Update(siteID, id uint, input WorkflowInput) (*db.Workflow, error) {
	workflow, err := s.Get(siteID, id)
	if err != nil {
		return nil, err
	}
	if workflow.Status == db.WorkflowStatusActive {
		return nil, fmt.Errorf("%w: pause it before editing", ErrWorkflowState)
	}

	name, trigger, cronExpr, err := validateWorkflowInput(input)
	if err != nil {
		return nil, err
	}
	steps, err := buildWorkflowSteps(input.Steps)
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(workflow).Updates(map[string]interface{}{
			"name":         name,
			"trigger_type": trigger,
			"cron_expr":    cronExpr,
			"next_cron_at": nil,
		}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("workflow_id = ?", workflow.ID).Delete(&db.WorkflowStep{}).Error; err != nil {
			return err
		}
		for i := range steps {
			steps[i].WorkflowID = workflow.ID
		}
		if len(steps) > 0 {
			return tx.Create(&steps).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(siteID, id)
}

// Delete 删除工作流，在途实例标记为取消
func (s *WorkflowService) Delete(siteID, id uint) error {
	workflow, err := s.Get(siteID, id)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&db.Enrollment{}).
			Where("workflow_id = ? AND status = ?", workflow.ID, db.EnrollmentStatusActive).
			Update("status", db.EnrollmentStatusCancelled).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("workflow_id = ?", workflow.ID).Delete(&db.WorkflowStep{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(workflow).Error
	})
}

// Activate 启用工作流；cron 触发的工作流顺带计算下一次触发时间
func (s *WorkflowService) Activate(siteID, id uint) (*db.Workflow, error) {
	workflow, err := s.Get(siteID, id)
	if err != nil {
		return nil, err
	}
	if workflow.Status == db.WorkflowStatusActive {
		return workflow, nil
	}
	if len(workflow.Steps) == 0 {
		return nil, fmt.Errorf("%w: at least one step is required", ErrWorkflowSteps)
	}

	updates := map[string]interface{}{"status": db.WorkflowStatusActive}
	if workflow.TriggerType == db.TriggerCron {
		next, err := NextCronTime(workflow.CronExpr, time.Now())
		if err != nil {
			return nil, err
		}
		updates["next_cron_at"] = next
	}
	if err := s.db.Model(workflow).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.Get(siteID, id)
}

// Pause 暂停工作流，在途实例停在当前步骤等待恢复
func (s *WorkflowService) Pause(siteID, id uint) (*db.Workflow, error) {
	workflow, err := s.Get(siteID, id)
	if err != nil {
		return nil, err
	}
	if workflow.Status != db.WorkflowStatusActive {
		return nil, fmt.Errorf("%w: only active workflows can be paused", ErrWorkflowState)
	}
	if err := s.db.Model(workflow).Updates(map[string]interface{}{
		"status":       db.WorkflowStatusPaused,
		"next_cron_at": nil,
	}).Error; err != nil {
		return nil, err
	}
	return s.Get(siteID, id)
}

// Enroll 把订阅者放进工作流。同一订阅者在同一工作流里
// 只允许一个在途实例，重复入组返回既有实例。
func (s *WorkflowService) Enroll(siteID, workflowID, subscriberID uint) (*db.Enrollment, error) {
	workflow, err := s.Get(siteID, workflowID)
	if err != nil {
		return nil, err
	}
	if workflow.Status != db.WorkflowStatusActive {
		return nil, fmt.Errorf("%w: workflow is not active", ErrWorkflowState)
	}

	var subscriber db.Subscriber
	if err := s.db.Where("site_id = ?", siteID).First(&subscriber, subscriberID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriberNotFound
		}
		return nil, err
	}

	var existing db.Enrollment
	err = s.db.Where("workflow_id = ? AND subscriber_id = ? AND status = ?",
		workflowID, subscriberID, db.EnrollmentStatusActive).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	enrollment := db.Enrollment{
		WorkflowID:    workflowID,
		SiteID:        siteID,
		SubscriberID:  subscriberID,
		StepIndex:     0,
		Status:        db.EnrollmentStatusActive,
		NextRunAt:     time.Now(),
		CorrelationID: strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
	if err := s.db.Create(&enrollment).Error; err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// CancelEnrollment 取消一个在途实例
func (s *WorkflowService) CancelEnrollment(siteID, enrollmentID uint) error {
	result := s.db.Model(&db.Enrollment{}).
		Where("id = ? AND site_id = ? AND status = ?", enrollmentID, siteID, db.EnrollmentStatusActive).
		Update("status", db.EnrollmentStatusCancelled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEnrollmentNotFound
	}
	return nil
}

// ListEnrollments 工作流实例列表，可按状态过滤
func (s *WorkflowService) ListEnrollments(siteID, workflowID uint, status string, page, perPage int) (*EnrollmentListResult, error) {
	result := &EnrollmentListResult{Page: page, PerPage: perPage}
	if result.Page <= 0 {
		result.Page = 1
	}
	if result.PerPage <= 0 {
		result.PerPage = 20
	}

	query := s.db.Model(&db.Enrollment{}).Where("site_id = ?", siteID)
	if workflowID != 0 {
		query = query.Where("workflow_id = ?", workflowID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&result.Total).Error; err != nil {
		return nil, err
	}
	err := query.Order("created_at desc").
		Limit(result.PerPage).
		Offset((result.Page - 1) * result.PerPage).
		Find(&result.Enrollments).Error
	if err != nil {
		return nil, err
	}

	result.TotalPages = int((result.Total + int64(result.PerPage) - 1) / int64(result.PerPage))
	if result.Total == 0 {
		result.TotalPages = 1
	}
	return result, nil
}

// EnrollmentCounts 每个工作流的在途实例数，列表页角标用
func (s *WorkflowService) EnrollmentCounts(siteID uint) (map[uint]int64, error) {
	var rows []struct {
		WorkflowID uint
		Count      int64
	}
	err := s.db.Model(&db.Enrollment{}).
		Select("workflow_id, COUNT(*) AS count").
		Where("site_id = ? AND status = ?", siteID, db.EnrollmentStatusActive).
		Group("workflow_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[uint]int64, len(rows))
	for _, row := range rows {
		counts[row.WorkflowID] = row.Count
	}
	return counts, nil
}

func validateWorkflowInput(input WorkflowInput) (name, trigger, cronExpr string, err error) {
	name = strings.TrimSpace(input.Name)
	if name == "" {
		return "", "", "", ErrWorkflowNameMissing
	}

	trigger = strings.TrimSpace(input.TriggerType)
	switch trigger {
	case db.TriggerSubscriberConfirmed, db.TriggerArticlePublished, db.TriggerManual:
	case db.TriggerCron:
		cronExpr = strings.TrimSpace(input.CronExpr)
		if _, err := workflowCronParser.Parse(cronExpr); err != nil {
			return "", "", "", fmt.Errorf("%w: %s", ErrWorkflowCronExpr, cronExpr)
		}
	default:
		return "", "", "", fmt.Errorf("%w: %s", ErrWorkflowTrigger, trigger)
	}
	return name, trigger, cronExpr, nil
}

func buildWorkflowSteps(inputs []WorkflowStepInput) ([]db.WorkflowStep, error) {
	steps := make([]db.WorkflowStep, 0, len(inputs))
	for i, input := range inputs {
		step := db.WorkflowStep{
			Position:     i,
			Kind:         strings.TrimSpace(input.Kind),
			Subject:      strings.TrimSpace(input.Subject),
			BodyTemplate: input.BodyTemplate,
			WaitSeconds:  input.WaitSeconds,
			TagName:      normalizeSubscriberTag(input.TagName),
			WebhookURL:   strings.TrimSpace(input.WebhookURL),
		}
		switch step.Kind {
		case db.StepKindEmail:
			if step.Subject == "" || strings.TrimSpace(step.BodyTemplate) == "" {
				return nil, fmt.Errorf("%w: email step %d needs subject and body", ErrWorkflowSteps, i)
			}
		case db.StepKindWait:
			if step.WaitSeconds <= 0 {
				return nil, fmt.Errorf("%w: wait step %d needs a positive duration", ErrWorkflowSteps, i)
			}
		case db.StepKindAddTag:
			if step.TagName == "" {
				return nil, fmt.Errorf("%w: add_tag step %d needs a tag name", ErrWorkflowSteps, i)
			}
		case db.StepKindWebhook:
			parsed, err := url.Parse(step.WebhookURL)
			if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
				return nil, fmt.Errorf("%w: webhook step %d needs an http(s) url", ErrWorkflowSteps, i)
			}
		default:
			return nil, fmt.Errorf("%w: unknown step kind %q", ErrWorkflowSteps, input.Kind)
		}
		steps = append(steps, step)
	}
	return steps, nil
}
