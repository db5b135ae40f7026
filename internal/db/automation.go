package db

import (
	"time"

	"gorm.io/gorm"
)

// 工作流状态。
const (
	WorkflowStatusDraft  = "draft"
	WorkflowStatusActive = "active"
	WorkflowStatusPaused = "paused"
)

// 工作流触发类型。
const (
	TriggerSubscriberConfirmed = "subscriber_confirmed"
	TriggerArticlePublished    = "article_published"
	TriggerManual              = "manual"
	TriggerCron                = "cron"
)

// 工作流步骤类型。
const (
	StepKindEmail   = "email"
	StepKindWait    = "wait"
	StepKindAddTag  = "add_tag"
	StepKindWebhook = "webhook"
)

// 流程实例状态。
const (
	EnrollmentStatusActive    = "active"
	EnrollmentStatusCompleted = "completed"
	EnrollmentStatusCancelled = "cancelled"
	EnrollmentStatusFailed    = "failed"
)

// 外发邮件状态。
const (
	EmailStatusQueued = "queued"
	EmailStatusSent   = "sent"
	EmailStatusFailed = "failed"
)

// Workflow 定义了营销自动化工作流：一个触发器加一串有序步骤。
type Workflow struct {
	gorm.Model
	SiteID      uint           `gorm:"index;not null"`
	Name        string         `gorm:"size:120;not null"`
	Status      string         `gorm:"size:20;default:draft;index"`
	TriggerType string         `gorm:"size:40;not null"`
	CronExpr    string         `gorm:"size:80"`
	NextCronAt  *time.Time     `gorm:"index"`
	Steps       []WorkflowStep `gorm:"constraint:OnDelete:CASCADE"`
}

// WorkflowStep 定义了工作流中的单个步骤，Position 从 0 起连续递增。
type WorkflowStep struct {
	gorm.Model
	WorkflowID   uint   `gorm:"index;not null"`
	Position     int    `gorm:"not null"`
	Kind         string `gorm:"size:20;not null"`
	Subject      string `gorm:"size:255"`
	BodyTemplate string `gorm:"type:text"`
	WaitSeconds  int64
	TagName      string `gorm:"size:80"`
	WebhookURL   string `gorm:"size:255"`
}

// TableName 指定自定义表名。
func (WorkflowStep) TableName() string {
	return "workflow_steps"
}

// Enrollment 是订阅者在某个工作流中的执行实例，
// StepIndex 单调递增，NextRunAt 决定引擎何时推进。
type Enrollment struct {
	gorm.Model
	WorkflowID    uint `gorm:"index;not null;uniqueIndex:idx_enrollment_active,where:status = 'active'"`
	SiteID        uint `gorm:"index;not null"`
	SubscriberID  uint `gorm:"index;not null;uniqueIndex:idx_enrollment_active,where:status = 'active'"`
	StepIndex     int
	Status        string    `gorm:"size:20;default:active;index"`
	NextRunAt     time.Time `gorm:"index"`
	CorrelationID string    `gorm:"size:32"`
	LastError     string    `gorm:"size:500"`
}

// EmailMessage 是外发邮件的 outbox 记录，由投递循环消费。
type EmailMessage struct {
	gorm.Model
	SiteID       uint   `gorm:"index;not null"`
	SubscriberID uint   `gorm:"index"`
	ToEmail      string `gorm:"size:255;not null"`
	Subject      string `gorm:"size:255"`
	Body         string `gorm:"type:text"`
	Status       string `gorm:"size:20;default:queued;index"`
	SentAt       *time.Time
	LastError    string `gorm:"size:500"`
}

// TableName 指定自定义表名。
func (EmailMessage) TableName() string {
	return "email_messages"
}
