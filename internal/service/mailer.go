package service

import (
	"strings"
	"time"

	"github.com/presshub/internal/db"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Mailer 投递一封已渲染好的邮件。实现方不负责重试，
// 失败由 outbox 记录并在下一轮重新入队。
type Mailer interface {
	Send(message *db.EmailMessage) error
}

// LogMailer 把邮件写进日志，是未接入 SMTP 前的缺省投递方式。
type LogMailer struct{}

// Send 实现 Mailer。
func (LogMailer) Send(message *db.EmailMessage) error {
	log.WithFields(log.Fields{
		"site_id": message.SiteID,
		"to":      message.ToEmail,
		"subject": message.Subject,
	}).Info("投递邮件（日志模式）")
	return nil
}

// OutboxService 维护外发邮件的 outbox：入队、投递与失败记录。
type OutboxService struct {
	db     *gorm.DB
	mailer Mailer
}

// NewOutboxService 构造 OutboxService，mailer 为空时使用日志投递。
func NewOutboxService(gdb *gorm.DB, mailer Mailer) *OutboxService {
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &OutboxService{db: gdb, mailer: mailer}
}

// Enqueue 把一封邮件写入 outbox，等待投递循环消费。
func (s *OutboxService) Enqueue(siteID, subscriberID uint, toEmail, subject, body string) (*db.EmailMessage, error) {
	message := db.EmailMessage{
		SiteID:       siteID,
		SubscriberID: subscriberID,
		ToEmail:      strings.TrimSpace(toEmail),
		Subject:      subject,
		Body:         body,
		Status:       db.EmailStatusQueued,
	}
	if err := s.db.Create(&message).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

// DeliverPending 投递最多 limit 封排队中的邮件，返回成功数。
// 每封信先抢占再投递，多个投递循环并发时不会重复发送；
// 投递失败的信标记为 failed 并带上错误信息。
func (s *OutboxService) DeliverPending(limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}

	var pending []db.EmailMessage
	err := s.db.Where("status = ?", db.EmailStatusQueued).
		Order("id asc").
		Limit(limit).
		Find(&pending).Error
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range pending {
		message := &pending[i]

		now := time.Now()
		claim := s.db.Model(&db.EmailMessage{}).
			Where("id = ? AND status = ?", message.ID, db.EmailStatusQueued).
			Updates(map[string]interface{}{"status": db.EmailStatusSent, "sent_at": now})
		if claim.Error != nil {
			return sent, claim.Error
		}
		if claim.RowsAffected == 0 {
			continue
		}

		if err := s.mailer.Send(message); err != nil {
			log.WithError(err).WithField("email_id", message.ID).Warn("邮件投递失败")
			if updateErr := s.db.Model(&db.EmailMessage{}).
				Where("id = ?", message.ID).
				Updates(map[string]interface{}{
					"status":     db.EmailStatusFailed,
					"sent_at":    nil,
					"last_error": truncateError(err, 500),
				}).Error; updateErr != nil {
				return sent, updateErr
			}
			continue
		}
		sent++
	}
	return sent, nil
}

// PendingCount 返回排队中的邮件数。
func (s *OutboxService) PendingCount() (int64, error) {
	var count int64
	err := s.db.Model(&db.EmailMessage{}).Where("status = ?", db.EmailStatusQueued).Count(&count).Error
	return count, err
}

// RequeueFailed 把失败的邮件重新排队，返回受影响的行数。
func (s *OutboxService) RequeueFailed(siteID uint) (int64, error) {
	result := s.db.Model(&db.EmailMessage{}).
		Where("site_id = ? AND status = ?", siteID, db.EmailStatusFailed).
		Updates(map[string]interface{}{"status": db.EmailStatusQueued, "last_error": ""})
	return result.RowsAffected, result.Error
}

// ListMessages 返回站点的最近邮件，供后台排障。
func (s *OutboxService) ListMessages(siteID uint, status string, limit int) ([]db.EmailMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.db.Where("site_id = ?", siteID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var messages []db.EmailMessage
	err := query.Order("id desc").Limit(limit).Find(&messages).Error
	return messages, err
}

func truncateError(err error, max int) string {
	msg := err.Error()
	if len(msg) > max {
		return msg[:max]
	}
	return msg
}
