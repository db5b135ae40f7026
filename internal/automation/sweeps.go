package automation

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/presshub/internal/service"
)

// SweeperConfig 控制后台清扫的节奏与批量大小。
type SweeperConfig struct {
	Interval       time.Duration
	PublishBatch   int
	EmailBatch     int
	VisitRetention time.Duration
	PurgeEvery     time.Duration
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.PublishBatch <= 0 {
		c.PublishBatch = 50
	}
	if c.EmailBatch <= 0 {
		c.EmailBatch = 50
	}
	if c.VisitRetention <= 0 {
		c.VisitRetention = 90 * 24 * time.Hour
	}
	if c.PurgeEvery <= 0 {
		c.PurgeEvery = 6 * time.Hour
	}
	return c
}

// Sweeper 驱动周期性的后台维护：发布到点的定时文章、
// 结束投放窗口已过的广告活动、投递 outbox 邮件、清理过期的访客明细。
type Sweeper struct {
	articles  *service.ArticleService
	ads       *service.AdService
	analytics *service.AnalyticsService
	outbox    *service.OutboxService
	engine    *Engine
	cfg       SweeperConfig
	lastPurge time.Time
}

// NewSweeper 构造清扫器。engine 可以为 nil，此时文章发布不触发工作流。
func NewSweeper(cfg SweeperConfig, articles *service.ArticleService, ads *service.AdService, analytics *service.AnalyticsService, outbox *service.OutboxService, engine *Engine) *Sweeper {
	return &Sweeper{
		articles:  articles,
		ads:       ads,
		analytics: analytics,
		outbox:    outbox,
		engine:    engine,
		cfg:       cfg.withDefaults(),
	}
}

// Start 启动清扫循环并返回取消函数。
func (s *Sweeper) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		log.WithField("interval", s.cfg.Interval.String()).Info("后台清扫已启动")

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info("后台清扫已停止")
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()

	return cancel
}

func (s *Sweeper) sweep() {
	now := time.Now().UTC()
	s.publishDueArticles(now)
	s.completeExpiredCampaigns(now)
	s.deliverOutbox()
	s.purgeStaleVisits(now)
}

func (s *Sweeper) publishDueArticles(now time.Time) {
	published, err := s.articles.PublishDue(now, s.cfg.PublishBatch)
	if err != nil {
		log.WithError(err).Error("定时发布扫描失败")
		return
	}
	for i := range published {
		article := published[i]
		log.WithFields(log.Fields{
			"article_id": article.ID,
			"site_id":    article.SiteID,
		}).Info("定时文章已发布")

		if s.engine == nil {
			continue
		}
		if err := s.engine.FireArticlePublished(article.SiteID, article.ID); err != nil {
			log.WithError(err).WithField("article_id", article.ID).Error("文章发布触发工作流失败")
		}
	}
}

func (s *Sweeper) completeExpiredCampaigns(now time.Time) {
	n, err := s.ads.CompleteExpiredCampaigns(now)
	if err != nil {
		log.WithError(err).Error("广告活动收尾扫描失败")
		return
	}
	if n > 0 {
		log.WithField("count", n).Info("过期广告活动已结束")
	}
}

func (s *Sweeper) deliverOutbox() {
	sent, err := s.outbox.DeliverPending(s.cfg.EmailBatch)
	if err != nil {
		log.WithError(err).Error("邮件投递失败")
	}
	if sent > 0 {
		log.WithField("count", sent).Info("邮件投递完成")
	}
}

// purgeStaleVisits 按 PurgeEvery 节流，避免每分钟都扫一遍历史表。
func (s *Sweeper) purgeStaleVisits(now time.Time) {
	if now.Sub(s.lastPurge) < s.cfg.PurgeEvery {
		return
	}
	s.lastPurge = now

	deleted, err := s.analytics.PurgeStaleVisits(now.Add(-s.cfg.VisitRetention), 0)
	if err != nil {
		log.WithError(err).Error("访客明细清理失败")
		return
	}
	if deleted > 0 {
		log.WithField("count", deleted).Info("过期访客明细已清理")
	}
}
