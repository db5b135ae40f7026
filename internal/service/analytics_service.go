package service

import (
	"errors"
	"time"

	"github.com/presshub/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultViewDedupWindow = 30 * time.Minute

// AnalyticsService 负责文章与站点维度的浏览统计。
type AnalyticsService struct {
	db          *gorm.DB
	dedupWindow time.Duration
}

// NewAnalyticsService 创建 AnalyticsService，默认去重窗口为 30 分钟。
func NewAnalyticsService(gdb *gorm.DB) *AnalyticsService {
	return &AnalyticsService{db: gdb, dedupWindow: defaultViewDedupWindow}
}

// WithDedupWindow 允许在测试或特定场景下调整去重窗口。
func (s *AnalyticsService) WithDedupWindow(d time.Duration) *AnalyticsService {
	if d <= 0 {
		return s
	}
	s.dedupWindow = d
	return s
}

// RecordArticleView 记录访客对文章的浏览，并返回最新的统计数据。
// 同一访客在去重窗口内的重复浏览不会增加 PV，UV 每访客只计一次。
func (s *AnalyticsService) RecordArticleView(siteID, articleID uint, visitorID string, now time.Time) (*db.ArticleStatistic, error) {
	if visitorID == "" || articleID == 0 {
		return nil, errors.New("invalid visitor or article id")
	}

	var stats db.ArticleStatistic

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		visit := db.ArticleVisit{
			ArticleID:     articleID,
			VisitorID:     visitorID,
			LastViewedAt:  now,
			LastCountedAt: now,
		}
		insert := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "article_id"}, {Name: "visitor_id"}},
			DoNothing: true,
		}).Create(&visit)
		if insert.Error != nil {
			return insert.Error
		}

		isNewVisitor := insert.RowsAffected == 1
		countView := true
		if !isNewVisitor {
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("article_id = ? AND visitor_id = ?", articleID, visitorID).
				First(&visit).Error; err != nil {
				return err
			}
			countView = now.Sub(visit.LastCountedAt) >= s.dedupWindow
			visit.LastViewedAt = now
			if countView {
				visit.LastCountedAt = now
			}
			if err := tx.Save(&visit).Error; err != nil {
				return err
			}
		}

		statsResult := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("article_id = ?", articleID).
			First(&stats)

		switch {
		case errors.Is(statsResult.Error, gorm.ErrRecordNotFound):
			stats = db.ArticleStatistic{ArticleID: articleID, SiteID: siteID}
			if err := tx.Create(&stats).Error; err != nil {
				return err
			}
		case statsResult.Error != nil:
			return statsResult.Error
		}

		if countView {
			stats.PageViews++
		}
		if isNewVisitor {
			stats.UniqueVisitors++
		}
		stats.LastViewedAt = now

		return tx.Save(&stats).Error
	}); err != nil {
		return nil, err
	}

	return &stats, nil
}

// RecordSiteView 把一次前台访问归入站点的小时快照。
// UV 按 (站点, 小时, 访客) 去重，PV 每次累加。
func (s *AnalyticsService) RecordSiteView(siteID uint, visitorID string, now time.Time) error {
	if siteID == 0 {
		return errors.New("invalid site id")
	}
	hour := now.UTC().Truncate(time.Hour)

	return s.db.Transaction(func(tx *gorm.DB) error {
		newVisitor := false
		if visitorID != "" {
			visitor := db.SiteHourlyVisitor{SiteID: siteID, Hour: hour, VisitorID: visitorID}
			insert := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "site_id"}, {Name: "hour"}, {Name: "visitor_id"}},
				DoNothing: true,
			}).Create(&visitor)
			if insert.Error != nil {
				return insert.Error
			}
			newVisitor = insert.RowsAffected == 1
		}

		snapshot := db.SiteHourlySnapshot{SiteID: siteID, Hour: hour, PageViews: 1}
		assignments := map[string]interface{}{
			"page_views": gorm.Expr("page_views + 1"),
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}
		if newVisitor {
			snapshot.UniqueVisitors = 1
			assignments["unique_visitors"] = gorm.Expr("unique_visitors + 1")
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "site_id"}, {Name: "hour"}},
			DoUpdates: clause.Assignments(assignments),
		}).Create(&snapshot).Error
	})
}

// StatsMap 返回指定文章的统计数据，未找到的文章不会出现在结果中。
func (s *AnalyticsService) StatsMap(articleIDs []uint) (map[uint]*db.ArticleStatistic, error) {
	result := make(map[uint]*db.ArticleStatistic, len(articleIDs))
	if len(articleIDs) == 0 {
		return result, nil
	}

	var stats []db.ArticleStatistic
	if err := s.db.Where("article_id IN ?", articleIDs).Find(&stats).Error; err != nil {
		return nil, err
	}

	for i := range stats {
		stat := stats[i]
		copy := stat
		result[stat.ArticleID] = &copy
	}

	return result, nil
}

// SiteOverview 聚合站点层面的 UV/PV 数据及热门文章。
type SiteOverview struct {
	TotalPageViews      uint64
	TotalUniqueVisitors uint64
	ArticleCount        int64
	TopArticles         []TopArticleStat
}

// TopArticleStat 描述热门文章的统计信息。
type TopArticleStat struct {
	ArticleID      uint
	Title          string
	Slug           string
	PageViews      uint64
	UniqueVisitors uint64
}

// Overview 汇总站点的 UV/PV 与热门文章，标题从正文派生。
func (s *AnalyticsService) Overview(siteID uint, limit int) (SiteOverview, error) {
	if limit <= 0 {
		limit = 5
	}

	var overview SiteOverview

	var totals struct {
		PageViews      uint64
		UniqueVisitors uint64
	}
	if err := s.db.Model(&db.ArticleStatistic{}).
		Where("site_id = ?", siteID).
		Select("COALESCE(SUM(page_views), 0) AS page_views, COALESCE(SUM(unique_visitors), 0) AS unique_visitors").
		Scan(&totals).Error; err != nil {
		return overview, err
	}
	overview.TotalPageViews = totals.PageViews

	var uniqueVisitors int64
	if err := s.db.Model(&db.ArticleVisit{}).
		Joins("JOIN articles ON articles.id = article_visits.article_id").
		Where("articles.site_id = ? AND articles.deleted_at IS NULL", siteID).
		Distinct("article_visits.visitor_id").
		Count(&uniqueVisitors).Error; err != nil {
		return overview, err
	}
	overview.TotalUniqueVisitors = uint64(uniqueVisitors)

	if err := s.db.Model(&db.Article{}).Where("site_id = ?", siteID).Count(&overview.ArticleCount).Error; err != nil {
		return overview, err
	}

	var rows []struct {
		ArticleID      uint
		Slug           string
		Content        string
		PageViews      uint64
		UniqueVisitors uint64
	}
	if err := s.db.Table("article_statistics stats").
		Select("stats.article_id, a.slug, a.content, stats.page_views, stats.unique_visitors").
		Joins("JOIN articles a ON a.id = stats.article_id AND a.deleted_at IS NULL").
		Where("stats.site_id = ?", siteID).
		Order("stats.page_views DESC").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return overview, err
	}

	overview.TopArticles = make([]TopArticleStat, 0, len(rows))
	for _, row := range rows {
		overview.TopArticles = append(overview.TopArticles, TopArticleStat{
			ArticleID:      row.ArticleID,
			Title:          db.DeriveTitleFromContent(row.Content),
			Slug:           row.Slug,
			PageViews:      row.PageViews,
			UniqueVisitors: row.UniqueVisitors,
		})
	}
	return overview, nil
}

// HourlyTrafficTrend 返回截至 until 所在小时的最近 hours 个小时快照，
// 按时间升序排列，没有数据的小时补零。
func (s *AnalyticsService) HourlyTrafficTrend(siteID uint, until time.Time, hours int) ([]db.SiteHourlySnapshot, error) {
	if hours <= 0 {
		hours = 24
	}
	endHour := until.UTC().Truncate(time.Hour)
	startHour := endHour.Add(-time.Duration(hours-1) * time.Hour)

	var snapshots []db.SiteHourlySnapshot
	err := s.db.Where("site_id = ? AND hour >= ? AND hour <= ?", siteID, startHour, endHour).
		Order("hour asc").
		Find(&snapshots).Error
	if err != nil {
		return nil, err
	}

	byHour := make(map[int64]db.SiteHourlySnapshot, len(snapshots))
	for _, snapshot := range snapshots {
		byHour[snapshot.Hour.Unix()] = snapshot
	}

	trend := make([]db.SiteHourlySnapshot, 0, hours)
	for i := 0; i < hours; i++ {
		hour := startHour.Add(time.Duration(i) * time.Hour)
		if snapshot, ok := byHour[hour.Unix()]; ok {
			trend = append(trend, snapshot)
		} else {
			trend = append(trend, db.SiteHourlySnapshot{SiteID: siteID, Hour: hour})
		}
	}
	return trend, nil
}

const defaultVisitPurgeBatch = 5000

// PurgeStaleVisits 分批删除过期的访客去重记录（文章粒度与小时粒度），
// 统计汇总行不受影响。用有限子查询避免长事务锁表。
func (s *AnalyticsService) PurgeStaleVisits(before time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = defaultVisitPurgeBatch
	}

	var total int64
	for {
		result := s.db.Exec(`
			DELETE FROM article_visits
			WHERE id IN (
				SELECT id FROM article_visits
				WHERE last_viewed_at < ?
				ORDER BY last_viewed_at ASC
				LIMIT ?
			)
		`, before, batch)
		if result.Error != nil {
			return total, result.Error
		}
		total += result.RowsAffected
		if result.RowsAffected < int64(batch) {
			break
		}
	}

	for {
		result := s.db.Exec(`
			DELETE FROM site_hourly_visitors
			WHERE id IN (
				SELECT id FROM site_hourly_visitors
				WHERE hour < ?
				ORDER BY hour ASC
				LIMIT ?
			)
		`, before, batch)
		if result.Error != nil {
			return total, result.Error
		}
		total += result.RowsAffected
		if result.RowsAffected < int64(batch) {
			break
		}
	}

	return total, nil
}
