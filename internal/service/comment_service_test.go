package service

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/presshub/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupCommentServiceTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()

	dsn := fmt.Sprintf("file:comment-service-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}

	if err := gdb.AutoMigrate(
		&db.Site{},
		&db.SiteSetting{},
		&db.Article{},
		&db.Comment{},
		&db.Reaction{},
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

func newCommentTestService(t *testing.T, gdb *gorm.DB) *CommentService {
	t.Helper()
	return NewCommentService(gdb, NewContentRenderer(), NewSiteSettingService(gdb))
}

func seedCommentFixture(t *testing.T, gdb *gorm.DB) (*db.Site, *db.Article) {
	t.Helper()

	site := db.Site{Slug: "main", Name: "主站", Status: db.SiteStatusActive, DefaultLanguage: "zh"}
	if err := gdb.Create(&site).Error; err != nil {
		t.Fatalf("创建站点失败: %v", err)
	}
	article := db.Article{
		SiteID:  site.ID,
		Slug:    "commented",
		Content: "# 被评论的文章",
		Status:  db.ArticleStatusPublished,
		UserID:  1,
	}
	if err := gdb.Create(&article).Error; err != nil {
		t.Fatalf("创建文章失败: %v", err)
	}
	return &site, &article
}

func TestCommentServiceSubmitSanitizesBody(t *testing.T) {
	gdb, cleanup := setupCommentServiceTestDB(t)
	defer cleanup()

	site, article := seedCommentFixture(t, gdb)
	svc := newCommentTestService(t, gdb)

	comment, err := svc.Submit(site.ID, article.ID, CommentInput{
		AuthorName: "读者",
		Body:       "**好文**<script>alert(1)</script>",
		VisitorID:  "visitor-1",
	})
	if err != nil {
		t.Fatalf("提交评论失败: %v", err)
	}
	if comment.Status != db.CommentStatusPending {
		t.Fatalf("默认应进入待审核，实际 %s", comment.Status)
	}
	if !strings.Contains(comment.BodyHTML, "<strong>") {
		t.Fatalf("Markdown 应被渲染: %s", comment.BodyHTML)
	}
	if strings.Contains(comment.BodyHTML, "<script") {
		t.Fatalf("脚本应被净化: %s", comment.BodyHTML)
	}

	if _, err := svc.Submit(site.ID, article.ID, CommentInput{AuthorName: "", Body: "x"}); !errors.Is(err, ErrCommentInvalid) {
		t.Fatalf("缺少昵称应报 ErrCommentInvalid，实际 %v", err)
	}
	if _, err := svc.Submit(site.ID, article.ID, CommentInput{AuthorName: "a", Body: "x", AuthorEmail: "not-an-email"}); !errors.Is(err, ErrCommentInvalid) {
		t.Fatalf("非法邮箱应报 ErrCommentInvalid，实际 %v", err)
	}
	if _, err := svc.Submit(site.ID, article.ID, CommentInput{AuthorName: "a", Body: strings.Repeat("长", maxCommentLength+1)}); !errors.Is(err, ErrCommentTooLong) {
		t.Fatalf("超长正文应报 ErrCommentTooLong，实际 %v", err)
	}
	if _, err := svc.Submit(site.ID, 9999, CommentInput{AuthorName: "a", Body: "x"}); !errors.Is(err, ErrArticleNotFound) {
		t.Fatalf("不存在的文章应报 ErrArticleNotFound，实际 %v", err)
	}
}

func TestCommentServiceAutoApproveSetting(t *testing.T) {
	gdb, cleanup := setupCommentServiceTestDB(t)
	defer cleanup()

	site, article := seedCommentFixture(t, gdb)
	settingSvc := NewSiteSettingService(gdb)
	if _, err := settingSvc.UpdateSettings(site.ID, SiteSettingsInput{CommentsEnabled: true, CommentsAutoApprove: true, FeedItemCount: 20}); err != nil {
		t.Fatalf("更新设置失败: %v", err)
	}

	svc := NewCommentService(gdb, NewContentRenderer(), settingSvc)
	comment, err := svc.Submit(site.ID, article.ID, CommentInput{AuthorName: "读者", Body: "自动通过"})
	if err != nil {
		t.Fatalf("提交失败: %v", err)
	}
	if comment.Status != db.CommentStatusApproved {
		t.Fatalf("自动批准开启时应直接通过，实际 %s", comment.Status)
	}

	// 关闭评论后提交被拒绝
	if _, err := settingSvc.UpdateSettings(site.ID, SiteSettingsInput{CommentsEnabled: false, FeedItemCount: 20}); err != nil {
		t.Fatalf("更新设置失败: %v", err)
	}
	if _, err := svc.Submit(site.ID, article.ID, CommentInput{AuthorName: "读者", Body: "x"}); !errors.Is(err, ErrCommentsDisabled) {
		t.Fatalf("关闭评论应报 ErrCommentsDisabled，实际 %v", err)
	}
}

func TestCommentServiceThreading(t *testing.T) {
	gdb, cleanup := setupCommentServiceTestDB(t)
	defer cleanup()

	site, article := seedCommentFixture(t, gdb)
	svc := newCommentTestService(t, gdb)

	root, err := svc.Submit(site.ID, article.ID, CommentInput{AuthorName: "楼主", Body: "顶层评论"})
	if err != nil {
		t.Fatalf("提交失败: %v", err)
	}

	// 待审核的父评论不可回复
	if _, err := svc.Submit(site.ID, article.ID, CommentInput{AuthorName: "路人", Body: "抢答", ParentID: &root.ID}); !errors.Is(err, ErrCommentParent) {
		t.Fatalf("回复待审核父评论应报 ErrCommentParent，实际 %v", err)
	}

	if err := svc.SetStatus(site.ID, root.ID, db.CommentStatusApproved); err != nil {
		t.Fatalf("批准失败: %v", err)
	}
	reply, err := svc.Submit(site.ID, article.ID, CommentInput{AuthorName: "回复者", Body: "一楼回复", ParentID: &root.ID})
	if err != nil {
		t.Fatalf("回复失败: %v", err)
	}
	if err := svc.SetStatus(site.ID, reply.ID, db.CommentStatusApproved); err != nil {
		t.Fatalf("批准失败: %v", err)
	}
	// 对回复的回复应挂到顶层
	deep, err := svc.Submit(site.ID, article.ID, CommentInput{AuthorName: "再回复", Body: "套娃", ParentID: &reply.ID})
	if err != nil {
		t.Fatalf("二层回复失败: %v", err)
	}
	if deep.ParentID == nil || *deep.ParentID != root.ID {
		t.Fatalf("二层回复应挂到顶层评论，实际 %v", deep.ParentID)
	}

	missing := uint(9999)
	if _, err := svc.Submit(site.ID, article.ID, CommentInput{AuthorName: "x", Body: "x", ParentID: &missing}); !errors.Is(err, ErrCommentParent) {
		t.Fatalf("不存在的父评论应报 ErrCommentParent，实际 %v", err)
	}

	if err := svc.SetStatus(site.ID, deep.ID, db.CommentStatusApproved); err != nil {
		t.Fatalf("批准失败: %v", err)
	}
	threads, err := svc.ListForArticle(site.ID, article.ID)
	if err != nil {
		t.Fatalf("前台列表失败: %v", err)
	}
	if len(threads) != 1 {
		t.Fatalf("期望 1 个顶层评论，实际 %d", len(threads))
	}
	if len(threads[0].Replies) != 2 {
		t.Fatalf("期望 2 条回复，实际 %d", len(threads[0].Replies))
	}
}

func TestCommentServiceModeration(t *testing.T) {
	gdb, cleanup := setupCommentServiceTestDB(t)
	defer cleanup()

	site, article := seedCommentFixture(t, gdb)
	svc := newCommentTestService(t, gdb)

	comment, err := svc.Submit(site.ID, article.ID, CommentInput{AuthorName: "读者", Body: "待审"})
	if err != nil {
		t.Fatalf("提交失败: %v", err)
	}

	pending, err := svc.CountPending(site.ID)
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if pending != 1 {
		t.Fatalf("待审计数应为 1，实际 %d", pending)
	}

	listed, err := svc.ListForModeration(site.ID, db.CommentStatusPending, 1, 10)
	if err != nil {
		t.Fatalf("审核列表失败: %v", err)
	}
	if listed.Total != 1 {
		t.Fatalf("审核列表应有 1 条，实际 %d", listed.Total)
	}

	if err := svc.SetStatus(site.ID, comment.ID, "whatever"); !errors.Is(err, ErrCommentStatus) {
		t.Fatalf("未知状态应报 ErrCommentStatus，实际 %v", err)
	}
	if err := svc.SetStatus(site.ID, comment.ID, db.CommentStatusSpam); err != nil {
		t.Fatalf("标记垃圾失败: %v", err)
	}
	if err := svc.SetStatus(site.ID, 9999, db.CommentStatusApproved); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("不存在的评论应报 ErrCommentNotFound，实际 %v", err)
	}

	threads, err := svc.ListForArticle(site.ID, article.ID)
	if err != nil {
		t.Fatalf("前台列表失败: %v", err)
	}
	if len(threads) != 0 {
		t.Fatalf("垃圾评论不应出现在前台")
	}
}

func TestCommentServiceReactions(t *testing.T) {
	gdb, cleanup := setupCommentServiceTestDB(t)
	defer cleanup()

	site, article := seedCommentFixture(t, gdb)
	svc := newCommentTestService(t, gdb)

	added, err := svc.React(site.ID, article.ID, "visitor-1", db.ReactionLike)
	if err != nil {
		t.Fatalf("反应失败: %v", err)
	}
	if !added {
		t.Fatalf("首次反应应新增")
	}

	// 同访客同类型重复提交被吞掉
	added, err = svc.React(site.ID, article.ID, "visitor-1", db.ReactionLike)
	if err != nil {
		t.Fatalf("重复反应失败: %v", err)
	}
	if added {
		t.Fatalf("重复反应不应新增")
	}

	if _, err := svc.React(site.ID, article.ID, "visitor-1", "angry"); !errors.Is(err, ErrReactionInvalid) {
		t.Fatalf("未知类型应报 ErrReactionInvalid，实际 %v", err)
	}

	if _, err := svc.React(site.ID, article.ID, "visitor-2", db.ReactionLike); err != nil {
		t.Fatalf("第二个访客反应失败: %v", err)
	}
	if _, err := svc.React(site.ID, article.ID, "visitor-1", db.ReactionHeart); err != nil {
		t.Fatalf("第二种类型反应失败: %v", err)
	}

	summary, err := svc.ReactionSummary(site.ID, article.ID)
	if err != nil {
		t.Fatalf("汇总失败: %v", err)
	}
	if summary[db.ReactionLike] != 2 || summary[db.ReactionHeart] != 1 {
		t.Fatalf("汇总结果不符: %v", summary)
	}

	mine, err := svc.VisitorReactions(site.ID, article.ID, "visitor-1")
	if err != nil {
		t.Fatalf("访客反应查询失败: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("visitor-1 应有 2 种反应，实际 %v", mine)
	}

	if err := svc.RemoveReaction(site.ID, article.ID, "visitor-1", db.ReactionLike); err != nil {
		t.Fatalf("撤销失败: %v", err)
	}
	summary, err = svc.ReactionSummary(site.ID, article.ID)
	if err != nil {
		t.Fatalf("汇总失败: %v", err)
	}
	if summary[db.ReactionLike] != 1 {
		t.Fatalf("撤销后 like 应剩 1，实际 %d", summary[db.ReactionLike])
	}
}
