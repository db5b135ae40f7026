package main

import (
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/presshub/internal/config"
	"github.com/presshub/internal/db"
	"github.com/presshub/internal/service"
)

// 测试数据生成器：为默认站点填充演示内容。
// 所有步骤都做了存在性检查，可重复执行。
func main() {
	cfg := config.Load()
	if err := db.Init(cfg.DatabaseDSN); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	site, err := db.EnsureDefaultSite(cfg.DefaultSiteSlug, cfg.DefaultSiteName)
	if err != nil {
		log.Fatal("创建默认站点失败:", err)
	}

	fmt.Println("开始生成测试数据...")

	admin := createTestUsers()
	categories := createTestCategories(site.ID)
	tags := createTestTags(site.ID)
	createTestArticles(site.ID, admin.ID, categories, tags)
	createAboutPage(site.ID)
	createTestAds(site.ID)
	createTestSubscribers(site.ID)
	createWelcomeWorkflow(site.ID)

	fmt.Println("测试数据生成完成！")
	fmt.Println("用户: admin (密码: admin123)")
	fmt.Printf("站点: %s (slug=%s)\n", site.Name, site.Slug)
}

// 创建测试用户
func createTestUsers() db.User {
	var existing db.User
	if err := db.DB.Where("username = ?", "admin").First(&existing).Error; err == nil {
		fmt.Println("用户已存在，跳过创建")
		return existing
	}

	hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
	admin := db.User{
		Username:    "admin",
		Password:    string(hashedPassword),
		DisplayName: "管理员",
		Role:        db.RoleAdmin,
	}
	db.DB.Create(&admin)

	hashedPassword2, _ := bcrypt.GenerateFromPassword([]byte("editor123"), bcrypt.DefaultCost)
	editor := db.User{
		Username:    "editor",
		Password:    string(hashedPassword2),
		DisplayName: "编辑",
		Role:        db.RoleEditor,
	}
	db.DB.Create(&editor)

	fmt.Println("已创建用户: admin, editor")
	return admin
}

// 创建测试分类
func createTestCategories(siteID uint) []db.Category {
	var count int64
	db.DB.Model(&db.Category{}).Where("site_id = ?", siteID).Count(&count)
	if count > 0 {
		fmt.Println("分类已存在，跳过创建")
		var existing []db.Category
		db.DB.Where("site_id = ?", siteID).Find(&existing)
		return existing
	}

	svc := service.NewCategoryService(db.DB)
	inputs := []service.CategoryInput{
		{Slug: "tech", Name: "技术", NameEn: "Technology", Description: "工程与技术文章"},
		{Slug: "product", Name: "产品", NameEn: "Product", Description: "产品设计与运营"},
		{Slug: "life", Name: "生活", NameEn: "Life", Description: "生活随笔"},
	}

	created := make([]db.Category, 0, len(inputs))
	for _, input := range inputs {
		category, err := svc.Create(siteID, input)
		if err != nil {
			log.Fatal("创建分类失败:", err)
		}
		created = append(created, *category)
	}

	fmt.Printf("已创建 %d 个分类\n", len(created))
	return created
}

// 创建测试标签
func createTestTags(siteID uint) []db.Tag {
	var count int64
	db.DB.Model(&db.Tag{}).Where("site_id = ?", siteID).Count(&count)
	if count > 0 {
		fmt.Println("标签已存在，跳过创建")
		var existing []db.Tag
		db.DB.Where("site_id = ?", siteID).Find(&existing)
		return existing
	}

	svc := service.NewTagService(db.DB)
	names := []service.TagInput{
		{Name: "Go", NameEn: "Go"},
		{Name: "架构", NameEn: "Architecture"},
		{Name: "教程", NameEn: "Tutorial"},
		{Name: "随笔", NameEn: "Essay"},
		{Name: "发布", NameEn: "Release"},
	}

	created := make([]db.Tag, 0, len(names))
	for _, input := range names {
		tag, err := svc.Create(siteID, input)
		if err != nil {
			log.Fatal("创建标签失败:", err)
		}
		created = append(created, *tag)
	}

	fmt.Printf("已创建 %d 个标签\n", len(created))
	return created
}

// 创建测试文章并发布其中大部分
func createTestArticles(siteID, userID uint, categories []db.Category, tags []db.Tag) {
	var count int64
	db.DB.Model(&db.Article{}).Where("site_id = ?", siteID).Count(&count)
	if count > 0 {
		fmt.Println("文章已存在，跳过创建")
		return
	}

	svc := service.NewArticleService(db.DB)

	type seedArticle struct {
		slug     string
		content  string
		summary  string
		category int
		tagIdx   []int
		publish  bool
	}

	seeds := []seedArticle{
		{
			slug: "hello-presshub",
			content: "# 欢迎使用 PressHub\n\n这是站点的第一篇演示文章。" +
				"PressHub 支持多站点、发布快照、草稿版本与定时发布。\n\n" +
				"## 开始写作\n\n在后台创建文章，首个标题会自动成为文章标题。",
			summary:  "PressHub 演示文章，介绍核心写作流程。",
			category: 0,
			tagIdx:   []int{0, 4},
			publish:  true,
		},
		{
			slug: "go-service-layout",
			content: "# Go 服务的目录组织\n\ncmd 下放可执行入口，internal 下按职责分包：" +
				"db 负责模型，service 承载业务，handler 只做参数与响应。\n\n" +
				"这样 handler 可以换掉，业务不受影响。",
			summary:  "介绍一种常见的 Go 服务目录组织方式。",
			category: 0,
			tagIdx:   []int{0, 1},
			publish:  true,
		},
		{
			slug: "cache-invalidation-notes",
			content: "# 页面缓存与失效\n\n发布文章后，列表页、详情页、RSS 都可能包含旧内容。" +
				"按标签批量失效比逐个删除键更可靠：发布时让 site、article、feed 三类标签一起失效。",
			summary:  "标签化缓存失效的实践笔记。",
			category: 0,
			tagIdx:   []int{1, 2},
			publish:  true,
		},
		{
			slug: "newsletter-automation",
			content: "# 订阅与营销自动化\n\n双重确认的订阅流程可以显著降低垃圾邮箱率。" +
				"确认后触发欢迎流程：先发一封欢迎邮件，等待三天，再推送精选内容。",
			summary:  "双重确认订阅与欢迎流程的设计。",
			category: 1,
			tagIdx:   []int{2},
			publish:  true,
		},
		{
			slug: "draft-writing-plan",
			content: "# 写作计划（草稿）\n\n这是一篇未发布的草稿，用于演示草稿列表与版本历史。",
			summary:  "",
			category: 2,
			tagIdx:   []int{3},
			publish:  false,
		},
	}

	published := 0
	for _, seed := range seeds {
		input := service.ArticleInput{
			Slug:     seed.slug,
			Content:  seed.content,
			Summary:  seed.summary,
			Language: "zh",
			UserID:   userID,
			CoverURL: "https://picsum.photos/seed/" + seed.slug + "/1200/630",
		}
		if seed.category < len(categories) {
			id := categories[seed.category].ID
			input.CategoryID = &id
		}
		for _, idx := range seed.tagIdx {
			if idx < len(tags) {
				input.TagIDs = append(input.TagIDs, tags[idx].ID)
			}
		}
		input.CoverWidth = 1200
		input.CoverHeight = 630

		article, err := svc.Create(siteID, input)
		if err != nil {
			log.Fatal("创建文章失败:", err)
		}

		if seed.publish {
			if _, err := svc.Publish(siteID, article.ID, userID, nil); err != nil {
				log.Fatal("发布文章失败:", err)
			}
			published++
		}
	}

	fmt.Printf("已创建 %d 篇文章（其中 %d 篇已发布）\n", len(seeds), published)
}

// 创建关于页面
func createAboutPage(siteID uint) {
	svc := service.NewPageService(db.DB)
	if _, err := svc.GetBySlug(siteID, "about"); err == nil {
		fmt.Println("关于页面已存在，跳过创建")
		return
	}

	_, err := svc.Save(siteID, service.PageInput{
		Slug:     "about",
		Title:    "关于本站",
		Content:  "# 关于本站\n\n这是 PressHub 的演示站点，内容由测试数据生成器填充。",
		Language: "zh",
		Status:   "published",
	})
	if err != nil {
		log.Fatal("创建关于页面失败:", err)
	}
	fmt.Println("已创建关于页面")
}

// 创建广告位、广告活动与创意
func createTestAds(siteID uint) {
	var count int64
	db.DB.Model(&db.AdSlot{}).Where("site_id = ?", siteID).Count(&count)
	if count > 0 {
		fmt.Println("广告数据已存在，跳过创建")
		return
	}

	svc := service.NewAdService(db.DB)
	slot, err := svc.CreateSlot(siteID, service.AdSlotInput{
		Key:    "sidebar",
		Name:   "侧边栏",
		Width:  300,
		Height: 250,
	})
	if err != nil {
		log.Fatal("创建广告位失败:", err)
	}

	end := time.Now().AddDate(0, 1, 0)
	campaign, err := svc.CreateCampaign(siteID, service.AdCampaignInput{
		Name:   "演示活动",
		EndAt:  &end,
		Weight: 2,
	})
	if err != nil {
		log.Fatal("创建广告活动失败:", err)
	}

	if _, err := svc.CreateCreative(siteID, campaign.ID, service.AdCreativeInput{
		SlotID:    slot.ID,
		Name:      "演示创意",
		ImageURL:  "https://picsum.photos/seed/ad/300/250",
		TargetURL: "https://example.com/landing",
		Weight:    1,
	}); err != nil {
		log.Fatal("创建广告创意失败:", err)
	}

	if err := svc.SetCampaignStatus(siteID, campaign.ID, db.CampaignStatusActive); err != nil {
		log.Fatal("激活广告活动失败:", err)
	}
	fmt.Println("已创建广告位/活动/创意")
}

// 创建测试订阅者
func createTestSubscribers(siteID uint) {
	var count int64
	db.DB.Model(&db.Subscriber{}).Where("site_id = ?", siteID).Count(&count)
	if count > 0 {
		fmt.Println("订阅者已存在，跳过创建")
		return
	}

	svc := service.NewSubscriberService(db.DB)
	emails := []string{"reader-one@example.com", "reader-two@example.com", "reader-three@example.com"}
	confirmed := 0
	for i, email := range emails {
		sub, err := svc.Subscribe(siteID, email, fmt.Sprintf("读者%d", i+1), "zh")
		if err != nil {
			log.Fatal("创建订阅者失败:", err)
		}
		// 前两位直接确认，保留一位 pending 便于演示确认流程
		if i < 2 {
			if _, err := svc.Confirm(siteID, sub.ConfirmToken); err != nil {
				log.Fatal("确认订阅失败:", err)
			}
			confirmed++
		}
	}
	fmt.Printf("已创建 %d 位订阅者（%d 位已确认）\n", len(emails), confirmed)
}

// 创建欢迎流程并激活
func createWelcomeWorkflow(siteID uint) {
	var count int64
	db.DB.Model(&db.Workflow{}).Where("site_id = ?", siteID).Count(&count)
	if count > 0 {
		fmt.Println("自动化流程已存在，跳过创建")
		return
	}

	svc := service.NewWorkflowService(db.DB)
	workflow, err := svc.Create(siteID, service.WorkflowInput{
		Name:        "订阅欢迎流程",
		TriggerType: db.TriggerSubscriberConfirmed,
		Steps: []service.WorkflowStepInput{
			{Kind: db.StepKindEmail, Subject: "欢迎订阅 {{.Site}}", BodyTemplate: "你好 {{.Name}}，感谢订阅！"},
			{Kind: db.StepKindWait, WaitSeconds: 3 * 24 * 3600},
			{Kind: db.StepKindAddTag, TagName: "welcomed"},
		},
	})
	if err != nil {
		log.Fatal("创建自动化流程失败:", err)
	}

	if _, err := svc.Activate(siteID, workflow.ID); err != nil {
		log.Fatal("激活自动化流程失败:", err)
	}
	fmt.Println("已创建并激活欢迎流程")
}
