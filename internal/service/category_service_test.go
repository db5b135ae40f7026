package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/presshub/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupCategoryServiceTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()

	dsn := fmt.Sprintf("file:category-service-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}

	if err := gdb.AutoMigrate(&db.Site{}, &db.Category{}, &db.Article{}); err != nil {
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

func TestCategoryServiceCreateDerivesSlug(t *testing.T) {
	gdb, cleanup := setupCategoryServiceTestDB(t)
	defer cleanup()

	svc := NewCategoryService(gdb)

	category, err := svc.Create(1, CategoryInput{Name: "Tech News"})
	if err != nil {
		t.Fatalf("创建分类失败: %v", err)
	}
	if category.Slug != "tech-news" {
		t.Fatalf("期望 slug tech-news，实际 %s", category.Slug)
	}

	if _, err := svc.Create(1, CategoryInput{Name: "另一个", Slug: "tech-news"}); !errors.Is(err, ErrCategorySlugExists) {
		t.Fatalf("同站点重复 slug 应报 ErrCategorySlugExists，实际 %v", err)
	}
	if _, err := svc.Create(2, CategoryInput{Name: "别站", Slug: "tech-news"}); err != nil {
		t.Fatalf("跨站点同名 slug 不应冲突: %v", err)
	}
	if _, err := svc.Create(1, CategoryInput{Name: "坏", Slug: "Bad Slug"}); !errors.Is(err, ErrCategorySlugInvalid) {
		t.Fatalf("非法 slug 应报 ErrCategorySlugInvalid，实际 %v", err)
	}
	if _, err := svc.Create(1, CategoryInput{Name: "  "}); !errors.Is(err, ErrCategoryNameRequired) {
		t.Fatalf("空名称应报 ErrCategoryNameRequired，实际 %v", err)
	}
}

func TestCategoryServiceTreeDepthLimit(t *testing.T) {
	gdb, cleanup := setupCategoryServiceTestDB(t)
	defer cleanup()

	svc := NewCategoryService(gdb)

	root, err := svc.Create(1, CategoryInput{Name: "根"})
	if err != nil {
		t.Fatalf("创建根分类失败: %v", err)
	}
	child, err := svc.Create(1, CategoryInput{Name: "二级", ParentID: &root.ID})
	if err != nil {
		t.Fatalf("创建二级分类失败: %v", err)
	}
	leaf, err := svc.Create(1, CategoryInput{Name: "三级", ParentID: &child.ID})
	if err != nil {
		t.Fatalf("创建三级分类失败: %v", err)
	}

	if _, err := svc.Create(1, CategoryInput{Name: "四级", ParentID: &leaf.ID}); !errors.Is(err, ErrCategoryTooDeep) {
		t.Fatalf("第四层应报 ErrCategoryTooDeep，实际 %v", err)
	}

	missing := uint(9999)
	if _, err := svc.Create(1, CategoryInput{Name: "孤儿", ParentID: &missing}); !errors.Is(err, ErrCategoryParentInvalid) {
		t.Fatalf("不存在的父级应报 ErrCategoryParentInvalid，实际 %v", err)
	}

	tree, err := svc.Tree(1)
	if err != nil {
		t.Fatalf("构建分类树失败: %v", err)
	}
	if len(tree) != 1 || len(tree[0].Children) != 1 || len(tree[0].Children[0].Children) != 1 {
		t.Fatalf("分类树结构不符")
	}
	if tree[0].Category.ID != root.ID {
		t.Fatalf("根节点不符")
	}
}

func TestCategoryServiceUpdateRejectsCycle(t *testing.T) {
	gdb, cleanup := setupCategoryServiceTestDB(t)
	defer cleanup()

	svc := NewCategoryService(gdb)
	root, _ := svc.Create(1, CategoryInput{Name: "根"})
	child, _ := svc.Create(1, CategoryInput{Name: "子", ParentID: &root.ID})

	// 把根挂到自己的子级下会形成环
	if _, err := svc.Update(1, root.ID, CategoryInput{Name: "根", ParentID: &child.ID}); !errors.Is(err, ErrCategoryParentInvalid) {
		t.Fatalf("环应报 ErrCategoryParentInvalid，实际 %v", err)
	}
	if _, err := svc.Update(1, root.ID, CategoryInput{Name: "根", ParentID: &root.ID}); !errors.Is(err, ErrCategoryParentInvalid) {
		t.Fatalf("自引用应报 ErrCategoryParentInvalid，实际 %v", err)
	}

	// 带子树的节点移动时按整体深度校验
	other, _ := svc.Create(1, CategoryInput{Name: "另一根"})
	deeper, _ := svc.Create(1, CategoryInput{Name: "另一二级", ParentID: &other.ID})
	if _, err := svc.Update(1, root.ID, CategoryInput{Name: "根", ParentID: &deeper.ID}); !errors.Is(err, ErrCategoryTooDeep) {
		t.Fatalf("子树超深应报 ErrCategoryTooDeep，实际 %v", err)
	}
}

func TestCategoryServiceDeleteGuards(t *testing.T) {
	gdb, cleanup := setupCategoryServiceTestDB(t)
	defer cleanup()

	svc := NewCategoryService(gdb)
	root, _ := svc.Create(1, CategoryInput{Name: "根"})
	child, _ := svc.Create(1, CategoryInput{Name: "子", ParentID: &root.ID})

	if err := svc.Delete(1, root.ID); !errors.Is(err, ErrCategoryInUse) {
		t.Fatalf("有子级的分类不应被删除，实际 %v", err)
	}

	// 有文章的分类可以删除，文章归到未分类
	article := db.Article{SiteID: 1, Slug: "in-category", Content: "# 文", UserID: 1, CategoryID: &child.ID}
	if err := gdb.Create(&article).Error; err != nil {
		t.Fatalf("创建文章失败: %v", err)
	}
	if err := svc.Delete(1, child.ID); err != nil {
		t.Fatalf("删除有文章的分类失败: %v", err)
	}
	var orphan db.Article
	if err := gdb.First(&orphan, article.ID).Error; err != nil {
		t.Fatalf("读取文章失败: %v", err)
	}
	if orphan.CategoryID != nil {
		t.Fatalf("删除分类后文章应归到未分类，实际 %v", *orphan.CategoryID)
	}
	if err := svc.Delete(1, root.ID); err != nil {
		t.Fatalf("删除根分类失败: %v", err)
	}
	if err := svc.Delete(1, root.ID); !errors.Is(err, ErrCategoryNotFound) {
		t.Fatalf("重复删除应报 ErrCategoryNotFound，实际 %v", err)
	}
}

func TestCategoryServiceReorderWithinParent(t *testing.T) {
	gdb, cleanup := setupCategoryServiceTestDB(t)
	defer cleanup()

	svc := NewCategoryService(gdb)
	a, _ := svc.Create(1, CategoryInput{Name: "a"})
	b, _ := svc.Create(1, CategoryInput{Name: "b"})
	childA, _ := svc.Create(1, CategoryInput{Name: "子a", ParentID: &a.ID})

	if err := svc.Reorder(1, nil, []uint{b.ID, a.ID}); err != nil {
		t.Fatalf("根级重排序失败: %v", err)
	}
	list, err := svc.List(1)
	if err != nil {
		t.Fatalf("列表失败: %v", err)
	}
	// 平铺列表按 sort_order 排，b 应排在 a 之前
	indexOf := func(id uint) int {
		for i, c := range list {
			if c.ID == id {
				return i
			}
		}
		return -1
	}
	if indexOf(b.ID) > indexOf(a.ID) {
		t.Fatalf("重排序未生效")
	}

	// 子级 ID 混进根级重排序应失败
	if err := svc.Reorder(1, nil, []uint{childA.ID}); !errors.Is(err, ErrCategoryNotFound) {
		t.Fatalf("跨父级重排序应报 ErrCategoryNotFound，实际 %v", err)
	}
}
