package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/presshub/internal/config"
	"github.com/presshub/internal/db"
)

// 初始化默认站点与管理员账号，可重复执行。
// 站点与账号参数优先读取环境变量，缺省值便于本地开发。
func main() {
	cfg := config.Load()
	if err := db.Init(cfg.DatabaseDSN); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	site, err := db.EnsureDefaultSite(cfg.DefaultSiteSlug, cfg.DefaultSiteName)
	if err != nil {
		log.Fatal("创建默认站点失败:", err)
	}
	fmt.Printf("站点就绪: %s (slug=%s, id=%d)\n", site.Name, site.Slug, site.ID)

	username := strings.TrimSpace(os.Getenv("ADMIN_USERNAME"))
	if username == "" {
		username = "admin"
	}
	password := strings.TrimSpace(os.Getenv("ADMIN_PASSWORD"))
	if password == "" {
		password = "admin123"
	}

	var count int64
	db.DB.Model(&db.User{}).Where("username = ?", username).Count(&count)
	if count > 0 {
		fmt.Println("管理员已存在，无需初始化")
		return
	}

	if err := db.EnsureUser(username, password); err != nil {
		log.Fatal("创建管理员失败:", err)
	}

	fmt.Println("默认管理员创建成功")
	fmt.Println("用户名:", username)
	fmt.Println("密码:", password)
}
