package db

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 数据库方言标识。
const (
	// DialectPostgres 表示 PostgreSQL 方言。
	DialectPostgres = "postgres"
	// DialectSQLite 表示 SQLite 方言。
	DialectSQLite = "sqlite"
)

// DialectName 返回当前连接使用的方言名称。
func DialectName(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	return conn.Dialector.Name()
}

// IsSQLite 判断当前连接是否为 SQLite。
func IsSQLite(conn *gorm.DB) bool {
	return DialectName(conn) == DialectSQLite
}

// CaseInsensitiveLikeExpr 返回与方言匹配的大小写不敏感 LIKE 表达式。
func CaseInsensitiveLikeExpr(conn *gorm.DB, column string) string {
	if IsSQLite(conn) {
		return fmt.Sprintf("LOWER(%s) LIKE ?", column)
	}
	return fmt.Sprintf("%s ILIKE ?", column)
}

// NormalizeLikePattern 按方言归一化 LIKE 匹配串。
func NormalizeLikePattern(conn *gorm.DB, pattern string) string {
	if IsSQLite(conn) {
		return strings.ToLower(pattern)
	}
	return pattern
}

// RowLock 返回行级锁子句。SQLite 单写者模型下加锁是空操作，
// PostgreSQL 上使用 FOR UPDATE SKIP LOCKED 以允许多副本并行轮询。
func RowLock(conn *gorm.DB) *gorm.DB {
	if IsSQLite(conn) {
		return conn
	}
	return conn.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
}
