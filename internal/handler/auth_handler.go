package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/presshub/internal/db"
)

const (
	userContextKey = "__current_user"
	tokenTTL       = 24 * time.Hour
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func userPayload(user *db.User) gin.H {
	return gin.H{
		"id":           user.ID,
		"username":     user.Username,
		"display_name": user.DisplayName,
		"role":         user.Role,
	}
}

// Login 校验用户名密码并建立会话
func (a *API) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req, "用户名和密码不能为空") {
		return
	}

	var user db.User
	if err := a.db.Where("username = ?", strings.TrimSpace(req.Username)).First(&user).Error; err != nil {
		respondError(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		respondError(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	session := sessions.Default(c)
	session.Set("user_id", user.ID)
	session.Set("username", user.Username)
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "登录成功", "user": userPayload(&user)})
}

// Logout 清除会话
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已退出登录"})
}

// IssueToken 为已登录用户签发 Bearer Token，供脚本化调用管理接口
func (a *API) IssueToken(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"role":     user.Role,
		"iat":      now.Unix(),
		"exp":      now.Add(tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.jwtSecret)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "签发令牌失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      signed,
		"expires_at": now.Add(tokenTTL).Format(time.RFC3339),
	})
}

// Me 返回当前登录用户信息
func (a *API) Me(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userPayload(user)})
}

// ChangePassword 修改当前用户密码
func (a *API) ChangePassword(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		respondError(c, http.StatusUnauthorized, "未登录")
		return
	}

	var req changePasswordRequest
	if !bindJSON(c, &req, "新旧密码不能为空") {
		return
	}
	if len(req.NewPassword) < 8 {
		respondError(c, http.StatusBadRequest, "新密码至少需要 8 个字符")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.OldPassword)); err != nil {
		respondError(c, http.StatusUnauthorized, "原密码错误")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "密码加密失败")
		return
	}
	if err := a.db.Model(user).Update("password", string(hashed)).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "更新密码失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "密码已更新"})
}

// AuthRequired 认证中间件，接受会话或 Bearer Token
func (a *API) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := a.userFromSession(c); user != nil {
			c.Set(userContextKey, user)
			c.Next()
			return
		}
		if user := a.userFromBearer(c); user != nil {
			c.Set(userContextKey, user)
			c.Next()
			return
		}
		respondError(c, http.StatusUnauthorized, "请先登录")
		c.Abort()
	}
}

// AdminRequired 限制仅管理员角色访问，需在 AuthRequired 之后使用
func (a *API) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil || !user.IsAdmin() {
			respondError(c, http.StatusForbidden, "需要管理员权限")
			c.Abort()
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *db.User {
	value, exists := c.Get(userContextKey)
	if !exists {
		return nil
	}
	user, _ := value.(*db.User)
	return user
}

func (a *API) userFromSession(c *gin.Context) *db.User {
	session := sessions.Default(c)
	raw := session.Get("user_id")
	userID, ok := raw.(uint)
	if !ok {
		return nil
	}
	var user db.User
	if err := a.db.First(&user, userID).Error; err != nil {
		return nil
	}
	return &user
}

func (a *API) userFromBearer(c *gin.Context) *db.User {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil
	}

	token, err := jwt.Parse(strings.TrimSpace(parts[1]), func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}
	rawID, ok := claims["user_id"].(float64)
	if !ok || rawID <= 0 {
		return nil
	}

	var user db.User
	if err := a.db.First(&user, uint(rawID)).Error; err != nil {
		return nil
	}
	return &user
}
