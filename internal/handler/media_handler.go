package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/presshub/internal/db"
	"github.com/presshub/internal/service"
)

type mediaUpdateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	SortOrder   int    `json:"sort_order"`
}

func mediaPayload(item db.MediaItem) gin.H {
	return gin.H{
		"id":           item.ID,
		"title":        item.Title,
		"description":  item.Description,
		"file_url":     item.FileURL,
		"content_type": item.ContentType,
		"byte_size":    item.ByteSize,
		"width":        item.Width,
		"height":       item.Height,
		"status":       item.Status,
		"sort_order":   item.SortOrder,
		"created_at":   item.CreatedAt,
	}
}

// GetMediaItems 后台分页获取媒体库
func (a *API) GetMediaItems(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	page, perPage := parsePagination(c, 20, 100)

	result, err := a.media.List(siteID, service.MediaFilter{
		Search:  strings.TrimSpace(c.Query("search")),
		Status:  strings.TrimSpace(c.Query("status")),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取媒体列表失败")
		return
	}

	items := make([]gin.H, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, mediaPayload(item))
	}
	c.JSON(http.StatusOK, gin.H{
		"items":       items,
		"total":       result.Total,
		"total_pages": result.TotalPages,
		"page":        result.Page,
		"per_page":    result.PerPage,
	})
}

// UploadMedia 后台上传图片，重新编码后落盘
func (a *API) UploadMedia(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "必须上传文件")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "读取上传文件失败")
		return
	}
	defer file.Close()

	item, err := a.media.SaveUpload(siteID, service.MediaUpload{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Content:     file,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMediaFileMissing):
			respondError(c, http.StatusBadRequest, "必须上传文件")
		case errors.Is(err, service.ErrMediaNotImage):
			respondError(c, http.StatusBadRequest, "仅支持图片格式")
		default:
			respondError(c, http.StatusInternalServerError, "保存上传失败")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "上传成功", "item": mediaPayload(*item)})
}

// UpdateMediaItem 后台更新媒体条目的标题、描述与状态
func (a *API) UpdateMediaItem(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的媒体ID")
		return
	}
	var req mediaUpdateRequest
	if !bindJSON(c, &req, "参数不合法") {
		return
	}

	item, err := a.media.Update(siteID, id, service.MediaInput{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		SortOrder:   req.SortOrder,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMediaNotFound):
			respondError(c, http.StatusNotFound, "媒体条目不存在")
		case errors.Is(err, service.ErrMediaStatusInvalid):
			respondError(c, http.StatusBadRequest, "未知的媒体状态")
		default:
			respondError(c, http.StatusInternalServerError, "更新媒体条目失败")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "媒体条目已更新", "item": mediaPayload(*item)})
}

// DeleteMediaItem 后台删除媒体条目及磁盘文件
func (a *API) DeleteMediaItem(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的媒体ID")
		return
	}

	if err := a.media.Delete(siteID, id); err != nil {
		if errors.Is(err, service.ErrMediaNotFound) {
			respondError(c, http.StatusNotFound, "媒体条目不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "删除媒体条目失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "媒体条目已删除"})
}

// GetPublicMedia 公开端图库，只返回已发布条目
func (a *API) GetPublicMedia(c *gin.Context) {
	site := currentSite(c)
	if site == nil {
		respondError(c, http.StatusNotFound, "站点不存在")
		return
	}
	page, perPage := parsePagination(c, 24, 60)

	result, err := a.media.ListPublished(site.ID, page, perPage)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取图库失败")
		return
	}

	items := make([]gin.H, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, gin.H{
			"title":       item.Title,
			"description": item.Description,
			"file_url":    item.FileURL,
			"width":       item.Width,
			"height":      item.Height,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"items":       items,
		"total":       result.Total,
		"total_pages": result.TotalPages,
		"page":        result.Page,
		"per_page":    result.PerPage,
	})
}
