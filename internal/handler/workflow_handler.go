package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/presshub/internal/db"
	"github.com/presshub/internal/service"
)

type workflowStepRequest struct {
	Kind         string `json:"kind" binding:"required"`
	Subject      string `json:"subject"`
	BodyTemplate string `json:"body_template"`
	WaitSeconds  int64  `json:"wait_seconds"`
	TagName      string `json:"tag_name"`
	WebhookURL   string `json:"webhook_url"`
}

type workflowRequest struct {
	Name        string                `json:"name" binding:"required"`
	TriggerType string                `json:"trigger_type" binding:"required"`
	CronExpr    string                `json:"cron_expr"`
	Steps       []workflowStepRequest `json:"steps" binding:"required"`
}

type enrollRequest struct {
	SubscriberID uint `json:"subscriber_id" binding:"required"`
}

func (r workflowRequest) toInput() service.WorkflowInput {
	steps := make([]service.WorkflowStepInput, 0, len(r.Steps))
	for _, step := range r.Steps {
		steps = append(steps, service.WorkflowStepInput{
			Kind:         step.Kind,
			Subject:      step.Subject,
			BodyTemplate: step.BodyTemplate,
			WaitSeconds:  step.WaitSeconds,
			TagName:      step.TagName,
			WebhookURL:   step.WebhookURL,
		})
	}
	return service.WorkflowInput{
		Name:        r.Name,
		TriggerType: r.TriggerType,
		CronExpr:    r.CronExpr,
		Steps:       steps,
	}
}

func workflowPayload(workflow db.Workflow) gin.H {
	steps := make([]gin.H, 0, len(workflow.Steps))
	for _, step := range workflow.Steps {
		steps = append(steps, gin.H{
			"id":            step.ID,
			"position":      step.Position,
			"kind":          step.Kind,
			"subject":       step.Subject,
			"body_template": step.BodyTemplate,
			"wait_seconds":  step.WaitSeconds,
			"tag_name":      step.TagName,
			"webhook_url":   step.WebhookURL,
		})
	}
	return gin.H{
		"id":           workflow.ID,
		"name":         workflow.Name,
		"status":       workflow.Status,
		"trigger_type": workflow.TriggerType,
		"cron_expr":    workflow.CronExpr,
		"next_cron_at": workflow.NextCronAt,
		"steps":        steps,
		"updated_at":   workflow.UpdatedAt,
	}
}

func respondWorkflowError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrWorkflowNotFound):
		respondError(c, http.StatusNotFound, "工作流不存在")
	case errors.Is(err, service.ErrWorkflowNameMissing):
		respondError(c, http.StatusBadRequest, "工作流名称不能为空")
	case errors.Is(err, service.ErrWorkflowTrigger):
		respondError(c, http.StatusBadRequest, "未知的触发类型")
	case errors.Is(err, service.ErrWorkflowCronExpr):
		respondError(c, http.StatusBadRequest, "cron 表达式不合法")
	case errors.Is(err, service.ErrWorkflowSteps):
		respondError(c, http.StatusBadRequest, "工作流步骤配置不合法")
	case errors.Is(err, service.ErrWorkflowState):
		respondError(c, http.StatusBadRequest, "当前状态不允许该操作")
	default:
		respondError(c, http.StatusInternalServerError, fallback)
	}
}

// GetWorkflows 获取工作流列表及在途实例数
func (a *API) GetWorkflows(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	workflows, err := a.workflows.List(siteID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取工作流列表失败")
		return
	}
	counts, err := a.workflows.EnrollmentCounts(siteID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取工作流列表失败")
		return
	}

	items := make([]gin.H, 0, len(workflows))
	for _, workflow := range workflows {
		item := workflowPayload(workflow)
		item["active_enrollments"] = counts[workflow.ID]
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"workflows": items})
}

// GetWorkflow 获取工作流详情
func (a *API) GetWorkflow(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的工作流ID")
		return
	}

	workflow, err := a.workflows.Get(siteID, id)
	if err != nil {
		respondWorkflowError(c, err, "获取工作流失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow": workflowPayload(*workflow)})
}

// CreateWorkflow 创建工作流（草稿状态）
func (a *API) CreateWorkflow(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	var req workflowRequest
	if !bindJSON(c, &req, "工作流名称、触发类型和步骤不能为空") {
		return
	}

	workflow, err := a.workflows.Create(siteID, req.toInput())
	if err != nil {
		respondWorkflowError(c, err, "创建工作流失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "工作流创建成功", "workflow": workflowPayload(*workflow)})
}

// UpdateWorkflow 更新工作流定义，运行中的工作流需先暂停
func (a *API) UpdateWorkflow(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的工作流ID")
		return
	}
	var req workflowRequest
	if !bindJSON(c, &req, "工作流名称、触发类型和步骤不能为空") {
		return
	}

	workflow, err := a.workflows.Update(siteID, id, req.toInput())
	if err != nil {
		respondWorkflowError(c, err, "更新工作流失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "工作流更新成功", "workflow": workflowPayload(*workflow)})
}

// DeleteWorkflow 删除工作流并取消在途实例
func (a *API) DeleteWorkflow(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的工作流ID")
		return
	}

	if err := a.workflows.Delete(siteID, id); err != nil {
		respondWorkflowError(c, err, "删除工作流失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "工作流已删除"})
}

// ActivateWorkflow 激活工作流
func (a *API) ActivateWorkflow(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的工作流ID")
		return
	}

	workflow, err := a.workflows.Activate(siteID, id)
	if err != nil {
		respondWorkflowError(c, err, "激活工作流失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "工作流已激活", "workflow": workflowPayload(*workflow)})
}

// PauseWorkflow 暂停工作流，在途实例保留并停止推进
func (a *API) PauseWorkflow(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的工作流ID")
		return
	}

	workflow, err := a.workflows.Pause(siteID, id)
	if err != nil {
		respondWorkflowError(c, err, "暂停工作流失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "工作流已暂停", "workflow": workflowPayload(*workflow)})
}

// EnrollSubscriber 手动把订阅者放进工作流
func (a *API) EnrollSubscriber(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的工作流ID")
		return
	}
	var req enrollRequest
	if !bindJSON(c, &req, "必须提供订阅者ID") {
		return
	}

	enrollment, err := a.workflows.Enroll(siteID, id, req.SubscriberID)
	if err != nil {
		if errors.Is(err, service.ErrSubscriberNotFound) {
			respondError(c, http.StatusNotFound, "订阅者不存在")
			return
		}
		respondWorkflowError(c, err, "入组失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "已加入工作流", "enrollment": gin.H{
		"id":          enrollment.ID,
		"status":      enrollment.Status,
		"step_index":  enrollment.StepIndex,
		"next_run_at": enrollment.NextRunAt,
	}})
}

// GetEnrollments 分页获取工作流实例
func (a *API) GetEnrollments(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的工作流ID")
		return
	}
	page, perPage := parsePagination(c, 20, 100)
	status := strings.TrimSpace(c.Query("status"))

	result, err := a.workflows.ListEnrollments(siteID, id, status, page, perPage)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取实例列表失败")
		return
	}

	items := make([]gin.H, 0, len(result.Enrollments))
	for _, enrollment := range result.Enrollments {
		items = append(items, gin.H{
			"id":             enrollment.ID,
			"subscriber_id":  enrollment.SubscriberID,
			"status":         enrollment.Status,
			"step_index":     enrollment.StepIndex,
			"next_run_at":    enrollment.NextRunAt,
			"correlation_id": enrollment.CorrelationID,
			"last_error":     enrollment.LastError,
			"created_at":     enrollment.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"enrollments": items,
		"total":       result.Total,
		"total_pages": result.TotalPages,
		"page":        result.Page,
		"per_page":    result.PerPage,
	})
}

// CancelEnrollment 取消一个在途实例
func (a *API) CancelEnrollment(c *gin.Context) {
	siteID, ok := siteIDParam(c)
	if !ok {
		return
	}
	enrollmentID, err := parseUintParam(c, "enrollmentID")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的实例ID")
		return
	}

	if err := a.workflows.CancelEnrollment(siteID, enrollmentID); err != nil {
		if errors.Is(err, service.ErrEnrollmentNotFound) {
			respondError(c, http.StatusNotFound, "实例不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "取消实例失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "实例已取消"})
}

// RunAutomationNow 手动触发一轮调度，便于运营即时验证
func (a *API) RunAutomationNow(c *gin.Context) {
	if a.engine == nil {
		respondError(c, http.StatusServiceUnavailable, "自动化引擎未启用")
		return
	}
	a.engine.RunNow(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "已触发一轮调度"})
}
