// Package tasks implements the authenticated task CRUD endpoints. Every
// query is scoped to the session's user; there is no way to read or touch
// another user's tasks regardless of the IDs supplied.
package tasks

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/db/models"
	"github.com/taskhive/taskhive/internal/db/repositories"
	"github.com/taskhive/taskhive/internal/middleware"
)

const (
	defaultPage  = 1
	defaultLimit = 10
)

// Handlers holds all dependencies for the task endpoints.
type Handlers struct {
	taskRepo   *repositories.TaskRepository
	maxPerUser int
}

// NewHandlers creates a new tasks Handlers instance.
func NewHandlers(cfg *config.Config, taskRepo *repositories.TaskRepository) *Handlers {
	return &Handlers{
		taskRepo:   taskRepo,
		maxPerUser: cfg.Tasks.MaxPerUser,
	}
}

// sortKeys are the query values accepted for sortBy.
var sortKeys = map[string]bool{
	"createdAt":   true,
	"title":       true,
	"priority":    true,
	"isCompleted": true,
}

// taskFieldKeys and userFieldKeys bound the fields query parameter.
var taskFieldKeys = map[string]bool{
	"id":        true,
	"title":     true,
	"priority":  true,
	"createdAt": true,
}

var userFieldKeys = map[string]bool{
	"name":  true,
	"email": true,
}

// parseFilters reads the filter query parameters. Unparseable dates are
// ignored rather than rejected.
func parseFilters(c *gin.Context) repositories.TaskFilters {
	filters := repositories.TaskFilters{
		TitleContains: c.Query("find"),
		Priority:      c.Query("priority"),
	}
	if v := c.Query("isCompleted"); v != "" {
		completed := v == "true"
		filters.IsCompleted = &completed
	}
	if v := c.Query("min_date"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			filters.MinDate = &ts
		}
	}
	if v := c.Query("max_date"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			filters.MaxDate = &ts
		}
	}
	return filters
}

// parseSort reads sortBy/sortDirection. Without sortBy the listing is
// newest first; naming a sort key flips the default direction to
// ascending, and sortDirection=desc overrides.
func parseSort(c *gin.Context) (sortBy, direction string) {
	sortBy = "createdAt"
	direction = "desc"
	if v := c.Query("sortBy"); sortKeys[v] {
		sortBy = v
		direction = "asc"
	}
	if c.Query("sortDirection") == "desc" {
		direction = "desc"
	}
	return sortBy, direction
}

// parseFields splits the fields parameter into task and user selections.
// At least one task field must be present; ok is false otherwise.
func parseFields(raw string) (taskFields, userFields []string, ok bool) {
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		switch {
		case taskFieldKeys[field]:
			taskFields = append(taskFields, field)
		case userFieldKeys[field]:
			userFields = append(userFields, field)
		}
	}
	if len(taskFields) == 0 {
		return nil, nil, false
	}
	return taskFields, userFields, true
}

// shapeTask renders a task row with the requested fields. Empty selections
// mean the default shape: all task fields plus the owner.
func shapeTask(task *models.TaskWithOwner, taskFields, userFields []string) gin.H {
	if taskFields == nil {
		return gin.H{
			"id":          task.ID,
			"title":       task.Title,
			"isCompleted": task.IsCompleted,
			"priority":    task.Priority,
			"createdAt":   task.CreatedAt,
			"user":        gin.H{"name": task.OwnerName, "email": task.OwnerEmail},
		}
	}

	shaped := gin.H{}
	for _, field := range taskFields {
		switch field {
		case "id":
			shaped["id"] = task.ID
		case "title":
			shaped["title"] = task.Title
		case "priority":
			shaped["priority"] = task.Priority
		case "createdAt":
			shaped["createdAt"] = task.CreatedAt
		}
	}
	if len(userFields) > 0 {
		owner := gin.H{}
		for _, field := range userFields {
			switch field {
			case "name":
				owner["name"] = task.OwnerName
			case "email":
				owner["email"] = task.OwnerEmail
			}
		}
		shaped["user"] = owner
	}
	return shaped
}

// Index lists the caller's tasks with filtering, sorting, pagination, and
// field selection. An empty page answers 404, matching the API contract
// clients already depend on.
func (h *Handlers) Index(c *gin.Context) {
	userID := middleware.SessionUserID(c)

	var taskFields, userFields []string
	if raw := c.Query("fields"); raw != "" {
		var ok bool
		taskFields, userFields, ok = parseFields(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"message": "When specifying fields, at least one task field must be included.",
			})
			return
		}
	}

	page, _ := strconv.Atoi(c.Query("page"))
	if page < 1 {
		page = defaultPage
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit < 1 {
		limit = defaultLimit
	}

	filters := parseFilters(c)
	sortBy, direction := parseSort(c)

	rows, err := h.taskRepo.List(c.Request.Context(), userID, filters, sortBy, direction, limit, (page-1)*limit)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to list tasks"})
		return
	}

	if len(rows) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"message": "No tasks found for user"})
		return
	}

	total, err := h.taskRepo.CountFiltered(c.Request.Context(), userID, filters)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to list tasks"})
		return
	}

	shaped := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		shaped = append(shaped, shapeTask(row, taskFields, userFields))
	}

	pages := (total + limit - 1) / limit
	c.JSON(http.StatusOK, gin.H{
		"tasks": shaped,
		"pagination": gin.H{
			"page":    page,
			"limit":   limit,
			"total":   total,
			"pages":   pages,
			"hasNext": page*limit < total,
			"hasPrev": page > 1,
		},
	})
}

// Show returns a single task with its owner fields.
func (h *Handlers) Show(c *gin.Context) {
	taskID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || taskID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid task id."})
		return
	}

	task, err := h.taskRepo.Get(c.Request.Context(), middleware.SessionUserID(c), taskID)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to load task"})
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "Task not found"})
		return
	}

	c.JSON(http.StatusOK, shapeTask(task, nil, nil))
}

type createTaskRequest struct {
	Title       string `json:"title"`
	IsCompleted bool   `json:"isCompleted"`
	Priority    string `json:"priority"`
}

// validate checks the payload and fills defaults, returning a client
// message when the task is not acceptable.
func (r *createTaskRequest) validate() string {
	if strings.TrimSpace(r.Title) == "" {
		return "Title is required"
	}
	if r.Priority == "" {
		r.Priority = models.PriorityMedium
	}
	if !models.ValidPriority(r.Priority) {
		return "Priority must be one of: low, medium, high"
	}
	return ""
}

// Create adds a task, subject to the per-user cap.
func (h *Handlers) Create(c *gin.Context) {
	userID := middleware.SessionUserID(c)

	existing, err := h.taskRepo.CountByUser(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to create task"})
		return
	}
	if existing >= h.maxPerUser {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"message": "Maximum tasks exceeded (" + strconv.Itoa(h.maxPerUser) + ").",
		})
		return
	}

	var req createTaskRequest
	_ = c.ShouldBindJSON(&req)
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": msg})
		return
	}

	task := &models.Task{
		UserID:      userID,
		Title:       req.Title,
		IsCompleted: req.IsCompleted,
		Priority:    req.Priority,
	}
	if err := h.taskRepo.Create(c.Request.Context(), task); err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to create task"})
		return
	}

	c.JSON(http.StatusCreated, task)
}

type updateTaskRequest struct {
	Title       *string `json:"title"`
	IsCompleted *bool   `json:"isCompleted"`
	Priority    *string `json:"priority"`
}

// Update applies a partial update to one of the caller's tasks.
func (h *Handlers) Update(c *gin.Context) {
	taskID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || taskID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid task id."})
		return
	}

	var req updateTaskRequest
	_ = c.ShouldBindJSON(&req)

	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Title cannot be empty"})
		return
	}
	if req.Priority != nil && !models.ValidPriority(*req.Priority) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Priority must be one of: low, medium, high"})
		return
	}

	patch := repositories.TaskPatch{
		Title:       req.Title,
		IsCompleted: req.IsCompleted,
		Priority:    req.Priority,
	}
	task, err := h.taskRepo.Update(c.Request.Context(), middleware.SessionUserID(c), taskID, patch)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to update task"})
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "The task was not found."})
		return
	}

	c.JSON(http.StatusOK, task)
}

// Delete removes one of the caller's tasks and echoes the deleted row.
func (h *Handlers) Delete(c *gin.Context) {
	taskID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || taskID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid task id."})
		return
	}

	task, err := h.taskRepo.Delete(c.Request.Context(), middleware.SessionUserID(c), taskID)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to delete task"})
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "The task was not found."})
		return
	}

	c.JSON(http.StatusOK, task)
}

type bulkCreateRequest struct {
	Tasks []createTaskRequest `json:"tasks"`
}

// BulkCreate inserts a batch of tasks in one statement. The whole batch is
// validated and checked against the cap before anything is written.
func (h *Handlers) BulkCreate(c *gin.Context) {
	userID := middleware.SessionUserID(c)

	var req bulkCreateRequest
	_ = c.ShouldBindJSON(&req)
	if len(req.Tasks) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request data. Expected an array of tasks.",
		})
		return
	}

	existing, err := h.taskRepo.CountByUser(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to create tasks"})
		return
	}
	if existing+len(req.Tasks) > h.maxPerUser {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"message": "Maximum tasks exceeded (" + strconv.Itoa(h.maxPerUser) + ").",
		})
		return
	}

	batch := make([]*models.Task, 0, len(req.Tasks))
	for i := range req.Tasks {
		if msg := req.Tasks[i].validate(); msg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"message": msg})
			return
		}
		batch = append(batch, &models.Task{
			UserID:      userID,
			Title:       req.Tasks[i].Title,
			IsCompleted: req.Tasks[i].IsCompleted,
			Priority:    req.Tasks[i].Priority,
		})
	}

	created, err := h.taskRepo.BulkCreate(c.Request.Context(), batch)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to create tasks"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":        "success!",
		"tasksCreated":   created,
		"totalRequested": len(batch),
	})
}
