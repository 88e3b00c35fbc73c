package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Priority 任务优先级。
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Status 任务状态。
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Task 表示一个待办事项。
//
// 每个任务只有一个所有者 (OwnerID)，创建后不可更改；
// 所有读写都必须同时按 id 与 owner_id 过滤。
type Task struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`                                             // 任务 ID (UUID)
	Title       string     `gorm:"type:varchar(255);not null" json:"title"`                                           // 标题（必填）
	Description string     `gorm:"type:text" json:"description"`                                                      // 描述
	Priority    Priority   `gorm:"type:varchar(16);default:medium" json:"priority"`                                   // 优先级
	DueDate     *time.Time `json:"dueDate"`                                                                           // 截止时间
	Status      Status     `gorm:"type:varchar(16);default:pending" json:"status"`                                    // 状态
	OwnerID     string     `gorm:"type:varchar(36);not null;index:idx_tasks_owner_created,priority:1" json:"ownerId"` // 所属用户 ID
	CreatedAt   time.Time  `gorm:"index:idx_tasks_owner_created,priority:2" json:"createdAt"`                         // 创建时间
	UpdatedAt   time.Time  `json:"updatedAt"`                                                                         // 更新时间
}

// BeforeCreate 为新任务生成 ID 并补齐默认值。
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	return nil
}

// ValidPriority 判断优先级是否合法。
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ValidStatus 判断状态是否合法。
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}
