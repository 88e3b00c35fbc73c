package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User 表示系统用户。
//
// 注册时创建，之后不再修改；PasswordHash 永远不会出现在 JSON 输出中。
type User struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`               // 用户 ID (UUID)
	Name         string    `gorm:"type:varchar(128);not null" json:"name"`              // 显示名
	Email        string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"` // 邮箱（唯一，小写）
	PasswordHash string    `gorm:"not null" json:"-"`                                   // bcrypt 哈希
	CreatedAt    time.Time `gorm:"index" json:"createdAt"`                              // 创建时间

	Tasks []Task `gorm:"foreignKey:OwnerID" json:"-"`
}

// BeforeCreate 为新用户生成 ID。
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
