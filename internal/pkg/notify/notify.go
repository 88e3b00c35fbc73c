package notify

import (
	"context"

	"taskmanager/internal/model"
)

// Notifier 定义账户事件通知接口。
type Notifier interface {
	// SendWelcome 在用户注册成功后发送欢迎通知。
	//
	// 参数:
	//   ctx: 上下文
	//   user: 新注册的用户
	SendWelcome(ctx context.Context, user *model.User) error
}

// Nop 不发送任何通知。
type Nop struct{}

// SendWelcome 实现 Notifier。
func (Nop) SendWelcome(context.Context, *model.User) error { return nil }
