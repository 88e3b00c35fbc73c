package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"taskmanager/internal/model"
	"taskmanager/internal/store"
)

const (
	demoEmail    = "demo@taskmanager.local"
	demoName     = "Demo User"
	demoPassword = "demo-password"
)

// SeedDemoData 创建演示账号及示例任务。账号已有任务时不做任何修改。
func (s *Server) SeedDemoData(ctx context.Context) error {
	if s.store == nil {
		return errors.New("seed demo data: no store")
	}
	user, err := s.demoUser(ctx)
	if err != nil {
		return fmt.Errorf("seed demo data: %w", err)
	}

	n, err := s.store.CountTasks(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("seed demo data: %w", err)
	}
	if n > 0 {
		s.logger.Debug("demo account already seeded", slog.String("email", demoEmail), slog.Int64("tasks", n))
		return nil
	}

	samples := []model.Task{
		{Title: "Try the task manager", Description: "Log in as the demo user and look around.", Priority: model.PriorityHigh},
		{Title: "Create your own account", Priority: model.PriorityMedium},
		{Title: "Mark a task as done", Priority: model.PriorityLow, Status: model.StatusCompleted},
	}
	for i := range samples {
		samples[i].OwnerID = user.ID
		if err := s.store.CreateTask(ctx, &samples[i]); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}

	s.logger.Info("demo tasks created", slog.String("user_id", user.ID), slog.Int("tasks", len(samples)))
	return nil
}

// demoUser 查找演示账号，不存在时创建。
func (s *Server) demoUser(ctx context.Context) (*model.User, error) {
	user, err := s.store.FindUserByEmail(ctx, demoEmail)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(demoPassword)
	if err != nil {
		return nil, err
	}
	user = &model.User{Name: demoName, Email: demoEmail, PasswordHash: hash}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return s.store.FindUserByEmail(ctx, demoEmail)
		}
		return nil, err
	}
	s.logger.Info("demo account created", slog.String("user_id", user.ID))
	return user, nil
}
