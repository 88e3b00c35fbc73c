// Package store persists users and tasks with gorm.
//
// Every task query that targets a single task filters on both its id and
// its owner id, so a task owned by someone else behaves exactly like a
// task that does not exist.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskmanager/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when no record matches the filter.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned when a user with the same e-mail exists.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrInvalidTask is returned when a task carries an unknown priority or status.
	ErrInvalidTask = errors.New("invalid task")
)

// Store wraps a gorm connection.
type Store struct {
	db *gorm.DB
}

// Open connects with the named driver ("mysql" or "sqlite") and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialector.Name() == "sqlite" {
		// :memory: databases exist per connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	s := New(db)
	if err := s.Migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing gorm connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the users and tasks tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&model.User{}, &model.Task{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a new user. The e-mail must be unique.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	err := s.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// FindUserByID loads a user by id.
func (s *Store) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.findUser(ctx, "id = ?", id)
}

// FindUserByEmail loads a user by normalized e-mail.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findUser(ctx, "email = ?", email)
}

func (s *Store) findUser(ctx context.Context, query string, arg string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

// ListUsers returns all users, newest first.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	users := []model.User{}
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// ListTasks returns the owner's tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, ownerID string) ([]model.Task, error) {
	tasks := []model.Task{}
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// CountTasks returns how many tasks the owner has.
func (s *Store) CountTasks(ctx context.Context, ownerID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Task{}).Where("owner_id = ?", ownerID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// CreateTask inserts a task. The caller sets OwnerID.
func (s *Store) CreateTask(ctx context.Context, task *model.Task) error {
	if task.OwnerID == "" {
		return errors.New("create task: empty owner id")
	}
	if task.Priority != "" && !model.ValidPriority(task.Priority) {
		return fmt.Errorf("create task: priority %q: %w", task.Priority, ErrInvalidTask)
	}
	if task.Status != "" && !model.ValidStatus(task.Status) {
		return fmt.Errorf("create task: status %q: %w", task.Status, ErrInvalidTask)
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// FindTask loads the task with the given id owned by ownerID.
func (s *Store) FindTask(ctx context.Context, id, ownerID string) (*model.Task, error) {
	return findTask(s.db.WithContext(ctx), id, ownerID)
}

func findTask(db *gorm.DB, id, ownerID string) (*model.Task, error) {
	var task model.Task
	err := db.Where("id = ? AND owner_id = ?", id, ownerID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find task: %w", err)
	}
	return &task, nil
}

// TaskUpdate lists the mutable task fields. Nil pointers are left unchanged.
// There is deliberately no owner field.
type TaskUpdate struct {
	Title        *string
	Description  *string
	Priority     *model.Priority
	Status       *model.Status
	DueDate      *time.Time
	ClearDueDate bool
}

// Empty reports whether the update changes nothing.
func (u TaskUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Priority == nil &&
		u.Status == nil && u.DueDate == nil && !u.ClearDueDate
}

func (u TaskUpdate) columns() map[string]interface{} {
	updates := map[string]interface{}{}
	if u.Title != nil {
		updates["title"] = *u.Title
	}
	if u.Description != nil {
		updates["description"] = *u.Description
	}
	if u.Priority != nil {
		updates["priority"] = *u.Priority
	}
	if u.Status != nil {
		updates["status"] = *u.Status
	}
	if u.ClearDueDate {
		updates["due_date"] = nil
	} else if u.DueDate != nil {
		updates["due_date"] = *u.DueDate
	}
	return updates
}

// UpdateTask applies update to the task with the given id owned by ownerID
// and returns the stored result.
func (s *Store) UpdateTask(ctx context.Context, id, ownerID string, update TaskUpdate) (*model.Task, error) {
	if update.Priority != nil && !model.ValidPriority(*update.Priority) {
		return nil, fmt.Errorf("update task: priority %q: %w", *update.Priority, ErrInvalidTask)
	}
	if update.Status != nil && !model.ValidStatus(*update.Status) {
		return nil, fmt.Errorf("update task: status %q: %w", *update.Status, ErrInvalidTask)
	}
	var updated *model.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := findTask(tx, id, ownerID)
		if err != nil {
			return err
		}
		if cols := update.columns(); len(cols) > 0 {
			if err := tx.Model(task).Where("owner_id = ?", ownerID).Updates(cols).Error; err != nil {
				return fmt.Errorf("update task: %w", err)
			}
		}
		updated, err = findTask(tx, id, ownerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTask removes the task with the given id owned by ownerID.
func (s *Store) DeleteTask(ctx context.Context, id, ownerID string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Delete(&model.Task{})
	if res.Error != nil {
		return fmt.Errorf("delete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
