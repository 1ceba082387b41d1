// Package postgres provides a gorm-backed calendar directory for deployments
// that share the calendar's PostgreSQL database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lamcalendar/notifier/internal/services/notifications/domain"
	"github.com/lamcalendar/notifier/internal/services/notifications/storage"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type userModel struct {
	ID          int64             `gorm:"primaryKey;autoIncrement:false"`
	Name        string            `gorm:"not null;default:''"`
	Email       string            `gorm:"not null;uniqueIndex"`
	City        string            `gorm:"not null;default:''"`
	LeadTime    string            `gorm:"not null;default:''"`
	Preferences []preferenceModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

func (userModel) TableName() string { return "users" }

type preferenceModel struct {
	UserID     int64  `gorm:"primaryKey;autoIncrement:false"`
	Category   string `gorm:"primaryKey"`
	Preference string `gorm:"not null"`
}

func (preferenceModel) TableName() string { return "user_preferences" }

type eventModel struct {
	ID              int64            `gorm:"primaryKey;autoIncrement:false"`
	Title           string           `gorm:"not null;default:''"`
	Description     string           `gorm:"not null;default:''"`
	Location        string           `gorm:"not null;default:''"`
	DurationSeconds int64            `gorm:"not null;default:0"`
	IsPublic        bool             `gorm:"not null;default:false"`
	StartAt         time.Time        `gorm:"not null;index"`
	Roles           []eventRoleModel `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE"`
}

func (eventModel) TableName() string { return "events" }

type eventRoleModel struct {
	EventID  int64     `gorm:"primaryKey;autoIncrement:false"`
	UserID   int64     `gorm:"primaryKey;autoIncrement:false"`
	Position int       `gorm:"not null"`
	RoleType string    `gorm:"not null"`
	Status   string    `gorm:"not null"`
	Shown    bool      `gorm:"not null"`
	User     userModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

func (eventRoleModel) TableName() string { return "event_roles" }

// Store is the PostgreSQL calendar directory.
type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

// Open connects to dsn and migrates the directory tables.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	store, err := New(db)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return store, nil
}

// New wraps an open gorm handle and migrates the directory tables.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db is required")
	}
	if err := db.AutoMigrate(&userModel{}, &preferenceModel{}, &eventModel{}, &eventRoleModel{}); err != nil {
		return nil, fmt.Errorf("migrate directory tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PutUser upserts one user and replaces its notification preferences.
func (s *Store) PutUser(ctx context.Context, user domain.User) error {
	if user.ID <= 0 {
		return fmt.Errorf("user id is required")
	}
	email := domain.NormalizeEmail(user.Email)
	if email == "" {
		return fmt.Errorf("user email is required")
	}
	model := userModel{
		ID:       user.ID,
		Name:     strings.TrimSpace(user.Name),
		Email:    email,
		City:     string(user.City),
		LeadTime: string(user.Settings.LeadTime),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "email", "city", "lead_time"}),
		}).Omit("Preferences").Create(&model).Error; err != nil {
			return translate(err)
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&preferenceModel{}).Error; err != nil {
			return fmt.Errorf("clear user preferences: %w", err)
		}
		prefs := make([]preferenceModel, 0, len(user.Settings.Preferences))
		for category, preference := range user.Settings.Preferences {
			prefs = append(prefs, preferenceModel{
				UserID:     user.ID,
				Category:   string(category),
				Preference: string(domain.ParsePreference(string(preference))),
			})
		}
		if len(prefs) > 0 {
			if err := tx.Create(&prefs).Error; err != nil {
				return fmt.Errorf("put user preferences: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put user %d: %w", user.ID, err)
	}
	return nil
}

// PutEvent upserts one event and replaces its roles in the given order.
func (s *Store) PutEvent(ctx context.Context, event domain.Event) error {
	if event.ID <= 0 {
		return fmt.Errorf("event id is required")
	}
	model := eventModel{
		ID:              event.ID,
		Title:           event.Title,
		Description:     event.Description,
		Location:        event.Location,
		DurationSeconds: int64(event.Duration / time.Second),
		IsPublic:        event.IsPublic,
		StartAt:         event.Start.UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "description", "location", "duration_seconds", "is_public", "start_at"}),
		}).Omit("Roles").Create(&model).Error; err != nil {
			return translate(err)
		}
		if err := tx.Where("event_id = ?", event.ID).Delete(&eventRoleModel{}).Error; err != nil {
			return fmt.Errorf("clear event roles: %w", err)
		}
		roles := make([]eventRoleModel, 0, len(event.Roles))
		for position, role := range event.Roles {
			roles = append(roles, eventRoleModel{
				EventID:  event.ID,
				UserID:   role.UserID,
				Position: position,
				RoleType: string(role.Type),
				Status:   string(role.Status),
				Shown:    role.Shown,
			})
		}
		if len(roles) > 0 {
			if err := tx.Omit("User").Create(&roles).Error; err != nil {
				return translate(err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put event %d: %w", event.ID, err)
	}
	return nil
}

// DeleteEvent removes one event and its roles.
func (s *Store) DeleteEvent(ctx context.Context, id int64) error {
	result := s.db.WithContext(ctx).Delete(&eventModel{}, id)
	if result.Error != nil {
		return fmt.Errorf("delete event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// EventsStartingBetween lists events with start in [from, to] ordered by start.
func (s *Store) EventsStartingBetween(ctx context.Context, from, to time.Time) ([]domain.Event, error) {
	if to.Before(from) {
		return nil, nil
	}
	var models []eventModel
	if err := s.withRoles(ctx).
		Where("start_at >= ? AND start_at <= ?", from.UTC(), to.UTC()).
		Order("start_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events := make([]domain.Event, 0, len(models))
	for _, model := range models {
		events = append(events, model.toDomain())
	}
	return events, nil
}

// EventByID returns one event with its ordered roles.
func (s *Store) EventByID(ctx context.Context, id int64) (domain.Event, error) {
	var model eventModel
	if err := s.withRoles(ctx).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Event{}, storage.ErrNotFound
		}
		return domain.Event{}, fmt.Errorf("get event: %w", err)
	}
	return model.toDomain(), nil
}

// UserByID returns one user with notification settings.
func (s *Store) UserByID(ctx context.Context, id int64) (domain.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Preload("Preferences").First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, storage.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	user := domain.User{
		ID:    model.ID,
		Name:  model.Name,
		Email: model.Email,
		City:  domain.ParseCity(model.City),
		Settings: domain.NotificationSettings{
			LeadTime:    domain.ParseLeadTime(model.LeadTime),
			Preferences: make(map[domain.Category]domain.Preference, len(model.Preferences)),
		},
	}
	for _, pref := range model.Preferences {
		if category, ok := domain.ParseCategory(pref.Category); ok {
			user.Settings.Preferences[category] = domain.ParsePreference(pref.Preference)
		}
	}
	return user, nil
}

func (s *Store) withRoles(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Preload("Roles", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Roles.User")
}

func (m eventModel) toDomain() domain.Event {
	event := domain.Event{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Location:    m.Location,
		Duration:    time.Duration(m.DurationSeconds) * time.Second,
		IsPublic:    m.IsPublic,
		Start:       m.StartAt.UTC(),
		Roles:       make([]domain.Role, 0, len(m.Roles)),
	}
	for _, role := range m.Roles {
		event.Roles = append(event.Roles, domain.Role{
			UserID: role.UserID,
			Email:  role.User.Email,
			Type:   domain.ParseRoleType(role.RoleType),
			Status: domain.ParseStatusType(role.Status),
			Shown:  role.Shown,
		})
	}
	return event
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrConflict
	}
	return err
}
