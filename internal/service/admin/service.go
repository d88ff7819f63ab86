package admin

import (
	"context"
	"errors"
	"strings"
	"time"

	"gameroom-service/internal/config"
	"gameroom-service/internal/model"
	pkgAuth "gameroom-service/pkg/auth"
	appErr "gameroom-service/pkg/errors"
	"gameroom-service/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const statusActive = "active"

// Service authenticates operators for the supply endpoints. Without a
// database there are no operator accounts and every login is refused.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

type LoginResult struct {
	Token    string       `json:"token"`
	ExpireAt time.Time    `json:"expireAt"`
	Operator OperatorInfo `json:"operator"`
}

type OperatorInfo struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"displayName"`
	Status      string     `json:"status"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: time.Now}
}

func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if s.db == nil {
		return nil, appErr.ErrUnauthorized
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, appErr.ErrInvalidPassword
	}

	var op model.Operator
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&op).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrOperatorNotFound
		}
		return nil, err
	}
	if !strings.EqualFold(op.Status, statusActive) {
		return nil, appErr.ErrOperatorDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, appErr.ErrInvalidPassword
	}

	token, err := pkgAuth.GenerateAdminToken(op.ID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	expireAt := now.Add(time.Duration(config.GlobalConfig.JWT.Expire) * time.Hour)

	if err := s.db.WithContext(ctx).
		Model(&op).
		Updates(map[string]interface{}{
			"last_login_at": now,
			"updated_at":    now,
		}).Error; err != nil {
		return nil, err
	}
	op.LastLoginAt = &now

	logger.Log.Info("operator logged in", zap.Int64("operatorId", op.ID))
	return &LoginResult{
		Token:    token,
		ExpireAt: expireAt,
		Operator: operatorInfo(op),
	}, nil
}

// Authorize checks that operatorID still names an active operator, so a
// token outlives neither a disabled nor a deleted account. Without a
// database there are no accounts and only the token signature counts.
func (s *Service) Authorize(ctx context.Context, operatorID int64) error {
	if s.db == nil {
		return nil
	}
	var op model.Operator
	if err := s.db.WithContext(ctx).Select("id", "status").First(&op, operatorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.ErrOperatorNotFound
		}
		return err
	}
	if !strings.EqualFold(op.Status, statusActive) {
		return appErr.ErrOperatorDisabled
	}
	return nil
}

// SetStatus enables or disables an operator.
func (s *Service) SetStatus(ctx context.Context, operatorID int64, active bool) error {
	if s.db == nil {
		return appErr.ErrOperatorNotFound
	}
	status := "disabled"
	if active {
		status = statusActive
	}
	res := s.db.WithContext(ctx).Model(&model.Operator{}).
		Where("id = ?", operatorID).
		Updates(map[string]interface{}{"status": status, "updated_at": s.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return appErr.ErrOperatorNotFound
	}
	logger.Log.Info("operator status changed", zap.Int64("operatorId", operatorID), zap.String("status", status))
	return nil
}

// EnsureDefaultOperator creates the configured bootstrap operator if it is
// missing. It is a no-op without a database or without credentials.
func (s *Service) EnsureDefaultOperator(ctx context.Context) error {
	cfg := config.GlobalConfig.Admin
	if s.db == nil {
		return nil
	}
	if cfg.DefaultUsername == "" || cfg.DefaultPassword == "" {
		logger.Log.Warn("default operator credentials not configured; skipping bootstrap")
		return nil
	}

	var exists int64
	if err := s.db.WithContext(ctx).
		Model(&model.Operator{}).
		Where("username = ?", cfg.DefaultUsername).
		Count(&exists).Error; err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.DefaultPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	op := model.Operator{
		Username:     cfg.DefaultUsername,
		PasswordHash: string(hash),
		DisplayName:  cfg.DefaultUsername,
		Status:       statusActive,
	}
	if err := s.db.WithContext(ctx).Create(&op).Error; err != nil {
		return err
	}
	logger.Log.Info("default operator created", zap.String("username", cfg.DefaultUsername))
	return nil
}

func operatorInfo(op model.Operator) OperatorInfo {
	return OperatorInfo{
		ID:          op.ID,
		Username:    op.Username,
		DisplayName: op.DisplayName,
		Status:      op.Status,
		LastLoginAt: op.LastLoginAt,
		CreatedAt:   op.CreatedAt,
	}
}
