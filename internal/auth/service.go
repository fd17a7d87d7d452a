package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/campusfinder/internal/model"
	"github.com/hitoshi/campusfinder/internal/repository"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// JWTSecret はトークン署名鍵。
	JWTSecret string
	// TokenExpiry はトークンの有効期間。
	TokenExpiry time.Duration
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	config   ServiceConfig
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, config ServiceConfig) *Service {
	return &Service{
		userRepo: userRepo,
		config:   config,
	}
}

// AuthResult は登録/ログインの結果。
type AuthResult struct {
	User  *model.User
	Token string
}

// Register は新規ユーザーを登録してトークンを発行する。
// メールアドレスは小文字に正規化して一意性を確認する。
// パスワードはbcryptでハッシュ化して保存する。
func (s *Service) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError(email)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	token, err := GenerateToken(s.config.JWTSecret, user.ID, user.Email, s.config.TokenExpiry)
	if err != nil {
		return nil, err
	}

	return &AuthResult{User: user, Token: token}, nil
}

// Login はメールアドレスとパスワードで認証してトークンを発行する。
// ユーザーの不存在とパスワード不一致は同じエラーとして扱う
// （存在するメールアドレスの推測を防ぐ）。
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, model.NewInvalidCredentialsError()
	}

	token, err := GenerateToken(s.config.JWTSecret, user.ID, user.Email, s.config.TokenExpiry)
	if err != nil {
		return nil, err
	}

	return &AuthResult{User: user, Token: token}, nil
}

// GetUser は指定IDのユーザーを取得する。
func (s *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// normalizeEmail はメールアドレスを正規化する。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
