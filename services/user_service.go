package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Dosada05/darts-duel/models"
	"github.com/Dosada05/darts-duel/repositories"
	"github.com/Dosada05/darts-duel/storage"
)

type UserService interface {
	GetByID(ctx context.Context, id int) (*models.User, error)
	// UpdateAvatar загружает аватар в объектное хранилище и привязывает ключ
	// к пользователю.
	UpdateAvatar(ctx context.Context, userID int, contentType string, reader io.Reader) (*models.User, error)
}

type userService struct {
	userRepo repositories.UserRepository
	uploader storage.FileUploader
}

func NewUserService(userRepo repositories.UserRepository, uploader storage.FileUploader) UserService {
	return &userService{userRepo: userRepo, uploader: uploader}
}

func (s *userService) GetByID(ctx context.Context, id int) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	s.populateAvatarURL(user)
	user.PasswordHash = ""
	return user, nil
}

func (s *userService) UpdateAvatar(ctx context.Context, userID int, contentType string, reader io.Reader) (*models.User, error) {
	if s.uploader == nil {
		return nil, ErrAvatarStorageUnavailable
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}

	key := fmt.Sprintf("avatars/%d", userID)
	if _, err := s.uploader.Upload(ctx, key, contentType, reader); err != nil {
		return nil, fmt.Errorf("failed to upload avatar for user %d: %w", userID, err)
	}

	if err := s.userRepo.UpdateAvatarKey(ctx, userID, key); err != nil {
		return nil, fmt.Errorf("failed to persist avatar key for user %d: %w", userID, err)
	}

	user.AvatarKey = &key
	s.populateAvatarURL(user)
	user.PasswordHash = ""
	return user, nil
}

func (s *userService) populateAvatarURL(user *models.User) {
	if user.AvatarKey != nil && *user.AvatarKey != "" && s.uploader != nil {
		user.AvatarURL = s.uploader.GetPublicURL(*user.AvatarKey)
	}
}
