package database

import (
	"context"

	"course-chat/internal/models"
)

type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error)
	GetUserByID(ctx context.Context, id int) (*models.User, error)
}

type CommunityRepository interface {
	CreateCommunity(ctx context.Context, req *models.CreateCommunityRequest, ownerID int) (*models.Community, error)
	GetCommunityByID(ctx context.Context, id int) (*models.Community, error)
	ListUserCommunities(ctx context.Context, userID int) ([]*models.Community, error)
	DeleteCommunity(ctx context.Context, communityID, ownerID int) error
}

type MessageRepository interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	LoadMessages(ctx context.Context, communityID, limit int) ([]*models.Message, error)
	SaveDirectMessage(ctx context.Context, msg *models.DirectMessage) error
	LoadDirectThread(ctx context.Context, a, b string, limit int) ([]*models.DirectMessage, error)
	ListConversations(ctx context.Context, identity string) ([]*models.ConversationSummary, error)
}

type SessionRepository interface {
	CreateActiveSession(ctx context.Context, userID, communityID int, sessionID string) error
	RemoveActiveSession(ctx context.Context, userID, communityID int, sessionID string) error
	UpdateSessionActivity(ctx context.Context, userID, communityID int, sessionID string) error
	GetActiveUsers(ctx context.Context, communityID int) ([]*models.ActiveUser, error)
}

type MembershipRepository interface {
	AddMembership(ctx context.Context, userID, communityID int) error
	RemoveMembership(ctx context.Context, userID, communityID int) error
	IsMember(ctx context.Context, userID, communityID int) (bool, error)
	GetMembers(ctx context.Context, communityID int) ([]*models.Member, error)
}

type Database interface {
	UserRepository
	CommunityRepository
	MessageRepository
	SessionRepository
	MembershipRepository
	Close() error
}
