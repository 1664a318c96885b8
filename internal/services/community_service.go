package services

import (
	"context"
	"fmt"

	"course-chat/internal/database"
	"course-chat/internal/models"
)

type CommunityService struct {
	db database.Database
}

func NewCommunityService(db database.Database) *CommunityService {
	return &CommunityService{db: db}
}

func (s *CommunityService) CreateCommunity(ctx context.Context, req *models.CreateCommunityRequest, ownerID int) (*models.Community, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("community name is required")
	}

	community, err := s.db.CreateCommunity(ctx, req, ownerID)
	if err != nil {
		return nil, err
	}

	// The creator is always a member.
	if err := s.db.AddMembership(ctx, ownerID, community.ID); err != nil {
		return nil, fmt.Errorf("failed to add owner membership: %w", err)
	}

	return community, nil
}

func (s *CommunityService) ListUserCommunities(ctx context.Context, userID int) ([]*models.Community, error) {
	return s.db.ListUserCommunities(ctx, userID)
}

func (s *CommunityService) GetCommunity(ctx context.Context, communityID int) (*models.Community, error) {
	return s.db.GetCommunityByID(ctx, communityID)
}

func (s *CommunityService) DeleteCommunity(ctx context.Context, communityID, ownerID int) error {
	return s.db.DeleteCommunity(ctx, communityID, ownerID)
}

func (s *CommunityService) JoinCommunity(ctx context.Context, userID, communityID int) error {
	community, err := s.db.GetCommunityByID(ctx, communityID)
	if err != nil {
		return fmt.Errorf("community not found")
	}

	if !community.IsPublic {
		return fmt.Errorf("forbidden - community is invite-only")
	}

	return s.db.AddMembership(ctx, userID, communityID)
}

func (s *CommunityService) LeaveCommunity(ctx context.Context, userID, communityID int) error {
	isMember, err := s.db.IsMember(ctx, userID, communityID)
	if err != nil {
		return fmt.Errorf("database error")
	}
	if !isMember {
		return fmt.Errorf("not a member of this community")
	}

	return s.db.RemoveMembership(ctx, userID, communityID)
}

func (s *CommunityService) GetMembers(ctx context.Context, communityID, userID int) ([]*models.Member, error) {
	// Check access permissions
	community, err := s.db.GetCommunityByID(ctx, communityID)
	if err != nil {
		return nil, fmt.Errorf("community not found")
	}

	if !community.IsPublic {
		isMember, err := s.db.IsMember(ctx, userID, communityID)
		if err != nil || !isMember {
			return nil, fmt.Errorf("forbidden")
		}
	}

	return s.db.GetMembers(ctx, communityID)
}

func (s *CommunityService) GetActiveUsers(ctx context.Context, communityID, userID int) ([]*models.ActiveUser, error) {
	community, err := s.db.GetCommunityByID(ctx, communityID)
	if err != nil {
		return nil, fmt.Errorf("community not found")
	}

	if !community.IsPublic {
		isMember, err := s.db.IsMember(ctx, userID, communityID)
		if err != nil || !isMember {
			return nil, fmt.Errorf("forbidden")
		}
	}

	return s.db.GetActiveUsers(ctx, communityID)
}

func (s *CommunityService) CanUserAccess(ctx context.Context, userID, communityID int) (bool, error) {
	community, err := s.db.GetCommunityByID(ctx, communityID)
	if err != nil {
		return false, err
	}

	if community.IsPublic {
		return true, nil
	}

	return s.db.IsMember(ctx, userID, communityID)
}
