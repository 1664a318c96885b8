package database

import (
	"context"
	"fmt"
	"sort"

	"course-chat/internal/models"
	"course-chat/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// User Repository Implementation
func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT id, username, email, password_hash, created_at FROM users WHERE email = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO users (username, email, password_hash, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, username, email, created_at`

	user := &models.User{PasswordHash: string(hash)}
	err = db.pool.QueryRow(ctx, query, req.Username, req.Email, string(hash)).Scan(
		&user.ID, &user.Username, &user.Email, &user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	query := `SELECT id, username, email, created_at FROM users WHERE id = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.Email, &user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return user, nil
}

// Community Repository Implementation
func (db *PostgresDB) CreateCommunity(ctx context.Context, req *models.CreateCommunityRequest, ownerID int) (*models.Community, error) {
	query := `
		INSERT INTO communities (name, is_public, owner_id, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (name) DO UPDATE SET is_public = EXCLUDED.is_public
		RETURNING id, name, is_public, owner_id, created_at`

	community := &models.Community{}
	err := db.pool.QueryRow(ctx, query, req.Name, req.IsPublic, ownerID).Scan(
		&community.ID, &community.Name, &community.IsPublic, &community.OwnerID, &community.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create community: %w", err)
	}

	return community, nil
}

func (db *PostgresDB) GetCommunityByID(ctx context.Context, id int) (*models.Community, error) {
	query := `SELECT id, name, is_public, owner_id, created_at FROM communities WHERE id = $1`

	community := &models.Community{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&community.ID, &community.Name, &community.IsPublic, &community.OwnerID, &community.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return community, nil
}

func (db *PostgresDB) ListUserCommunities(ctx context.Context, userID int) ([]*models.Community, error) {
	query := `
		SELECT c.id, c.name, c.is_public, c.owner_id, c.created_at
		FROM communities c
		LEFT JOIN memberships m ON c.id = m.community_id AND m.user_id = $1
		WHERE c.is_public = true OR m.user_id IS NOT NULL
		ORDER BY c.name`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var communities []*models.Community
	for rows.Next() {
		community := &models.Community{}
		if err := rows.Scan(&community.ID, &community.Name, &community.IsPublic, &community.OwnerID, &community.CreatedAt); err != nil {
			return nil, err
		}
		communities = append(communities, community)
	}

	return communities, nil
}

func (db *PostgresDB) DeleteCommunity(ctx context.Context, communityID, ownerID int) error {
	// Check ownership first
	var currentOwnerID int
	err := db.pool.QueryRow(ctx, "SELECT owner_id FROM communities WHERE id = $1", communityID).Scan(&currentOwnerID)
	if err != nil {
		return fmt.Errorf("community not found: %w", err)
	}

	if currentOwnerID != ownerID {
		return fmt.Errorf("forbidden - not the community owner")
	}

	// Delete in transaction
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM memberships WHERE community_id = $1", communityID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "DELETE FROM messages WHERE community_id = $1", communityID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "DELETE FROM active_sessions WHERE community_id = $1", communityID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "DELETE FROM communities WHERE id = $1", communityID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Message Repository Implementation
func (db *PostgresDB) SaveMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (id, community_id, user_id, sender, sender_name, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := db.pool.Exec(ctx, query, msg.ID, msg.CommunityID, msg.UserID, msg.Sender, msg.SenderName, msg.Body, msg.CreatedAt)
	return err
}

func (db *PostgresDB) LoadMessages(ctx context.Context, communityID, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, community_id, user_id, sender, sender_name, body, created_at
		FROM messages
		WHERE community_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := db.pool.Query(ctx, query, communityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(&msg.ID, &msg.CommunityID, &msg.UserID, &msg.Sender, &msg.SenderName, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	// Reverse to show oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (db *PostgresDB) SaveDirectMessage(ctx context.Context, msg *models.DirectMessage) error {
	query := `
		INSERT INTO direct_messages (id, sender, recipient, sender_name, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := db.pool.Exec(ctx, query, msg.ID, msg.From, msg.To, msg.SenderName, msg.Body, msg.CreatedAt)
	return err
}

func (db *PostgresDB) LoadDirectThread(ctx context.Context, a, b string, limit int) ([]*models.DirectMessage, error) {
	query := `
		SELECT id, sender, recipient, sender_name, body, created_at
		FROM direct_messages
		WHERE (sender = $1 AND recipient = $2) OR (sender = $2 AND recipient = $1)
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := db.pool.Query(ctx, query, a, b, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.DirectMessage
	for rows.Next() {
		msg := &models.DirectMessage{}
		if err := rows.Scan(&msg.ID, &msg.From, &msg.To, &msg.SenderName, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (db *PostgresDB) ListConversations(ctx context.Context, identity string) ([]*models.ConversationSummary, error) {
	// One row per counterpart, carrying the latest message in the thread.
	// The display name is the counterpart's, even when the caller sent the
	// latest message; fall back to the recorded sender name for
	// counterparts without a user row.
	query := `
		SELECT DISTINCT ON (t.counterpart) t.counterpart,
		       COALESCE(u.username, t.sender_name) AS display_name,
		       t.body, t.created_at
		FROM (
			SELECT CASE WHEN sender = $1 THEN recipient ELSE sender END AS counterpart,
			       sender_name, body, created_at
			FROM direct_messages
			WHERE sender = $1 OR recipient = $1
		) t
		LEFT JOIN users u ON u.email = t.counterpart
		ORDER BY t.counterpart, t.created_at DESC`

	rows, err := db.pool.Query(ctx, query, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*models.ConversationSummary
	for rows.Next() {
		conv := &models.ConversationSummary{}
		if err := rows.Scan(&conv.Counterpart, &conv.DisplayName, &conv.LastPreview, &conv.LastActivityAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}

	// Most recently active first.
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].LastActivityAt.After(conversations[j].LastActivityAt)
	})

	return conversations, nil
}

// Session Repository Implementation
func (db *PostgresDB) CreateActiveSession(ctx context.Context, userID, communityID int, sessionID string) error {
	query := `
		INSERT INTO active_sessions (user_id, community_id, session_id, connected_at, last_seen)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (user_id, community_id, session_id)
		DO UPDATE SET last_seen = NOW()`

	_, err := db.pool.Exec(ctx, query, userID, communityID, sessionID)
	return err
}

func (db *PostgresDB) RemoveActiveSession(ctx context.Context, userID, communityID int, sessionID string) error {
	query := `DELETE FROM active_sessions WHERE user_id = $1 AND community_id = $2 AND session_id = $3`
	_, err := db.pool.Exec(ctx, query, userID, communityID, sessionID)
	return err
}

func (db *PostgresDB) UpdateSessionActivity(ctx context.Context, userID, communityID int, sessionID string) error {
	query := `UPDATE active_sessions SET last_seen = NOW() WHERE user_id = $1 AND community_id = $2 AND session_id = $3`
	_, err := db.pool.Exec(ctx, query, userID, communityID, sessionID)
	return err
}

func (db *PostgresDB) GetActiveUsers(ctx context.Context, communityID int) ([]*models.ActiveUser, error) {
	// Clean up stale sessions
	cleanupQuery := `DELETE FROM active_sessions WHERE last_seen < NOW() - INTERVAL '5 minutes'`
	if _, err := db.pool.Exec(ctx, cleanupQuery); err != nil {
		logger.Error("Error cleaning stale sessions: %v", err)
	}

	query := `
		SELECT DISTINCT u.id, u.username, u.email, s.connected_at, s.last_seen
		FROM active_sessions s
		JOIN users u ON s.user_id = u.id
		WHERE s.community_id = $1
		ORDER BY u.username`

	rows, err := db.pool.Query(ctx, query, communityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activeUsers []*models.ActiveUser
	for rows.Next() {
		user := &models.ActiveUser{Status: "online"}
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.ConnectedAt, &user.LastSeen); err != nil {
			return nil, err
		}
		activeUsers = append(activeUsers, user)
	}

	return activeUsers, nil
}

// Membership Repository Implementation
func (db *PostgresDB) AddMembership(ctx context.Context, userID, communityID int) error {
	query := `
		INSERT INTO memberships (user_id, community_id) VALUES ($1, $2)
		ON CONFLICT (user_id, community_id) DO NOTHING`

	_, err := db.pool.Exec(ctx, query, userID, communityID)
	return err
}

func (db *PostgresDB) RemoveMembership(ctx context.Context, userID, communityID int) error {
	query := `DELETE FROM memberships WHERE user_id = $1 AND community_id = $2`
	_, err := db.pool.Exec(ctx, query, userID, communityID)
	return err
}

func (db *PostgresDB) IsMember(ctx context.Context, userID, communityID int) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM memberships WHERE user_id = $1 AND community_id = $2)`

	var exists bool
	err := db.pool.QueryRow(ctx, query, userID, communityID).Scan(&exists)
	return exists, err
}

func (db *PostgresDB) GetMembers(ctx context.Context, communityID int) ([]*models.Member, error) {
	query := `
		SELECT u.id, u.username, u.email
		FROM memberships m
		JOIN users u ON m.user_id = u.id
		WHERE m.community_id = $1
		ORDER BY u.username`

	rows, err := db.pool.Query(ctx, query, communityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		member := &models.Member{}
		if err := rows.Scan(&member.ID, &member.Username, &member.Email); err != nil {
			return nil, err
		}
		members = append(members, member)
	}

	return members, nil
}
