package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dennisdiepolder/monti/presence/internal/types"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite database
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and applies the schema
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	logger = logger.With().Str("component", "sqlite_store").Logger()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// a single connection serialises writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("SQLite store initialized")
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			visitor_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			commercial_id TEXT NOT NULL DEFAULT '',
			available_commercial_ids TEXT NOT NULL DEFAULT '[]',
			version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			assigned_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_commercial_status
			ON conversations(commercial_id, status);

		CREATE TABLE IF NOT EXISTS agent_profiles (
			agent_id TEXT PRIMARY KEY,
			max_chats INTEGER NOT NULL,
			skills TEXT NOT NULL DEFAULT '[]',
			priority INTEGER NOT NULL DEFAULT 0
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv types.Conversation) error {
	available, err := json.Marshal(nonNilIDs(conv.AvailableCommercialIDs))
	if err != nil {
		return fmt.Errorf("encoding available commercials: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, visitor_id, status, commercial_id, available_commercial_ids, version, created_at, updated_at, assigned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		conv.ID, conv.VisitorID, string(conv.Status), string(conv.CommercialID), string(available),
		conv.Version, formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt), formatTimePtr(conv.AssignedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (types.Conversation, error) {
	var (
		conv                 types.Conversation
		status, commercialID string
		available            string
		createdAt, updatedAt string
		assignedAt           sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, visitor_id, status, commercial_id, available_commercial_ids, version, created_at, updated_at, assigned_at
		FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.VisitorID, &status, &commercialID, &available, &conv.Version, &createdAt, &updatedAt, &assignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Conversation{}, ErrNotFound
	}
	if err != nil {
		return types.Conversation{}, fmt.Errorf("querying conversation: %w", err)
	}

	conv.Status = types.ConversationStatus(status)
	conv.CommercialID = types.AgentID(commercialID)
	if err := json.Unmarshal([]byte(available), &conv.AvailableCommercialIDs); err != nil {
		return types.Conversation{}, fmt.Errorf("decoding available commercials: %w", err)
	}
	if len(conv.AvailableCommercialIDs) == 0 {
		conv.AvailableCommercialIDs = nil
	}
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return types.Conversation{}, err
	}
	if conv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return types.Conversation{}, err
	}
	if assignedAt.Valid {
		at, err := parseTime(assignedAt.String)
		if err != nil {
			return types.Conversation{}, err
		}
		conv.AssignedAt = &at
	}
	return conv, nil
}

func (s *SQLiteStore) SaveConversation(ctx context.Context, conv types.Conversation) error {
	available, err := json.Marshal(nonNilIDs(conv.AvailableCommercialIDs))
	if err != nil {
		return fmt.Errorf("encoding available commercials: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET visitor_id = ?, status = ?, commercial_id = ?, available_commercial_ids = ?,
			version = ?, updated_at = ?, assigned_at = ?
		WHERE id = ? AND version = ?`,
		conv.VisitorID, string(conv.Status), string(conv.CommercialID), string(available),
		conv.Version, formatTime(conv.UpdatedAt), formatTimePtr(conv.AssignedAt),
		conv.ID, conv.Version-1,
	)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conv.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}
	return ErrVersionConflict
}

func (s *SQLiteStore) CountActiveByCommercial(ctx context.Context, agentID types.AgentID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversations
		WHERE commercial_id = ? AND status IN (?, ?)`,
		string(agentID), string(types.ConversationAssigned), string(types.ConversationActive),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting conversations: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) SaveAgentProfile(ctx context.Context, profile types.AgentProfile) error {
	skills := profile.Skills
	if skills == nil {
		skills = []types.Skill{}
	}
	encoded, err := json.Marshal(skills)
	if err != nil {
		return fmt.Errorf("encoding skills: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_profiles (agent_id, max_chats, skills, priority)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			max_chats = excluded.max_chats,
			skills = excluded.skills,
			priority = excluded.priority`,
		string(profile.AgentID), profile.MaxChats, string(encoded), profile.Priority,
	)
	if err != nil {
		return fmt.Errorf("saving agent profile: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAgentProfile(ctx context.Context, agentID types.AgentID) (types.AgentProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, max_chats, skills, priority FROM agent_profiles WHERE agent_id = ?`,
		string(agentID),
	)
	profile, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.AgentProfile{}, ErrNotFound
	}
	return profile, err
}

func (s *SQLiteStore) ListAgentProfiles(ctx context.Context) ([]types.AgentProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, max_chats, skills, priority FROM agent_profiles ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("querying agent profiles: %w", err)
	}
	defer rows.Close()

	var profiles []types.AgentProfile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (types.AgentProfile, error) {
	var (
		profile types.AgentProfile
		agentID string
		skills  string
	)
	if err := row.Scan(&agentID, &profile.MaxChats, &skills, &profile.Priority); err != nil {
		return types.AgentProfile{}, err
	}
	profile.AgentID = types.AgentID(agentID)
	if err := json.Unmarshal([]byte(skills), &profile.Skills); err != nil {
		return types.AgentProfile{}, fmt.Errorf("decoding skills: %w", err)
	}
	if len(profile.Skills) == 0 {
		profile.Skills = nil
	}
	return profile, nil
}

func nonNilIDs(ids []types.AgentID) []types.AgentID {
	if ids == nil {
		return []types.AgentID{}
	}
	return ids
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
