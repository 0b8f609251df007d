package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tOgg1/opsinbox/internal/models"
)

// Party repository errors.
var (
	ErrCreatorNotFound    = errors.New("creator not found")
	ErrTeamMemberNotFound = errors.New("team member not found")
)

// CreatorRepository handles creator lookups.
type CreatorRepository struct {
	db *DB
}

// NewCreatorRepository creates a new CreatorRepository.
func NewCreatorRepository(db *DB) *CreatorRepository {
	return &CreatorRepository{db: db}
}

// Get retrieves a creator by ID.
func (r *CreatorRepository) Get(ctx context.Context, id int64) (*models.Creator, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, phone FROM creators WHERE id = ?`, id)
	var creator models.Creator
	err := row.Scan(&creator.ID, &creator.Name, &creator.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCreatorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan creator: %w", err)
	}
	return &creator, nil
}

// Create inserts a creator, used by tests and fixtures.
func (r *CreatorRepository) Create(ctx context.Context, creator *models.Creator) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO creators (name, phone) VALUES (?, ?)`,
		creator.Name, creator.Phone)
	if err != nil {
		return fmt.Errorf("insert creator: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("creator id: %w", err)
	}
	creator.ID = id
	return nil
}

// TeamMemberRepository handles team member lookups.
type TeamMemberRepository struct {
	db *DB
}

// NewTeamMemberRepository creates a new TeamMemberRepository.
func NewTeamMemberRepository(db *DB) *TeamMemberRepository {
	return &TeamMemberRepository{db: db}
}

// Get retrieves a team member by ID.
func (r *TeamMemberRepository) Get(ctx context.Context, id int64) (*models.TeamMember, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name FROM team_members WHERE id = ?`, id)
	var member models.TeamMember
	err := row.Scan(&member.ID, &member.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTeamMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan team member: %w", err)
	}
	return &member, nil
}

// Create inserts a team member, used by tests and fixtures.
func (r *TeamMemberRepository) Create(ctx context.Context, member *models.TeamMember) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO team_members (name) VALUES (?)`, member.Name)
	if err != nil {
		return fmt.Errorf("insert team member: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("team member id: %w", err)
	}
	member.ID = id
	return nil
}
