package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"proposal-workers/internal/models"

	"github.com/lib/pq"
)

// Schema creates the proposals table.
const Schema = `CREATE TABLE IF NOT EXISTS proposals (
    id                    UUID PRIMARY KEY,
    session_id            TEXT NOT NULL,
    user_id               TEXT NOT NULL,
    title                 TEXT NOT NULL DEFAULT '',
    project_idea          TEXT NOT NULL DEFAULT '',
    selected_priorities   JSONB NOT NULL DEFAULT '[]',
    target_groups         TEXT NOT NULL DEFAULT '',
    partner_organizations JSONB NOT NULL DEFAULT '[]',
    duration_months       INTEGER NOT NULL DEFAULT 0,
    budget                NUMERIC(14,2) NOT NULL DEFAULT 0,
    status                TEXT NOT NULL DEFAULT 'draft'
                          CHECK (status IN ('draft','generating','generated','submitted')),
    answers               JSONB NOT NULL DEFAULT '{}',
    metadata              JSONB NOT NULL DEFAULT '{}',
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_proposals_session ON proposals (session_id, created_at DESC);`

// Store is the persistence service for proposals.
type Store interface {
	Create(ctx context.Context, p *models.Proposal) error
	Update(ctx context.Context, id string, patch models.ProposalPatch) (*models.Proposal, error)
	Get(ctx context.Context, id string) (*models.Proposal, error)
	Delete(ctx context.Context, id string) error
	FindBySession(ctx context.Context, sessionID string) (*models.Proposal, error)
}

const proposalColumns = `id, session_id, user_id, title, project_idea, selected_priorities, target_groups,
       partner_organizations, duration_months, budget, status, answers, metadata, created_at, updated_at`

// answers is merged two levels deep: sections are merged key-by-key and a
// field in the patch replaces that field only.
const updateQuery = `UPDATE proposals SET
    title                 = COALESCE($2, title),
    project_idea          = COALESCE($3, project_idea),
    selected_priorities   = COALESCE($4::jsonb, selected_priorities),
    target_groups         = COALESCE($5, target_groups),
    partner_organizations = COALESCE($6::jsonb, partner_organizations),
    duration_months       = COALESCE($7, duration_months),
    budget                = COALESCE($8, budget),
    status                = COALESCE($9, status),
    answers               = answers || COALESCE((
                                SELECT jsonb_object_agg(e.key, COALESCE(answers -> e.key, '{}'::jsonb) || e.value)
                                FROM jsonb_each($10::jsonb) AS e
                            ), '{}'::jsonb),
    metadata              = metadata || COALESCE($11::jsonb, '{}'::jsonb),
    updated_at            = NOW()
WHERE id = $1
  AND ($9::text IS NULL OR $12
       OR array_position($13::text[], $9::text) >= array_position($13::text[], status))
RETURNING ` + proposalColumns

// PostgresStore persists proposals in PostgreSQL. Merging happens in SQL so
// callers never reconstruct the merged shape locally.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, p *models.Proposal) error {
	priorities, err := json.Marshal(nonNilStrings(p.SelectedPriorities))
	if err != nil {
		return err
	}
	partners, err := json.Marshal(nonNilPartners(p.PartnerOrganizations))
	if err != nil {
		return err
	}
	answers, err := json.Marshal(nonNilAnswers(p.Answers))
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(nonNilMap(p.Metadata))
	if err != nil {
		return err
	}

	query := `INSERT INTO proposals (id, session_id, user_id, title, project_idea, selected_priorities,
        target_groups, partner_organizations, duration_months, budget, status, answers, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        RETURNING created_at, updated_at`

	return s.db.QueryRowContext(ctx, query,
		p.ID, p.SessionID, p.UserID, p.Title, p.ProjectIdea, string(priorities),
		p.TargetGroups, string(partners), p.DurationMonths, p.Budget, string(p.Status),
		string(answers), string(metadata),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (s *PostgresStore) Update(ctx context.Context, id string, patch models.ProposalPatch) (*models.Proposal, error) {
	args, err := updateArgs(id, patch)
	if err != nil {
		return nil, err
	}

	p, err := scanProposal(s.db.QueryRowContext(ctx, updateQuery, args...))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Nothing updated: either the row is missing or the status guard refused.
	if patch.Status == nil {
		return nil, fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}
	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM proposals WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrStatusRegression, current, *patch.Status)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Proposal, error) {
	p, err := scanProposal(s.db.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}
	return p, err
}

// FindBySession returns the most recent proposal created by sessionID.
func (s *PostgresStore) FindBySession(ctx context.Context, sessionID string) (*models.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1`
	p, err := scanProposal(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", ErrProposalNotFound, sessionID)
	}
	return p, err
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM proposals WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}
	return nil
}

func updateArgs(id string, patch models.ProposalPatch) ([]interface{}, error) {
	var priorities, partners, answers, metadata, status interface{}

	if patch.SelectedPriorities != nil {
		b, err := json.Marshal(patch.SelectedPriorities)
		if err != nil {
			return nil, err
		}
		priorities = string(b)
	}
	if patch.PartnerOrganizations != nil {
		b, err := json.Marshal(patch.PartnerOrganizations)
		if err != nil {
			return nil, err
		}
		partners = string(b)
	}
	if len(patch.Answers) > 0 {
		b, err := json.Marshal(patch.Answers)
		if err != nil {
			return nil, err
		}
		answers = string(b)
	}
	if len(patch.Metadata) > 0 {
		b, err := json.Marshal(patch.Metadata)
		if err != nil {
			return nil, err
		}
		metadata = string(b)
	}
	if patch.Status != nil {
		status = string(*patch.Status)
	}

	order := make([]string, len(models.StatusOrder))
	for i, st := range models.StatusOrder {
		order[i] = string(st)
	}

	return []interface{}{
		id,
		nullableString(patch.Title),
		nullableString(patch.ProjectIdea),
		priorities,
		nullableString(patch.TargetGroups),
		partners,
		nullableInt(patch.DurationMonths),
		nullableFloat(patch.Budget),
		status,
		answers,
		metadata,
		patch.AllowRegression,
		pq.Array(order),
	}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProposal(row rowScanner) (*models.Proposal, error) {
	var (
		p                                       models.Proposal
		status                                  string
		priorities, partners, answers, metadata []byte
	)
	err := row.Scan(
		&p.ID, &p.SessionID, &p.UserID, &p.Title, &p.ProjectIdea, &priorities, &p.TargetGroups,
		&partners, &p.DurationMonths, &p.Budget, &status, &answers, &metadata, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = models.ProposalStatus(status)

	if err := unmarshalColumn(priorities, &p.SelectedPriorities); err != nil {
		return nil, fmt.Errorf("decode selected_priorities: %w", err)
	}
	if err := unmarshalColumn(partners, &p.PartnerOrganizations); err != nil {
		return nil, fmt.Errorf("decode partner_organizations: %w", err)
	}
	if err := unmarshalColumn(answers, &p.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	if err := unmarshalColumn(metadata, &p.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if p.Answers == nil {
		p.Answers = models.Answers{}
	}
	p.Answers.Normalize()
	return &p, nil
}

func unmarshalColumn(data []byte, dest interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}

func nullableString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilPartners(v []models.PartnerOrganization) []models.PartnerOrganization {
	if v == nil {
		return []models.PartnerOrganization{}
	}
	return v
}

func nonNilAnswers(v models.Answers) models.Answers {
	if v == nil {
		return models.Answers{}
	}
	return v
}

func nonNilMap(v map[string]interface{}) map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v
}
