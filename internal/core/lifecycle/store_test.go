package lifecycle

import (
	"context"
	"regexp"
	"testing"
	"time"

	"proposal-workers/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var proposalCols = []string{
	"id", "session_id", "user_id", "title", "project_idea", "selected_priorities", "target_groups",
	"partner_organizations", "duration_months", "budget", "status", "answers", "metadata", "created_at", "updated_at",
}

func proposalRow(status, answers string) *sqlmock.Rows {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(proposalCols).AddRow(
		"p-1", "s-1", "u-1", "Green schools", "idea", []byte(`["green"]`), "teachers",
		[]byte(`[{"name":"Escola Verde","country":"PT"}]`), int64(24), 50000.0, status,
		[]byte(answers), []byte(`{"input":{"title":"Green schools"}}`), now, now,
	)
}

func TestPostgresStore_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO proposals")).
		WithArgs("p-1", "s-1", "u-1", "Green schools", "idea", `["green"]`, "", "[]", 24, 0.0, "draft", "{}", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	p := &models.Proposal{
		ID: "p-1", SessionID: "s-1", UserID: "u-1", Status: models.StatusDraft,
		ProjectData: models.ProjectData{Title: "Green schools", ProjectIdea: "idea", SelectedPriorities: []string{"green"}, DurationMonths: 24},
	}
	require.NoError(t, NewPostgresStore(db).Create(context.Background(), p))

	assert.Equal(t, now, p.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update_MergesServerSide(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE proposals SET")).
		WithArgs("p-1", nil, nil, nil, nil, nil, nil, nil, nil,
			`{"impact":{"sustainability":{"question_id":"IMP-04","field":"sustainability","text":"ok","character_count":2}}}`,
			nil, false, sqlmock.AnyArg()).
		WillReturnRows(proposalRow("generating",
			`{"impact":{"sustainability":{"field":"sustainability","text":"ok","character_count":2}},"relevance":{"innovation":{"field":"innovation","text":"old","character_count":3}}}`))

	p, err := NewPostgresStore(db).Update(context.Background(), "p-1", models.ProposalPatch{
		Answers: models.Answers{"impact": {"sustainability": models.NewAnswer("IMP-04", "sustainability", "ok")}},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, p.Answers.Count())
	assert.Equal(t, models.StatusGenerating, p.Status)
	assert.Equal(t, []string{"green"}, p.SelectedPriorities)
	assert.Equal(t, "Escola Verde", p.PartnerOrganizations[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update_NoRows(t *testing.T) {
	tests := []struct {
		name      string
		current   *string
		wantError error
	}{
		{"status guard refused", strPtr("submitted"), ErrStatusRegression},
		{"missing proposal", nil, ErrProposalNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectQuery(regexp.QuoteMeta("UPDATE proposals SET")).
				WillReturnRows(sqlmock.NewRows(proposalCols))

			rows := sqlmock.NewRows([]string{"status"})
			if tt.current != nil {
				rows.AddRow(*tt.current)
			}
			mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM proposals")).WithArgs("p-1").WillReturnRows(rows)

			_, err = NewPostgresStore(db).Update(context.Background(), "p-1", models.StatusPatch(models.StatusGenerating))
			assert.ErrorIs(t, err, tt.wantError)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_Get_RecomputesCharacterCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM proposals WHERE id = $1")).
		WithArgs("p-1").
		WillReturnRows(proposalRow("generated", `{"impact":{"sustainability":{"field":"sustainability","text":"four","character_count":900}}}`))

	p, err := NewPostgresStore(db).Get(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, 4, p.Answers["impact"]["sustainability"].CharacterCount)
	assert.Equal(t, 50000.0, p.Budget)
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM proposals WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(proposalCols))

	_, err = NewPostgresStore(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrProposalNotFound)
}

func TestPostgresStore_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM proposals")).WithArgs("p-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM proposals")).WithArgs("p-2").WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPostgresStore(db)
	assert.NoError(t, store.Delete(context.Background(), "p-1"))
	assert.ErrorIs(t, store.Delete(context.Background(), "p-2"), ErrProposalNotFound)
}

func strPtr(s string) *string { return &s }
