package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/rollcall/internal/model"
)

// PostgresInstallationRepo はPostgreSQLを使用したインストール情報リポジトリ。
type PostgresInstallationRepo struct {
	db *sql.DB
}

// NewPostgresInstallationRepo はPostgresInstallationRepoを生成する。
func NewPostgresInstallationRepo(db *sql.DB) *PostgresInstallationRepo {
	return &PostgresInstallationRepo{db: db}
}

// Upsert はインストール情報を保存する。同一team_idの再インストールは上書きする。
func (r *PostgresInstallationRepo) Upsert(ctx context.Context, inst *model.Installation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO installations (id, team_id, team_name, access_token, bot_user_id, installed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (team_id) DO UPDATE SET
			team_name = EXCLUDED.team_name,
			access_token = EXCLUDED.access_token,
			bot_user_id = EXCLUDED.bot_user_id,
			installed_at = EXCLUDED.installed_at`,
		inst.ID, inst.TeamID, inst.TeamName, inst.AccessToken, inst.BotUserID, inst.InstalledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert installation: %w", err)
	}

	return nil
}

// FindByTeamID は指定チームのインストール情報を取得する。見つからない場合はnilを返す。
func (r *PostgresInstallationRepo) FindByTeamID(ctx context.Context, teamID string) (*model.Installation, error) {
	inst := &model.Installation{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, team_id, team_name, access_token, bot_user_id, installed_at
		 FROM installations WHERE team_id = $1`,
		teamID,
	).Scan(&inst.ID, &inst.TeamID, &inst.TeamName, &inst.AccessToken, &inst.BotUserID, &inst.InstalledAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find installation by team ID: %w", err)
	}

	return inst, nil
}
