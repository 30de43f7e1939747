package moderation

import (
	"database/sql"
	"time"

	"emperror.dev/errors"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// MutedUser is the durable record that a member is under a mute sanction,
// deliberately decoupled from whether the mute role is still attached.
type MutedUser struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	GuildID int64 `db:"guild_id"`
	UserID  int64 `db:"user_id"`

	AuthorID int64  `db:"author_id"`
	Reason   string `db:"reason"`

	// roles stripped when the mute was applied, given back on unmute
	RemovedRoles pq.Int64Array `db:"removed_roles"`
}

// SQLMuteStore persists mute records in postgres, one row per guild-user
// pair.
type SQLMuteStore struct {
	DB *sqlx.DB
}

func (s *SQLMuteStore) GetMute(guildID, userID int64) (*MutedUser, error) {
	m := &MutedUser{}
	err := s.DB.Get(m, "SELECT * FROM muted_users WHERE guild_id=$1 AND user_id=$2", guildID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.WithStackIf(err)
	}

	return m, nil
}

// UpsertMute inserts or refreshes the mute record, re-muting never
// duplicates a row.
func (s *SQLMuteStore) UpsertMute(m *MutedUser) error {
	const q = `INSERT INTO muted_users (created_at, updated_at, guild_id, user_id, author_id, reason, removed_roles)
VALUES (now(), now(), $1, $2, $3, $4, $5)
ON CONFLICT (guild_id, user_id) DO UPDATE SET
	updated_at = now(),
	author_id = $3,
	reason = $4,
	removed_roles = $5
RETURNING id`

	err := s.DB.QueryRow(q, m.GuildID, m.UserID, m.AuthorID, m.Reason, m.RemovedRoles).Scan(&m.ID)
	return errors.WithStackIf(err)
}

func (s *SQLMuteStore) DeleteMute(guildID, userID int64) error {
	_, err := s.DB.Exec("DELETE FROM muted_users WHERE guild_id=$1 AND user_id=$2", guildID, userID)
	return errors.WithStackIf(err)
}
