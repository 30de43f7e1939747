package moderation

import (
	"time"

	"emperror.dev/errors"
	"github.com/jmoiron/sqlx"

	"github.com/warden-bot/warden/common"
)

type CaseKind int

const (
	CaseKick CaseKind = iota
	CaseWarn
	CaseMute
	CaseTempMute
	CaseUnmute
	CaseBan
	CaseTempBan
	CaseSoftban
	CaseUnban
)

func (k CaseKind) String() string {
	switch k {
	case CaseKick:
		return "kick"
	case CaseWarn:
		return "warn"
	case CaseMute:
		return "mute"
	case CaseTempMute:
		return "tempmute"
	case CaseUnmute:
		return "unmute"
	case CaseBan:
		return "ban"
	case CaseTempBan:
		return "tempban"
	case CaseSoftban:
		return "softban"
	case CaseUnban:
		return "unban"
	default:
		return "unknown"
	}
}

// Case is one permanent audit record of a moderation action. Rows are created
// once and never mutated or deleted.
type Case struct {
	ID        int64     `db:"id"`
	CaseNum   int64     `db:"case_num"`
	CreatedAt time.Time `db:"created_at"`

	GuildID  int64 `db:"guild_id"`
	UserID   int64 `db:"user_id"`
	AuthorID int64 `db:"author_id"`

	Kind            CaseKind `db:"kind"`
	Reason          string   `db:"reason"`
	DurationSeconds int64    `db:"duration_seconds"`
}

// SQLCaseStore persists cases in postgres, numbering them per guild.
type SQLCaseStore struct {
	DB *sqlx.DB
}

// CreateCase appends a case to the ledger. The case number is assigned
// per guild inside the same transaction so numbers stay gapless and
// increasing even under concurrent writes.
func (s *SQLCaseStore) CreateCase(kind CaseKind, guildID, userID, authorID int64, reason string, duration time.Duration) (*Case, error) {
	// mass mentions have no business in an audit trail
	reason = common.EscapeEveryoneHere(reason, true, true)

	tx, err := s.DB.Begin()
	if err != nil {
		return nil, errors.WithMessage(err, "begin")
	}

	caseNum, err := common.GenLocalIncrID(tx, guildID, "moderation_case")
	if err != nil {
		tx.Rollback()
		return nil, errors.WithMessage(err, "case number")
	}

	c := &Case{
		CaseNum:         caseNum,
		CreatedAt:       time.Now(),
		GuildID:         guildID,
		UserID:          userID,
		AuthorID:        authorID,
		Kind:            kind,
		Reason:          reason,
		DurationSeconds: int64(duration.Seconds()),
	}

	const q = `INSERT INTO moderation_cases
(case_num, created_at, guild_id, user_id, author_id, kind, reason, duration_seconds)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`

	err = tx.QueryRow(q, c.CaseNum, c.CreatedAt, c.GuildID, c.UserID, c.AuthorID, int(c.Kind), c.Reason, c.DurationSeconds).Scan(&c.ID)
	if err != nil {
		tx.Rollback()
		return nil, errors.WithMessage(err, "insert case")
	}

	err = tx.Commit()
	if err != nil {
		return nil, errors.WithMessage(err, "commit")
	}

	return c, nil
}

func (s *SQLCaseStore) GuildCases(guildID int64, limit int) ([]*Case, error) {
	if limit <= 0 {
		limit = 100
	}

	var cases []*Case
	err := s.DB.Select(&cases, "SELECT * FROM moderation_cases WHERE guild_id=$1 ORDER BY case_num DESC LIMIT $2", guildID, limit)
	return cases, errors.WithStackIf(err)
}

func (s *SQLCaseStore) UserCases(guildID, userID int64) ([]*Case, error) {
	var cases []*Case
	err := s.DB.Select(&cases, "SELECT * FROM moderation_cases WHERE guild_id=$1 AND user_id=$2 ORDER BY case_num DESC", guildID, userID)
	return cases, errors.WithStackIf(err)
}
