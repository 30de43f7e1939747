package moderation

import (
	"database/sql"
	"fmt"
	"time"

	"emperror.dev/errors"
	"github.com/jmoiron/sqlx"
	"github.com/karlseguin/ccache/v2"
	"github.com/lib/pq"
)

// GuildConfig is the per-guild moderation configuration. The engine only
// owns the fields below, the rest of guild configuration lives elsewhere.
type GuildConfig struct {
	GuildID   int64     `db:"guild_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	// the restricted role attached to muted members, 0 when unset
	MuteRole int64 `db:"mute_role"`

	// roles stripped from a member while muted
	MuteRemoveRoles pq.Int64Array `db:"mute_remove_roles"`

	// roles granting immunity from sanctions
	StaffRoles pq.Int64Array `db:"staff_roles"`

	// channel receiving the modlog embeds, 0 disables the modlog
	ActionChannel int64 `db:"action_channel"`

	// 0 disables the join heuristic entirely, see EvaluateJoin for the
	// behavior of levels 1 through 4
	AntiraidLevel int `db:"antiraid_level"`

	DefaultBanDeleteDays int  `db:"default_ban_delete_days"`
	LogUnbans            bool `db:"log_unbans"`
}

// SQLConfigStore persists guild configs in postgres with a small in-memory
// cache in front, configs are read on every sanction and join event.
type SQLConfigStore struct {
	DB    *sqlx.DB
	cache *ccache.Cache
}

func NewSQLConfigStore(db *sqlx.DB) *SQLConfigStore {
	return &SQLConfigStore{
		DB:    db,
		cache: ccache.New(ccache.Configure().MaxSize(10000)),
	}
}

func (s *SQLConfigStore) GetConfig(guildID int64) (*GuildConfig, error) {
	item, err := s.cache.Fetch(cacheKeyConfig(guildID), time.Minute, func() (interface{}, error) {
		return s.fetchConfig(guildID)
	})
	if err != nil {
		return nil, err
	}

	// callers mutate the result before saving it back, hand out a copy so
	// the cached entry only ever changes through a successful SaveConfig
	conf := *item.Value().(*GuildConfig)
	return &conf, nil
}

func (s *SQLConfigStore) fetchConfig(guildID int64) (*GuildConfig, error) {
	conf := &GuildConfig{}
	err := s.DB.Get(conf, "SELECT * FROM moderation_configs WHERE guild_id=$1", guildID)
	if err == nil {
		return conf, nil
	}

	if err == sql.ErrNoRows {
		return &GuildConfig{GuildID: guildID, DefaultBanDeleteDays: 1}, nil
	}

	return nil, errors.WithStackIf(err)
}

func (s *SQLConfigStore) SaveConfig(config *GuildConfig) error {
	const q = `INSERT INTO moderation_configs
(guild_id, created_at, updated_at, mute_role, mute_remove_roles, staff_roles, action_channel, antiraid_level, default_ban_delete_days, log_unbans)
VALUES ($1, now(), now(), $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (guild_id) DO UPDATE SET
	updated_at = now(),
	mute_role = $2,
	mute_remove_roles = $3,
	staff_roles = $4,
	action_channel = $5,
	antiraid_level = $6,
	default_ban_delete_days = $7,
	log_unbans = $8`

	_, err := s.DB.Exec(q, config.GuildID, config.MuteRole, config.MuteRemoveRoles, config.StaffRoles,
		config.ActionChannel, config.AntiraidLevel, config.DefaultBanDeleteDays, config.LogUnbans)
	if err != nil {
		return errors.WithStackIf(err)
	}

	s.cache.Delete(cacheKeyConfig(config.GuildID))
	return nil
}

func cacheKeyConfig(guildID int64) string {
	return fmt.Sprintf("moderation_config:%d", guildID)
}
