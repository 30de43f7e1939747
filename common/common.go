package common

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	// postgres driver
	_ "github.com/lib/pq"
	"github.com/mediocregopher/radix/v3"
	"github.com/sirupsen/logrus"
	"github.com/warden-bot/warden/common/config"
)

const (
	VERSION = "1.4.0"
)

var (
	PQ        *sqlx.DB
	RedisPool *radix.Pool

	logger = GetPluginLogger("common")
)

var (
	ConfPQHost     = config.RegisterOption("warden.pq_host", "Postgres host", "localhost")
	ConfPQUsername = config.RegisterOption("warden.pq_user", "Postgres user", "warden")
	ConfPQPassword = config.RegisterOption("warden.pq_password", "Postgres password", "")
	ConfPQDB       = config.RegisterOption("warden.pq_db", "Postgres database", "warden")
	ConfMaxSQLConns = config.RegisterOption("warden.max_sql_conns", "Max open postgres connections", 10)

	ConfRedis    = config.RegisterOption("warden.redis", "Redis address", "localhost:6379")
	ConfBotToken = config.RegisterOption("warden.bot_token", "Discord bot token", "")

	confNoSchemaInit = config.RegisterOption("warden.no_schema_init", "Skip db schema initialization", false)
)

// GetPluginLogger returns a logger scoped to the given subsystem
func GetPluginLogger(name string) *logrus.Entry {
	return logrus.WithField("p", name)
}

// Init sets up the process-wide handles: config sources are loaded, then
// redis, then postgres, then any queued db schemas are applied.
func Init() error {
	config.AddSource(&config.EnvSource{})
	config.Load()

	err := connectRedis(ConfRedis.GetString())
	if err != nil {
		return err
	}

	// with redis up, settings stored there shadow the defaults
	config.AddSource(&config.RedisSource{Pool: RedisPool})
	config.Load()

	err = connectDB(ConfPQHost.GetString(), ConfPQUsername.GetString(), ConfPQPassword.GetString(), ConfPQDB.GetString(), ConfMaxSQLConns.GetInt())
	if err != nil {
		return err
	}

	initQueuedSchemas()
	return nil
}

func connectRedis(addr string) error {
	pool, err := radix.NewPool("tcp", addr, 10)
	if err != nil {
		logger.WithError(err).Fatal("Failed initializing redis pool")
		return err
	}

	RedisPool = pool
	return nil
}

func connectDB(host, user, pass, dbName string, maxConns int) error {
	if host == "" {
		host = "localhost"
	}

	db, err := sqlx.Connect("postgres", fmt.Sprintf("host=%s user=%s dbname=%s sslmode=disable password='%s'", host, user, dbName, pass))
	if err != nil {
		return err
	}

	PQ = db
	PQ.SetMaxOpenConns(maxConns)
	PQ.SetMaxIdleConns(maxConns)
	logger.Info("Connected to postgres with max conns: ", maxConns)

	return nil
}
