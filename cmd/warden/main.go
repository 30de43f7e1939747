package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/warden-bot/warden/bot"
	"github.com/warden-bot/warden/common"
	"github.com/warden-bot/warden/common/scheduledevents"
	"github.com/warden-bot/warden/moderation"
)

var logger = common.GetPluginLogger("main")

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	common.RegisterDBSchemas("scheduledevents", scheduledevents.DBSchemas...)
	common.RegisterDBSchemas("moderation", moderation.DBSchemas...)

	if err := common.Init(); err != nil {
		logger.WithError(err).Fatal("failed initializing core services")
	}

	token := common.ConfBotToken.GetString()
	if token == "" {
		logger.Fatal("no bot token configured, set WARDEN_BOT_TOKEN")
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.WithError(err).Fatal("failed creating discord session")
	}
	session.Identify.Intents = discordgo.IntentGuilds | discordgo.IntentGuildMembers |
		discordgo.IntentGuildModeration | discordgo.IntentGuildMessages

	scheduler := scheduledevents.NewScheduler(common.PQ, common.RedisPool)

	adapter := bot.NewSession(session)
	configs := moderation.NewSQLConfigStore(common.PQ)

	engine := moderation.NewEngine(
		&moderation.SQLCaseStore{DB: common.PQ},
		&moderation.SQLMuteStore{DB: common.PQ},
		configs,
		scheduler,
		adapter,
		&moderation.ConfigStaffChecker{Configs: configs, Discord: adapter},
		nil,
	)
	engine.Redis = common.RedisPool
	engine.RegisterScheduledHandlers(scheduler)

	bot.RegisterHandlers(session, engine)

	if err := session.Open(); err != nil {
		logger.WithError(err).Fatal("failed opening gateway connection")
	}

	if session.State != nil && session.State.User != nil {
		engine.BotUser = &moderation.User{
			ID:       bot.ParseID(session.State.User.ID),
			Username: session.State.User.Username,
			Bot:      true,
		}
	}

	go scheduler.Run()

	logger.Info("warden ", common.VERSION, " is running, ctrl-c to stop")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	logger.Info("shutting down")

	var wg sync.WaitGroup
	wg.Add(1)
	scheduler.Stop(&wg)
	wg.Wait()

	session.Close()
}
