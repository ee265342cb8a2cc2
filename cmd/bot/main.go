package main

import (
	"context"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tutortrack/internal/authflow"
	"tutortrack/internal/config"
	"tutortrack/internal/mailer"
	"tutortrack/internal/roster"
	"tutortrack/internal/store"
)

// Bot runs the parent login conversation over Telegram long polling.
func main() {
	cfg := config.Load()
	if cfg.TelegramToken == "" {
		log.Fatal("TELEGRAM_API_TOKEN not set")
	}

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	sessions := authflow.NewRedisSessionStore(redisClient.Client, "tutortrack:session")
	rosterRepo := roster.NewRepository(db.Client)
	mail := mailer.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom)

	flow := authflow.NewFlow(sessions, rosterRepo, mail)

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		log.Fatalf("telegram connect failed: %v", err)
	}
	bot.Debug = false
	log.Printf("bot authorized as @%s", bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil || update.Message.Text == "" {
			continue
		}
		handle(bot, flow, update.Message)
	}
}

func handle(bot *tgbotapi.BotAPI, flow *authflow.Flow, msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	chatID := msg.Chat.ID
	var reply string
	var err error

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			reply = flow.Start(ctx, chatID)
		case "login":
			reply, err = flow.Login(ctx, chatID)
		case "logout":
			reply, err = flow.Logout(ctx, chatID)
		case "your_students":
			reply, err = flow.YourStudents(ctx, chatID)
		case "done":
			reply, err = flow.Done(ctx, chatID)
		default:
			reply = "Unknown command. Use /start for help."
		}
	} else {
		reply, err = flow.HandleText(ctx, chatID, msg.Text)
	}

	if err != nil {
		log.Printf("chat %d: %v", chatID, err)
		reply = "Something went wrong. Please try again later."
	}
	if reply == "" {
		return
	}
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, reply)); err != nil {
		log.Printf("chat %d: send failed: %v", chatID, err)
	}
}
