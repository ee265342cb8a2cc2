package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tutortrack/internal/attendance"
	"tutortrack/internal/config"
	"tutortrack/internal/mailer"
	"tutortrack/internal/notify"
	"tutortrack/internal/queue"
	"tutortrack/internal/roster"
	"tutortrack/internal/store"
	"tutortrack/internal/whatsapp"
)

// Worker consumes checkout notifications and delivers them to parents,
// by WhatsApp template when a phone number is on file, by email otherwise.
// Delivery is best effort: a failed send is logged and dropped.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "tutortrack:notify")
	}

	rosterRepo := roster.NewRepository(db.Client)
	attRepo := attendance.NewRepository(db.Client)
	mail := mailer.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom)
	wa := whatsapp.New(cfg.WhatsAppPhoneID, cfg.WhatsAppToken, cfg.PhonePrefix)

	if !wa.Configured() {
		log.Println("WARNING: WhatsApp not configured, checkout notices fall back to email")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != notify.MsgCheckout {
			continue
		}

		job, err := notify.DecodeCheckout(msg.Body)
		if err != nil {
			log.Printf("bad checkout job: %v", err)
			continue
		}

		jobCtx, jobCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := deliver(jobCtx, job, rosterRepo, attRepo, wa, mail); err != nil {
			log.Printf("notification for %s failed: %v", job.StudentName, err)
		} else {
			log.Printf("parent notified for %s (record %s)", job.StudentName, job.RecordID)
		}
		jobCancel()
	}

	log.Println("worker stopped")
}

func deliver(ctx context.Context, job notify.CheckoutJob, rosterRepo *roster.Repository, attRepo *attendance.Repository, wa *whatsapp.Client, mail *mailer.Mailer) error {
	parent, err := rosterRepo.ParentOfStudent(ctx, job.StudentID)
	if err != nil {
		return err
	}

	switch {
	case wa.Configured() && parent.PhoneNumber != "":
		if err := wa.SendDismissal(ctx, parent.PhoneNumber, job.StudentName); err != nil {
			return err
		}
	case parent.Email != "":
		if err := mail.SendCheckout(parent.Email, parent.Name, job.StudentName, job.CheckoutTime); err != nil {
			return err
		}
	default:
		log.Printf("no contact channel for parent of %s, skipping", job.StudentName)
		return nil
	}

	return attRepo.MarkNotified(ctx, job.RecordID)
}
