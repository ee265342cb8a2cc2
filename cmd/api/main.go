package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tutortrack/internal/attendance"
	"tutortrack/internal/auth"
	"tutortrack/internal/config"
	"tutortrack/internal/httpmiddleware"
	"tutortrack/internal/mailer"
	"tutortrack/internal/notify"
	"tutortrack/internal/queue"
	"tutortrack/internal/roster"
	"tutortrack/internal/store"
	"tutortrack/internal/whatsapp"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "tutortrack:notify")
	}

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		log.Printf("invalid TIME_ZONE %q, using UTC: %v", cfg.TimeZone, err)
		loc = time.UTC
	}

	accounts := auth.NewAccounts(db.Client)
	rosterRepo := roster.NewRepository(db.Client)
	attRepo := attendance.NewRepository(db.Client)
	mail := mailer.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom)
	wa := whatsapp.New(cfg.WhatsAppPhoneID, cfg.WhatsAppToken, cfg.PhonePrefix)
	att := attendance.NewService(attRepo, rosterRepo, notify.NewQueuePublisher(q), mail, loc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/auth/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		acct, err := accounts.Authenticate(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			if errors.Is(err, auth.ErrBadCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
			return
		}
		token, exp, err := auth.Issue(acct.ID, acct.Email, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"access_token": token, "expires_at": exp.Unix()})
	})

	// WhatsApp Cloud API webhook: subscription handshake plus delivery
	// callbacks, acknowledged before any processing.
	r.GET("/webhook", func(c *gin.Context) {
		challenge, ok := whatsapp.VerifyHandshake(
			c.Query("hub.mode"),
			c.Query("hub.verify_token"),
			c.Query("hub.challenge"),
			cfg.WhatsAppVerifyToken,
		)
		if !ok {
			c.Status(http.StatusForbidden)
			return
		}
		c.String(http.StatusOK, challenge)
	})

	r.POST("/webhook", func(c *gin.Context) {
		var event whatsapp.WebhookEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			c.Status(http.StatusOK)
			return
		}
		c.Status(http.StatusOK)
		go func(event whatsapp.WebhookEvent) {
			for _, entry := range event.Entry {
				for _, change := range entry.Changes {
					for _, st := range change.Value.Statuses {
						log.Printf("whatsapp status: message %s -> %s (recipient %s)", st.ID, st.Status, st.RecipientID)
					}
				}
			}
		}(event)
	})

	v1 := r.Group("/v1", auth.AccountAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	v1.POST("/checkin", func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims := auth.ClaimsFrom(c)
		res, err := att.CheckIn(c.Request.Context(), claims.AccountID, req.Name)
		if err != nil {
			if errors.Is(err, roster.ErrStudentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Student not found"})
				return
			}
			log.Printf("checkin failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
			return
		}
		msg := "checked in"
		if res.ReCheckin {
			msg = "re-checked in"
		}
		c.JSON(http.StatusOK, gin.H{"message": msg, "rowId": res.RecordID})
	})

	v1.POST("/checkout", func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims := auth.ClaimsFrom(c)
		rowID, err := att.CheckOut(c.Request.Context(), claims.AccountID, req.Name)
		if err != nil {
			switch {
			case errors.Is(err, attendance.ErrRecordNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "No active check-in found"})
			case errors.Is(err, attendance.ErrAlreadyCheckedOut):
				c.JSON(http.StatusBadRequest, gin.H{"error": "Already checked out"})
			default:
				log.Printf("checkout failed: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "checked out", "rowId": rowID})
	})

	v1.GET("/status/:name", func(c *gin.Context) {
		claims := auth.ClaimsFrom(c)
		rec, err := att.LatestStatus(c.Request.Context(), claims.AccountID, c.Param("name"))
		if err != nil {
			if errors.Is(err, attendance.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"found": false})
				return
			}
			log.Printf("status lookup failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"found": true, "record": rec})
	})

	v1.POST("/finish-day", func(c *gin.Context) {
		claims := auth.ClaimsFrom(c)
		if claims.Email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Account has no email address"})
			return
		}
		if _, err := att.FinishDay(c.Request.Context(), claims.AccountID, claims.Email); err != nil {
			if errors.Is(err, attendance.ErrNoRecords) {
				c.JSON(http.StatusNotFound, gin.H{"error": "No check-in records found"})
				return
			}
			log.Printf("finish-day failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate or send report"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Report generated, emailed, data archived, and check-ins cleared."})
	})

	v1.POST("/students", func(c *gin.Context) {
		var req struct {
			Students []roster.Entry `json:"students"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims := auth.ClaimsFrom(c)
		registerStudents(c, rosterRepo, claims.AccountID, req.Students)
	})

	v1.POST("/upload-csv", func(c *gin.Context) {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		entries, err := roster.ParseCSV(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims := auth.ClaimsFrom(c)
		registerStudents(c, rosterRepo, claims.AccountID, entries)
	})

	v1.GET("/students", func(c *gin.Context) {
		claims := auth.ClaimsFrom(c)
		recs, err := attRepo.ListDayAscending(c.Request.Context(), claims.AccountID)
		if err != nil {
			log.Printf("list students failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"students": recs})
	})

	v1.GET("/roster", func(c *gin.Context) {
		claims := auth.ClaimsFrom(c)
		rows, err := rosterRepo.ListRoster(c.Request.Context(), claims.AccountID)
		if err != nil {
			log.Printf("list roster failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"students": rows})
	})

	v1.POST("/notify-checkout", func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims := auth.ClaimsFrom(c)
		ctx := c.Request.Context()

		student, err := rosterRepo.FindStudentByName(ctx, claims.AccountID, req.Name)
		if err != nil {
			if errors.Is(err, roster.ErrStudentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Student not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
			return
		}
		parent, err := rosterRepo.ParentOfStudent(ctx, student.ID)
		if err != nil {
			if errors.Is(err, roster.ErrParentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Parent not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
			return
		}
		if err := wa.SendDismissal(ctx, parent.PhoneNumber, student.Name); err != nil {
			log.Printf("whatsapp dismissal failed for %s: %v", student.Name, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "WhatsApp message failed"})
			return
		}
		if rec, err := attRepo.LatestForStudent(ctx, claims.AccountID, student.ID); err == nil {
			_ = attRepo.MarkNotified(ctx, rec.ID)
		}
		c.JSON(http.StatusOK, gin.H{"message": "parent notified"})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

func registerStudents(c *gin.Context, repo *roster.Repository, accountID string, entries []roster.Entry) {
	count, err := repo.BulkRegister(c.Request.Context(), accountID, entries)
	if err != nil {
		if errors.Is(err, roster.ErrMissingFields) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Printf("bulk register failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "All students added successfully", "count": count})
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
