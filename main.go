package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/dentalsync/whatsapp-gateway/database"
	"github.com/dentalsync/whatsapp-gateway/internal/handlers"
	"github.com/dentalsync/whatsapp-gateway/internal/jobs"
	"github.com/dentalsync/whatsapp-gateway/internal/messaging"
	"github.com/dentalsync/whatsapp-gateway/internal/models"
	"github.com/dentalsync/whatsapp-gateway/internal/routes"
	"github.com/dentalsync/whatsapp-gateway/internal/services"
	"github.com/dentalsync/whatsapp-gateway/internal/storage"
)

func main() {
	// Load .env file for local development
	if os.Getenv("INSTANCE_CONNECTION_NAME") == "" {
		err := godotenv.Load(".env")
		if err != nil {
			err = godotenv.Load("environments/.env.development")
			if err != nil {
				log.Println("⚠️  No .env file found - checking environment variables")
			}
		}
	}

	historyLimit := envInt("MESSAGE_HISTORY_LIMIT", storage.DefaultHistoryLimit)

	// Initialize message storage. The history buffer is observational,
	// so the in-memory store is the default; Postgres is opt-in.
	var store storage.Store
	if useMemoryStore() {
		log.Println("📝 Using in-memory message storage")
		store = storage.NewMemoryStore(historyLimit)
	} else {
		log.Println("📦 Connecting to PostgreSQL database...")
		database.Connect()

		log.Println("🔄 Running database migrations...")
		if err := database.DB.AutoMigrate(
			&models.MessageRecord{},
			&models.Chat{},
		); err != nil {
			log.Fatal("Failed to migrate database:", err)
		}
		log.Println("✅ Database migrations completed!")

		store = storage.NewDatabaseStore(database.DB, historyLimit)
		log.Println("✅ Using PostgreSQL message storage")
	}
	// The credential store holds every linked device's keys; one sqlite
	// file shared by all users
	sessionDBPath := os.Getenv("SESSION_DB_PATH")
	if sessionDBPath == "" {
		sessionDBPath = "whatsapp-sessions.db"
	}

	dbLog := waLog.Stdout("Database", "WARN", true)
	container, err := sqlstore.New(context.Background(), "sqlite3", "file:"+sessionDBPath+"?_foreign_keys=on", dbLog)
	if err != nil {
		log.Fatal("Failed to open session store:", err)
	}

	links, err := services.NewDeviceLinks(sessionDBPath)
	if err != nil {
		log.Fatal("Failed to open device link table:", err)
	}

	// Event fan-out hub
	hub := messaging.NewHub()
	go hub.Run()

	// Initialize all services
	sessionManager := services.NewSessionManager(container, links, hub, store)
	whatsappService := services.NewWhatsAppService(sessionManager, store, hub)

	whatsappHandler := handlers.NewWhatsAppHandler(sessionManager, whatsappService, store, hub)
	healthHandler := handlers.NewHealthHandler(sessionManager, store, hub)

	// Reap sessions stuck waiting on a QR scan that never came
	reaper := jobs.NewSessionReaper(sessionManager)
	reaper.Start()

	log.Println("✅ All services initialized")

	// Create fiber app
	app := fiber.New(fiber.Config{
		AppName: "WhatsApp Gateway v1.0.0",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
			})
		},
	})

	// Middleware
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	routes.SetupRoutes(app, whatsappHandler, healthHandler)

	// Get port from environment or use default
	port := os.Getenv("PORT")
	if port == "" {
		port = "3001"
	}

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("\n🛑 Gracefully shutting down...")
		log.Println("⏹️  Stopping session reaper...")
		reaper.Stop()
		log.Println("⏹️  Disconnecting WhatsApp clients...")
		for _, sess := range sessionManager.Sessions() {
			sess.Disconnect()
		}
		if err := links.Close(); err != nil {
			log.Printf("Device link close error: %v", err)
		}
		log.Println("⏹️  Shutting down server...")
		_ = app.Shutdown()
	}()

	// Start server
	log.Println("========================================")
	log.Printf("🚀 WhatsApp Gateway starting on port %s", port)
	log.Printf("📊 Message storage: %s", storageType())
	log.Printf("📱 Session store: %s", sessionDBPath)
	log.Printf("🗂  History limit: %d messages per user", historyLimit)
	log.Printf("🔐 Service auth: %s", authStatus())
	log.Println("========================================")

	log.Fatal(app.Listen(":" + port))
}

func useMemoryStore() bool {
	return os.Getenv("USE_MEMORY_STORE") != "false"
}

func storageType() string {
	if useMemoryStore() {
		return "In-Memory"
	}
	return "PostgreSQL Database"
}

func authStatus() string {
	if os.Getenv("GATEWAY_JWT_SECRET") == "" {
		return "Disabled (no GATEWAY_JWT_SECRET)"
	}
	return "JWT required"
}

func envInt(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}
