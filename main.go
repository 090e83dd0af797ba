package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"remesas/internal/api"
	"remesas/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("запуск приложения...")

	_ = godotenv.Load()

	dbPath := os.Getenv("REMESAS_DB_PATH")
	if dbPath == "" {
		dbPath = "remesas.db"
	}
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	reportDir := os.Getenv("REPORT_DIR")
	if reportDir == "" {
		reportDir = "."
	}

	db, err := storage.New(dbPath)
	if err != nil {
		log.Fatalf("ошибка при инициализации storage: %v", err)
	}
	defer db.Close()

	if err := db.Init(ctx); err != nil {
		log.Fatalf("ошибка при инициализации данных: %v", err)
	}

	log.Println("инициализация базы данных прошла успешно")

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	appAPI := api.New(db, reportDir)
	appAPI.RegisterRoutes(r)

	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Printf("сервер запущен на http://localhost%s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ошибка запуска сервера: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("получен сигнал завершения, остановка сервера...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ошибка при остановке сервера: %v", err)
	}
	log.Println("сервер остановлен")
}
