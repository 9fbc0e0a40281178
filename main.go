package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dchest/captcha"
	"github.com/gorilla/csrf"

	"fermlog/auth"
	"fermlog/config"
	"fermlog/db"
	"fermlog/elab"
	"fermlog/handlers"
	"fermlog/i18n"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(*configPath); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if err := config.LoadConfig(configPath); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := i18n.Init(); err != nil {
		return fmt.Errorf("load translations: %w", err)
	}
	auth.InitStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Init(ctx, config.AppConfig.DBPath); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	notebook := elab.NewClient(config.AppConfig.ElabHost,
		time.Duration(config.AppConfig.ElabTimeoutSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))
	mux.Handle("GET /captcha/", captcha.Server(captcha.StdWidth, captcha.StdHeight))
	handlers.RegisterHandlers(mux, notebook)

	// gorilla/csrf wants a 32-byte key; derive one from the session key the
	// same way the cookie store does.
	csrfKey := sha256.Sum256([]byte(config.AppConfig.SessionKey + "csrf"))
	protect := csrf.Protect(
		csrfKey[:],
		csrf.Secure(config.AppConfig.ListenPort != 8080),
		csrf.Path("/"),
	)

	var handler http.Handler = protect(mux)
	handler = handlers.RequestLog(handler)
	handler = handlers.SecurityHeaders(handler)
	handler = handlers.Recover(handler)

	addr := fmt.Sprintf("%s:%d", config.AppConfig.ListenIP, config.AppConfig.ListenPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", addr, "app", config.AppConfig.AppName)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
