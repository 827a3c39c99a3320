package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"resume-mail-import/internal/handler"
	"resume-mail-import/internal/router"
	"resume-mail-import/internal/scheduler"
)

// Run initializes and starts the HTTP API
func Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logrus.Info("Starting Resume Mail Import Service")

	c, err := Build(context.Background(), cfg, true)
	if err != nil {
		return err
	}
	defer c.Close()

	sched := scheduler.NewScheduler(cfg.Scheduler.IntervalSeconds, c.Pipeline.Tick)

	h := handler.NewHandlers(c.DB, c.Runs, c.Scans, c.Pipeline, c.Worker, sched, handler.WorkerDefaults{
		Concurrency: cfg.Worker.Concurrency,
		JobTimeout:  cfg.Worker.JobTimeout,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.SetupRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Scheduler.Enabled {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		logrus.Info("Scheduler disabled; relying on /dispatch and /worker/slice")
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}
