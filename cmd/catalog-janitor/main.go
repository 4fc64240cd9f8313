// catalog-janitor is the standalone maintenance tool: it purges expired
// sessions on a schedule and watches the uploads directory, sweeping
// orphaned image files after write activity settles.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"database/sql"

	"github.com/fsnotify/fsnotify"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/catalogkit/catalogd/pkg/janitor"
	"github.com/catalogkit/catalogd/pkg/observability"
	"github.com/catalogkit/catalogd/pkg/session"
	"github.com/catalogkit/catalogd/pkg/store"
	"github.com/catalogkit/catalogd/pkg/uploads"
)

var (
	dbDriver      = flag.String("db-driver", getEnv("CATALOGD_DB_DRIVER", "sqlite3"), "Database driver (sqlite3 or postgres)")
	dbDSN         = flag.String("db-dsn", getEnv("CATALOGD_DB_DSN", "catalog.db"), "Database connection string")
	uploadsDir    = flag.String("uploads-dir", getEnv("CATALOGD_UPLOADS_DIR", "uploads"), "Directory holding uploaded images")
	purgeSchedule = flag.String("purge-schedule", "@every 15m", "Cron schedule for expired session purges")
	grace         = flag.Duration("grace", time.Hour, "Minimum age before an unreferenced file is swept")
	settle        = flag.Duration("settle", 30*time.Second, "Quiet period after file churn before sweeping")
	runOnce       = flag.Bool("run-once", false, "Run one purge and sweep, then exit")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	db, err := sql.Open(*dbDriver, *dbDSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	files, err := uploads.NewFileSystemStore(*uploadsDir)
	if err != nil {
		log.Fatalf("Failed to open uploads directory: %v", err)
	}

	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
	catalogStore, err := store.New(db, *dbDriver, files, logger, nil)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	sessions := session.NewManager(session.NewSQLStore(db, *dbDriver), 0, false)

	j := janitor.New(janitor.Config{OrphanGrace: *grace}, sessions, catalogStore, files, logger, nil)

	if *runOnce {
		ctx := context.Background()
		purged, err := j.PurgeSessions(ctx)
		if err != nil {
			log.Fatalf("Session purge failed: %v", err)
		}
		swept, err := j.SweepOrphans(ctx)
		if err != nil {
			log.Fatalf("Orphan sweep failed: %v", err)
		}
		log.Infof("Done: purged %d sessions, swept %d orphan files", purged, swept)
		return
	}

	// Scheduled purge.
	c := cron.New()
	if _, err := c.AddFunc(*purgeSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := j.PurgeSessions(ctx); err != nil {
			log.Errorf("Session purge failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("Invalid purge schedule: %v", err)
	}
	c.Start()
	defer c.Stop()

	// Watch the uploads directory and sweep after churn settles.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Fatalf("Failed to create watcher: %v", err)
	}
	defer watcher.Close()
	if err := watcher.Add(*uploadsDir); err != nil {
		log.Fatalf("Failed to watch uploads directory: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Infof("Watching %s for upload churn", *uploadsDir)
	var timer *time.Timer
	sweepCh := make(chan struct{}, 1)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce: restart the settle timer on every event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(*settle, func() {
				select {
				case sweepCh <- struct{}{}:
				default:
				}
			})
		case <-sweepCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			swept, err := j.SweepOrphans(ctx)
			cancel()
			if err != nil {
				log.Errorf("Orphan sweep failed: %v", err)
			} else if swept > 0 {
				log.Infof("Swept %d orphan files", swept)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("Watcher error: %v", err)
		case sig := <-sigChan:
			log.Infof("Received signal %s, exiting", sig)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
