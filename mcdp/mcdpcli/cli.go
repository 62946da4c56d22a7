package mcdpcli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/crosbyhealth/mcdp-app/mcdp/analytics"
	"github.com/crosbyhealth/mcdp-app/mcdp/client"
	"github.com/crosbyhealth/mcdp-app/mcdp/constants"
	"github.com/crosbyhealth/mcdp-app/mcdp/database"
	"github.com/crosbyhealth/mcdp-app/mcdp/health"
	"github.com/crosbyhealth/mcdp-app/mcdp/ingest"
	"github.com/crosbyhealth/mcdp-app/mcdp/models/postgres"
	"github.com/crosbyhealth/mcdp-app/mcdp/service"
	"github.com/crosbyhealth/mcdp-app/mcdp/servicemux"
	"github.com/crosbyhealth/mcdp-app/mcdp/utils"
	"github.com/crosbyhealth/mcdp-app/mcdp/web"
)

// App Name and usage.  Edit them here to prevent breaking tests
const Name = "mcdp"
const Usage = "Medicare Claims Documentation Pipeline CLI"

func GetApp() *cli.App {
	return setUpApp()
}

func setUpApp() *cli.App {
	app := cli.NewApp()
	app.Name = Name
	app.Usage = Usage
	app.Version = constants.Version
	var filePath, dirToDelete, fileID, migrationsDir string
	var pages int
	app.Commands = []cli.Command{
		{
			Name:  "start-api",
			Usage: "Start the API",
			Action: func(c *cli.Context) error {
				db := database.GetDbConnection()

				api := web.NewAPI(
					service.NewService(postgres.NewRepository(db)),
					analytics.NewEngine(postgres.NewRepository(db)),
					ingest.NewImporter(db),
					medicareSource(),
					health.NewHealthChecker(db),
				)

				fmt.Fprintf(app.Writer, "%s\n", "Starting mcdp...")

				// Accepts and redirects HTTP requests to HTTPS
				srv := &http.Server{
					Handler:      web.NewHTTPRouter(),
					Addr:         ":3001",
					ReadTimeout:  5 * time.Second,
					WriteTimeout: 5 * time.Second,
				}
				go func() { log.Fatal(srv.ListenAndServe()) }()

				apiServer := &http.Server{
					Handler:      web.NewAPIRouter(api),
					ReadTimeout:  time.Duration(utils.GetEnvInt("API_READ_TIMEOUT", 10)) * time.Second,
					WriteTimeout: time.Duration(utils.GetEnvInt("API_WRITE_TIMEOUT", 20)) * time.Second,
					IdleTimeout:  time.Duration(utils.GetEnvInt("API_IDLE_TIMEOUT", 120)) * time.Second,
				}

				smux := servicemux.New(":3000")
				smux.AddServer(apiServer, "")
				smux.Serve()

				return nil
			},
		},
		{
			Name:     "import-notifications",
			Category: "Data import",
			Usage:    "Import all Medicare file notification batches from the specified directory",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:        "directory",
					Usage:       "Directory where notification batch files are located",
					Destination: &filePath,
				},
			},
			Action: func(c *cli.Context) error {
				db := database.GetDbConnection()
				defer db.Close()

				importer := ingest.NewImporter(db)
				s, f, sk, err := importer.ImportNotificationFiles(context.Background(), notificationFileHandler(filePath), filePath)
				fmt.Fprintf(app.Writer, "Completed Medicare notification data import.\nFiles imported: %v\nFiles failed: %v\nFiles skipped: %v\n", s, f, sk)
				return err
			},
		},
		{
			Name:     "sync-notifications",
			Category: "Data import",
			Usage:    "Pull file notifications from the Medicare source and ingest them",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:        "file-id",
					Usage:       "Sync a single file notification by its file ID",
					Destination: &fileID,
				},
				cli.IntFlag{
					Name:        "pages",
					Usage:       "Number of batch pages to pull when no file ID is given",
					Value:       1,
					Destination: &pages,
				},
			},
			Action: func(c *cli.Context) error {
				db := database.GetDbConnection()
				defer db.Close()

				s, f, err := syncNotifications(context.Background(), ingest.NewImporter(db), medicareSource(), fileID, pages)
				fmt.Fprintf(app.Writer, "Completed Medicare notification sync.\nNotifications ingested: %v\nNotifications failed: %v\n", s, f)
				return err
			},
		},
		{
			Name:     "migrate",
			Category: "Database tools",
			Usage:    "Apply schema migrations to the correlation store",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:        "migrations-dir",
					Usage:       "Directory holding the migration files",
					Value:       "db/migrations",
					Destination: &migrationsDir,
				},
			},
			Action: func(c *cli.Context) error {
				databaseURL := os.Getenv("DATABASE_URL")
				if databaseURL == "" {
					return fmt.Errorf("DATABASE_URL must be set")
				}
				m, err := migrate.New("file://"+migrationsDir, databaseURL)
				if err != nil {
					return err
				}
				defer m.Close()
				if err := m.Up(); err != nil && err != migrate.ErrNoChange {
					return err
				}
				fmt.Fprintf(app.Writer, "Schema migrations applied.\n")
				return nil
			},
		},
		{
			Name:     "delete-dir-contents",
			Category: "Cleanup",
			Usage:    "Delete all of the files in a directory",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:        "dirToDelete",
					Usage:       "Name of the directory to delete the files from",
					Destination: &dirToDelete,
				},
			},
			Action: func(c *cli.Context) error {
				fi, err := os.Stat(dirToDelete)
				if err != nil {
					return err
				}
				if !fi.IsDir() {
					return fmt.Errorf("unable to delete directory contents because %v does not reference a directory", dirToDelete)
				}
				filesDeleted, err := utils.DeleteDirectoryContents(dirToDelete)
				if filesDeleted > 0 {
					fmt.Fprintf(app.Writer, "Successfully Deleted %v files from %v", filesDeleted, dirToDelete)
				}
				return err
			},
		},
	}
	return app
}

// medicareSource picks the upstream client. Without a configured API URL the
// deterministic mock source is used, which suits local development.
func medicareSource() client.MedicareAPI {
	if os.Getenv("MCDP_MEDICARE_API_URL") != "" {
		c, err := client.NewMedicareClient()
		if err != nil {
			log.Fatal(err)
		}
		return c
	}
	return &client.MockMedicareAPI{}
}

func notificationFileHandler(filePath string) ingest.NotificationFileHandler {
	if strings.HasPrefix(filePath, "s3://") {
		return &ingest.S3FileHandler{
			Logger:        log.StandardLogger(),
			Endpoint:      os.Getenv("MCDP_S3_ENDPOINT"),
			AssumeRoleArn: os.Getenv("MCDP_IMPORT_ROLE_ARN"),
		}
	}
	return &ingest.LocalFileHandler{
		Logger:                 log.StandardLogger(),
		PendingDeletionDir:     utils.FromEnv("PENDING_DELETION_DIR", "/tmp/mcdp-pending-deletion"),
		FileArchiveThresholdHr: uint(utils.GetEnvInt("FILE_ARCHIVE_THRESHOLD_HR", 72)),
	}
}

func syncNotifications(ctx context.Context, importer *ingest.Importer, source client.MedicareAPI, fileID string, pages int) (success, failure int, err error) {
	if fileID != "" {
		payload, err := source.GetFileNotification(ctx, fileID)
		if err != nil {
			return 0, 0, err
		}
		if _, err := importer.Ingest(ctx, *payload); err != nil {
			return 0, 1, err
		}
		return 1, 0, nil
	}

	if pages < 1 {
		pages = 1
	}
	pageSize := utils.GetEnvInt("MCDP_SYNC_PAGE_SIZE", 20)
	for page := 1; page <= pages; page++ {
		batch, err := source.GetFileNotificationBatch(ctx, page, pageSize)
		if err != nil {
			return success, failure, err
		}
		for i := range batch.Notifications {
			if _, ingestErr := importer.Ingest(ctx, batch.Notifications[i]); ingestErr != nil {
				log.Errorf("failed to ingest notification %s: %s", batch.Notifications[i].NotificationID, ingestErr)
				failure++
				continue
			}
			success++
		}
		if page >= batch.Pagination.TotalPages {
			break
		}
	}
	if failure > 0 {
		err = fmt.Errorf("one or more notifications failed to sync")
	}
	return success, failure, err
}
