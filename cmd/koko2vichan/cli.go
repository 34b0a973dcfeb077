package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/maneesh/koko2vichan/internal/checkpoint"
	"github.com/maneesh/koko2vichan/internal/config"
	"github.com/maneesh/koko2vichan/internal/errors"
	"github.com/maneesh/koko2vichan/internal/logging"
	"github.com/maneesh/koko2vichan/internal/media"
	"github.com/maneesh/koko2vichan/internal/migrate"
	"github.com/maneesh/koko2vichan/internal/storage"
	"github.com/maneesh/koko2vichan/internal/tracing"
)

const confirmPrompt = `This tool reads posts from a Kokonotsuba database and migrates them into an *existing* vichan database.
Back up your vichan database before continuing!
Settings are read from the file given with --config (default ./config.json) and KOKO2VICHAN_* environment variables.
Pass --confirm to skip this question in the future.
Pass --files-only to copy board media in bulk without migrating posts; that mode does not resume.
Are you sure you want to continue? [y/N] `

// newCLIApp creates the CLI application.
func newCLIApp(in io.Reader, out io.Writer) *cli.App {
	app := &cli.App{
		Name:    "koko2vichan",
		Usage:   "Migrate Kokonotsuba boards into a vichan instance",
		Version: Version,
		Reader:  in,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: config.DefaultPath, Usage: "Config file (JSON or YAML)"},
			&cli.BoolFlag{Name: "confirm", Usage: "Skip the confirmation prompt"},
			&cli.BoolFlag{Name: "files-only", Usage: "Copy board media in bulk without migrating posts"},
		},
		Action: run,
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func run(c *cli.Context) error {
	if !c.Bool("confirm") {
		ok, err := confirm(c.App.Reader, c.App.Writer)
		if err != nil {
			return errors.NewInternal(err)
		}
		if !ok {
			return nil
		}
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logging.SetRunID(runID)

	shutdownTracer, err := tracing.InitTracer(cfg.ServiceName, cfg.TracingEndpoint, runID)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mediaStore, err := openMediaStore(cfg)
	if err != nil {
		return err
	}

	if c.Bool("files-only") {
		return copyFilesOnly(ctx, cfg, mediaStore)
	}
	return migrateBoards(ctx, cfg, mediaStore)
}

// confirm asks the user to go ahead; anything but y/Y declines.
func confirm(in io.Reader, out io.Writer) (bool, error) {
	fmt.Fprint(out, confirmPrompt)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(answer), "y"), nil
}

func openMediaStore(cfg *config.Config) (media.Store, error) {
	switch cfg.MediaBackend {
	case config.MediaMinIO:
		log.Println("Connecting to MinIO...")
		ms, err := storage.NewMinioMediaStore(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOBucketName, cfg.MinIOUseSSL)
		if err != nil {
			return nil, err
		}
		return ms, nil
	default:
		return media.NewLocalStore(cfg.VichanInstancePath), nil
	}
}

func openCheckpointStore(cfg *config.Config) (checkpoint.Store, error) {
	switch cfg.CheckpointBackend {
	case config.CheckpointRedis:
		log.Println("Connecting to Redis...")
		rs, err := checkpoint.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return rs, nil
	case config.CheckpointSQLite:
		ss, err := checkpoint.OpenSQLiteStore(cfg.CheckpointPath)
		if err != nil {
			return nil, err
		}
		return ss, nil
	default:
		if _, err := os.Stat(cfg.CheckpointPath); err == nil {
			log.Printf("Found %s, resuming using its contents", cfg.CheckpointPath)
			log.Println("To start over from the beginning, delete the file and restart the program")
		}
		fileStore, err := checkpoint.OpenFileStore(cfg.CheckpointPath)
		if err != nil {
			return nil, err
		}
		return fileStore, nil
	}
}

func copyFilesOnly(ctx context.Context, cfg *config.Config, store media.Store) error {
	logging.Info("main", "files-only", "Files from boards will be copied in bulk, and no post migration will be done")

	copier := media.NewCopier(media.DefaultChunkSize)
	for _, m := range cfg.BoardMappings {
		count, err := media.CopyBoard(ctx, store, copier, cfg.KokoBasePath, m.Koko, m.Vichan)
		if err != nil {
			return err
		}
		logging.Info("main", "files-only", fmt.Sprintf("Successfully copied %d files from koko board %s to vichan board %s", count, m.Koko, m.Vichan))
	}
	return nil
}

func migrateBoards(ctx context.Context, cfg *config.Config, store media.Store) error {
	cpStore, err := openCheckpointStore(cfg)
	if err != nil {
		return err
	}
	defer cpStore.Close()

	sourceDB, err := storage.OpenMySQL(cfg.SourceDSN())
	if err != nil {
		return errors.NewConnectivity("koko database", err)
	}
	defer sourceDB.Close()

	targetDB, err := storage.OpenMySQL(cfg.TargetDSN())
	if err != nil {
		return errors.NewConnectivity("vichan database", err)
	}
	defer targetDB.Close()

	units := buildUnits(cfg, sourceDB, targetDB, store)
	return migrate.NewOrchestrator(cpStore, cfg.RowsPerIteration).Run(ctx, units)
}

// buildUnits creates one migration unit per board mapping, in declared order.
func buildUnits(cfg *config.Config, sourceDB, targetDB *sql.DB, store media.Store) []migrate.Unit {
	copier := media.NewCopier(media.DefaultChunkSize)
	units := make([]migrate.Unit, 0, len(cfg.BoardMappings))
	for _, m := range cfg.BoardMappings {
		units = append(units, migrate.Unit{
			KokoBoard:   m.Koko,
			VichanBoard: m.Vichan,
			Source:      storage.NewKokoReader(sourceDB, storage.KokoTable(cfg.KokoDBNamePrefix, m.Koko)),
			Target:      storage.NewVichanWriter(targetDB, storage.VichanTable(cfg.Vichan.Database, m.Vichan)),
			Media:       media.NewMirror(store, copier, cfg.KokoBasePath, m.Koko, m.Vichan, cfg.VerifyChecksums),
		})
	}
	return units
}
