package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/maneesh/koko2vichan/internal/checkpoint"
	"github.com/maneesh/koko2vichan/internal/errors"
)

// EnvPrefix prefixes environment overrides, e.g. KOKO2VICHAN_KOKO_MARIADB_PASSWORD.
const EnvPrefix = "KOKO2VICHAN"

// DefaultPath is where the config file is looked up without --config.
const DefaultPath = "./config.json"

const (
	CheckpointFile   = "file"
	CheckpointRedis  = "redis"
	CheckpointSQLite = "sqlite"

	MediaLocal = "local"
	MediaMinIO = "minio"
)

var boardNamePattern = regexp.MustCompile(`^[\w-]+$`)

// MariaDB holds connection settings for one database server.
type MariaDB struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// BoardMapping pairs a koko board with the vichan board it migrates into.
type BoardMapping struct {
	Koko   string
	Vichan string
}

// Config holds all application configuration
type Config struct {
	// Kokonotsuba source
	Koko             MariaDB
	KokoDBNamePrefix string
	KokoBasePath     string

	// vichan target
	Vichan             MariaDB
	VichanInstancePath string

	BoardMappings    []BoardMapping
	RowsPerIteration int

	// Checkpoint store
	CheckpointBackend string
	CheckpointPath    string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisPrefix       string

	// Media store
	MediaBackend    string
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucketName string
	MinIOUseSSL     bool
	VerifyChecksums bool

	// Tracing; an empty endpoint disables exporting
	TracingEndpoint string
	ServiceName     string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("koko.mariadb.host", "localhost")
	v.SetDefault("koko.mariadb.port", 3306)
	v.SetDefault("koko.mariadb.user", "root")
	v.SetDefault("koko.mariadb.password", "")
	v.SetDefault("koko.dbNamePrefix", "")
	v.SetDefault("koko.basePath", "")

	v.SetDefault("vichan.mariadb.host", "localhost")
	v.SetDefault("vichan.mariadb.port", 3306)
	v.SetDefault("vichan.mariadb.user", "root")
	v.SetDefault("vichan.mariadb.password", "")
	v.SetDefault("vichan.mariadb.database", "vichan")
	v.SetDefault("vichan.instancePath", "")

	v.SetDefault("rowsPerIteration", 100)

	v.SetDefault("checkpoint.backend", CheckpointFile)
	v.SetDefault("checkpoint.path", "")
	v.SetDefault("checkpoint.redis.addr", "localhost:6379")
	v.SetDefault("checkpoint.redis.password", "")
	v.SetDefault("checkpoint.redis.db", 0)
	v.SetDefault("checkpoint.redis.prefix", checkpoint.DefaultRedisPrefix)

	v.SetDefault("media.backend", MediaLocal)
	v.SetDefault("media.minio.endpoint", "localhost:9000")
	v.SetDefault("media.minio.accessKey", "minioadmin")
	v.SetDefault("media.minio.secretKey", "minioadmin")
	v.SetDefault("media.minio.bucket", "vichan")
	v.SetDefault("media.minio.useSSL", false)
	v.SetDefault("media.verifyChecksums", false)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.serviceName", "koko2vichan")
}

// LoadConfig reads path (JSON or YAML), then .env and KOKO2VICHAN_* environment
// overrides. A missing file is not an error; settings then come from the
// environment alone.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, skipping")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileRead := false
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.NewInvalidConfig(fmt.Sprintf("failed to read config file %s: %v", path, err))
			}
			fileRead = true
		} else if stderrors.Is(err, fs.ErrNotExist) {
			log.Printf("No config file at %s, using defaults and environment", path)
		} else {
			return nil, errors.NewInvalidConfig(fmt.Sprintf("failed to stat config file %s: %v", path, err))
		}
	}

	rawMappings := v.Get(mappingsKey)
	mappings, err := parseBoardMappings(rawMappings)
	if err != nil {
		return nil, err
	}
	if _, isObject := rawMappings.(map[string]any); isObject && fileRead {
		ordered, err := objectMappings(path)
		if err != nil {
			return nil, err
		}
		if ordered != nil {
			mappings = ordered
		}
	}

	cfg := &Config{
		Koko: MariaDB{
			Host:     v.GetString("koko.mariadb.host"),
			Port:     v.GetInt("koko.mariadb.port"),
			User:     v.GetString("koko.mariadb.user"),
			Password: v.GetString("koko.mariadb.password"),
		},
		KokoDBNamePrefix: v.GetString("koko.dbNamePrefix"),
		KokoBasePath:     v.GetString("koko.basePath"),

		Vichan: MariaDB{
			Host:     v.GetString("vichan.mariadb.host"),
			Port:     v.GetInt("vichan.mariadb.port"),
			User:     v.GetString("vichan.mariadb.user"),
			Password: v.GetString("vichan.mariadb.password"),
			Database: v.GetString("vichan.mariadb.database"),
		},
		VichanInstancePath: v.GetString("vichan.instancePath"),

		BoardMappings:    mappings,
		RowsPerIteration: v.GetInt("rowsPerIteration"),

		CheckpointBackend: strings.ToLower(v.GetString("checkpoint.backend")),
		CheckpointPath:    v.GetString("checkpoint.path"),
		RedisAddr:         v.GetString("checkpoint.redis.addr"),
		RedisPassword:     v.GetString("checkpoint.redis.password"),
		RedisDB:           v.GetInt("checkpoint.redis.db"),
		RedisPrefix:       v.GetString("checkpoint.redis.prefix"),

		MediaBackend:    strings.ToLower(v.GetString("media.backend")),
		MinIOEndpoint:   v.GetString("media.minio.endpoint"),
		MinIOAccessKey:  v.GetString("media.minio.accessKey"),
		MinIOSecretKey:  v.GetString("media.minio.secretKey"),
		MinIOBucketName: v.GetString("media.minio.bucket"),
		MinIOUseSSL:     v.GetBool("media.minio.useSSL"),
		VerifyChecksums: v.GetBool("media.verifyChecksums"),

		TracingEndpoint: v.GetString("tracing.endpoint"),
		ServiceName:     v.GetString("tracing.serviceName"),
	}

	if cfg.CheckpointPath == "" {
		cfg.CheckpointPath = defaultCheckpointPath(cfg.CheckpointBackend)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultCheckpointPath(backend string) string {
	if backend == CheckpointSQLite {
		return "./progress.db"
	}
	return "./progress.json"
}

// Validate rejects configurations the migration cannot run with.
func (c *Config) Validate() error {
	if len(c.BoardMappings) == 0 {
		return errors.NewInvalidConfig("kokoToVichanBoardMappings must name at least one board")
	}
	seen := make(map[string]bool, len(c.BoardMappings))
	for _, m := range c.BoardMappings {
		if !boardNamePattern.MatchString(m.Koko) || !boardNamePattern.MatchString(m.Vichan) {
			return errors.NewInvalidConfig(fmt.Sprintf("invalid board mapping %q -> %q", m.Koko, m.Vichan))
		}
		if seen[m.Koko] {
			return errors.NewInvalidConfig(fmt.Sprintf("koko board %s is mapped twice", m.Koko))
		}
		seen[m.Koko] = true
	}

	if c.RowsPerIteration <= 0 {
		return errors.NewInvalidConfig(fmt.Sprintf("rowsPerIteration must be positive, got %d", c.RowsPerIteration))
	}
	if c.Vichan.Database == "" {
		return errors.NewInvalidConfig("vichan.mariadb.database is required")
	}
	if c.KokoBasePath == "" {
		return errors.NewInvalidConfig("koko.basePath is required")
	}

	switch c.CheckpointBackend {
	case CheckpointFile, CheckpointSQLite:
		if c.CheckpointPath == "" {
			return errors.NewInvalidConfig("checkpoint.path is required")
		}
	case CheckpointRedis:
		if c.RedisAddr == "" {
			return errors.NewInvalidConfig("checkpoint.redis.addr is required")
		}
	default:
		return errors.NewInvalidConfig(fmt.Sprintf("unknown checkpoint.backend %q", c.CheckpointBackend))
	}

	switch c.MediaBackend {
	case MediaLocal:
		if c.VichanInstancePath == "" {
			return errors.NewInvalidConfig("vichan.instancePath is required for the local media backend")
		}
	case MediaMinIO:
		if c.MinIOEndpoint == "" || c.MinIOBucketName == "" {
			return errors.NewInvalidConfig("media.minio.endpoint and media.minio.bucket are required")
		}
	default:
		return errors.NewInvalidConfig(fmt.Sprintf("unknown media.backend %q", c.MediaBackend))
	}

	return nil
}

// SourceDSN returns the koko connection string. No schema is selected since
// every board lives in its own database.
func (c *Config) SourceDSN() string {
	return dsn(c.Koko, "")
}

// TargetDSN returns the vichan connection string
func (c *Config) TargetDSN() string {
	return dsn(c.Vichan, c.Vichan.Database)
}

func dsn(db MariaDB, database string) string {
	mc := mysql.NewConfig()
	mc.User = db.User
	mc.Passwd = db.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", db.Host, db.Port)
	mc.DBName = database
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// parseBoardMappings accepts a list of {koko, vichan} objects, an object of
// koko -> vichan or "koko:vichan,..." from the environment. viper hands the
// object form over lower-cased, so it is taken in sorted key order here and
// LoadConfig replaces it with objectMappings when the file format allows.
func parseBoardMappings(raw any) ([]BoardMapping, error) {
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return parseMappingString(val)
	case []any:
		out := make([]BoardMapping, 0, len(val))
		for i, item := range val {
			entry, ok := item.(map[string]any)
			if !ok {
				return nil, errors.NewInvalidConfig(fmt.Sprintf("kokoToVichanBoardMappings[%d] must be an object", i))
			}
			out = append(out, BoardMapping{
				Koko:   stringValue(entry["koko"]),
				Vichan: stringValue(entry["vichan"]),
			})
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]BoardMapping, 0, len(keys))
		for _, k := range keys {
			out = append(out, BoardMapping{Koko: k, Vichan: stringValue(val[k])})
		}
		return out, nil
	default:
		return nil, errors.NewInvalidConfig(fmt.Sprintf("kokoToVichanBoardMappings has unsupported type %T", raw))
	}
}

func parseMappingString(s string) ([]BoardMapping, error) {
	var out []BoardMapping
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		koko, vichan, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, errors.NewInvalidConfig(fmt.Sprintf("board mapping %q must be koko:vichan", pair))
		}
		out = append(out, BoardMapping{Koko: strings.TrimSpace(koko), Vichan: strings.TrimSpace(vichan)})
	}
	return out, nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}
