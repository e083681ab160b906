package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/cultivarhq/cultivar/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"cultivar"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`

	AcquireTimeout time.Duration `env:"DB_ACQUIRE_TIMEOUT" envDefault:"5s"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type BusOptions struct {
	EventWorkers   int `env:"BUS_EVENT_WORKERS" envDefault:"3"`
	EventQueueSize int `env:"BUS_EVENT_QUEUE_SIZE" envDefault:"256"`
}

func (b *BusOptions) Validate() error {
	if b.EventWorkers < 1 {
		return fmt.Errorf("bus EventWorkers must be positive, got %d", b.EventWorkers)
	}
	if b.EventQueueSize < 1 {
		return fmt.Errorf("bus EventQueueSize must be positive, got %d", b.EventQueueSize)
	}
	return nil
}

type LockoutOptions struct {
	Threshold int           `env:"LOGIN_LOCKOUT_THRESHOLD" envDefault:"5"`
	Window    time.Duration `env:"LOGIN_LOCKOUT_WINDOW" envDefault:"10m"`
	Duration  time.Duration `env:"LOGIN_LOCKOUT_DURATION" envDefault:"15m"`
}

type RetentionOptions struct {
	Submission time.Duration `env:"SUBMISSION_TTL" envDefault:"24h"`
	Completed  time.Duration `env:"SUBMISSION_RETENTION" envDefault:"72h"`
	File       time.Duration `env:"FILE_TTL" envDefault:"24h"`
}

// TokenOptions holds per-purpose salts and expiries. All HMAC tokens share
// one secret; the salt binds a token to a single purpose.
type TokenOptions struct {
	Secret string `env:"TOKEN_SECRET"`

	LoginSalt    string `env:"TOKEN_LOGIN_SALT" envDefault:"login"`
	VerifySalt   string `env:"TOKEN_VERIFY_SALT" envDefault:"verify"`
	ResetSalt    string `env:"TOKEN_RESET_SALT" envDefault:"reset"`
	CSRFSalt     string `env:"TOKEN_CSRF_SALT" envDefault:"csrf"`
	DownloadSalt string `env:"TOKEN_DOWNLOAD_SALT" envDefault:"download"`

	LoginExpiry    time.Duration `env:"TOKEN_LOGIN_EXPIRY" envDefault:"24h"`
	VerifyExpiry   time.Duration `env:"TOKEN_VERIFY_EXPIRY" envDefault:"72h"`
	ResetExpiry    time.Duration `env:"TOKEN_RESET_EXPIRY" envDefault:"1h"`
	CSRFExpiry     time.Duration `env:"TOKEN_CSRF_EXPIRY" envDefault:"12h"`
	DownloadExpiry time.Duration `env:"TOKEN_DOWNLOAD_EXPIRY" envDefault:"10m"`
}

type Configuration struct {
	Database  DatabaseOptions
	Bus       BusOptions
	Lockout   LockoutOptions
	Retention RetentionOptions
	Tokens    TokenOptions

	RedisURL         string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	MigrationsDir    string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"error"`
	LogPath          string `env:"LOG_PATH" envDefault:"./logs/engine.log"`

	// Release applied to controls stamped on newly created entities.
	DefaultRelease string `env:"DEFAULT_RELEASE" envDefault:"REGISTERED"`

	logFile *os.File
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func Use() *Configuration {
	return singleton()
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}

	if err := c.Bus.Validate(); err != nil {
		return fmt.Errorf("bus configuration error: %w", err)
	}
	switch c.DefaultRelease {
	case "PRIVATE", "REGISTERED", "PUBLIC":
	default:
		return fmt.Errorf("invalid DEFAULT_RELEASE=%q (expected PRIVATE|REGISTERED|PUBLIC)", c.DefaultRelease)
	}

	f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
	if err != nil {
		return err
	}
	c.logFile = f
	c.logger = logger

	c.Database.Opts = c.Database.ConnectionString()
	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
