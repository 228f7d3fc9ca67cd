package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	EnvConfigPath   = "USERPROFILE_CONFIG"
	envAddr         = "USERPROFILE_ADDR"
	envDatabase     = "USERPROFILE_DB"
	envUploadDir    = "USERPROFILE_UPLOAD_DIR"
	envJWTSecret    = "USERPROFILE_JWT_SECRET"
	envSMTPPassword = "USERPROFILE_SMTP_PASSWORD"

	DefaultServerAddress     = ":8080"
	DefaultDatabase          = "sqlite3"
	DefaultUploadDir         = "uploads"
	DefaultPictureURL        = "/assets/default.jfif"
	DefaultTokenTTLMinutes   = 7 * 24 * 60
	DefaultResetTTLMinutes   = 60
	DefaultCleanIntervalMins = 60
	DefaultGateThreshold     = 2

	StorageDisk = "disk"
	StorageS3   = "s3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	SMTP        SMTPConfig                `json:"smtp"`
	Storage     StorageConfig             `json:"storage"`
	Gate        GateConfig                `json:"gate"`
	JWTSecret   string                    `json:"jwt_secret"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	Database          string `json:"database"`
	UploadDir         string `json:"upload_dir"`
	DefaultPictureURL string `json:"default_picture_url"`
	PublicBaseURL     string `json:"public_base_url"`
	TokenTTL          int    `json:"token_ttl"`
	ResetTokenTTL     int    `json:"reset_token_ttl"`
	CleanInterval     int    `json:"clean_interval"`
	Debug             bool   `json:"debug"`
}

// DatabaseConfig describes one driver. DSN wins over the discrete fields.
type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

type StorageConfig struct {
	Backend        string `json:"backend"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3Endpoint     string `json:"s3_endpoint"`
	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
	S3UsePathStyle bool   `json:"s3_use_path_style"`
}

type GateConfig struct {
	Threshold       int  `json:"threshold"`
	RequirePicture  bool `json:"require_picture"`
	RequireDocument bool `json:"require_document"`
}

// Load reads configuration from the provided path (defaults to config.json),
// then applies environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(absPath))
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envAddr); v != "" {
		c.BasicConfig.ServerAddress = v
	}
	if v := os.Getenv(envDatabase); v != "" {
		c.BasicConfig.Database = v
	}
	if v := os.Getenv(envUploadDir); v != "" {
		c.BasicConfig.UploadDir = v
	}
	if v := os.Getenv(envJWTSecret); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv(envSMTPPassword); v != "" {
		c.SMTP.Password = v
	}
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = DefaultServerAddress
	}
	if b.Database == "" {
		b.Database = DefaultDatabase
	}
	if b.UploadDir == "" {
		b.UploadDir = DefaultUploadDir
	}
	if b.DefaultPictureURL == "" {
		b.DefaultPictureURL = DefaultPictureURL
	}
	if b.PublicBaseURL == "" {
		b.PublicBaseURL = "http://localhost" + b.ServerAddress
	}
	if b.TokenTTL <= 0 {
		b.TokenTTL = DefaultTokenTTLMinutes
	}
	if b.ResetTokenTTL <= 0 {
		b.ResetTokenTTL = DefaultResetTTLMinutes
	}
	if b.CleanInterval <= 0 {
		b.CleanInterval = DefaultCleanIntervalMins
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageDisk
	}
	if c.Gate.Threshold <= 0 {
		c.Gate.Threshold = DefaultGateThreshold
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.Databases == nil {
		c.Databases = map[string]DatabaseConfig{}
	}
	if _, ok := c.Databases["sqlite3"]; !ok && b.Database == "sqlite3" {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "userprofile.db"}
	}
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("jwt_secret must be configured")
	}
	if _, ok := c.Databases[c.BasicConfig.Database]; !ok {
		return fmt.Errorf("database %q is not configured", c.BasicConfig.Database)
	}
	switch c.Storage.Backend {
	case StorageDisk:
	case StorageS3:
		if c.Storage.S3Bucket == "" {
			return errors.New("storage.s3_bucket must be configured for the s3 backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}
	return nil
}

func (c *Config) resolvePaths(base string) {
	if !filepath.IsAbs(c.BasicConfig.UploadDir) {
		c.BasicConfig.UploadDir = filepath.Join(base, c.BasicConfig.UploadDir)
	}
	if db, ok := c.Databases["sqlite3"]; ok && db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) && !isURI(db.DSN) {
		db.DSN = filepath.Join(base, db.DSN)
		c.Databases["sqlite3"] = db
	}
}

func isURI(dsn string) bool {
	return len(dsn) > 5 && dsn[:5] == "file:"
}

func (c *Config) Database() DatabaseConfig {
	return c.Databases[c.BasicConfig.Database]
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.BasicConfig.TokenTTL) * time.Minute
}

func (c *Config) ResetTokenTTL() time.Duration {
	return time.Duration(c.BasicConfig.ResetTokenTTL) * time.Minute
}

func (c *Config) CleanInterval() time.Duration {
	return time.Duration(c.BasicConfig.CleanInterval) * time.Minute
}

// Addr returns host:port with local defaults.
func (r RedisConfig) Addr() string {
	host := r.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := r.Port
	if port == 0 {
		port = 6379
	}
	return host + ":" + strconv.Itoa(port)
}
