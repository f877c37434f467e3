package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Duplicate session policies: what happens when a user joins the chat from a second connection.
const (
	DuplicateSessionReplace = "replace" // silently take over the registry entry; old socket stays open
	DuplicateSessionEvict   = "evict"   // take over the registry entry and close the old socket
	DuplicateSessionReject  = "reject"  // refuse the new join
)

type (
	Config struct {
		Debug                     bool
		TestMode                  bool
		Env                       string
		Build                     string
		AppName                   string
		SecretKey                 string
		WorkDir                   string
		FrontendBaseURL           string
		DefaultFromEmail          mail.Address
		PasswordResetTimeoutDelta time.Duration
		RollbarToken              string
		SendgridApiKey            string

		Server   ServerConfig
		Database DatabaseConfig
		Chat     ChatConfig
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	ChatConfig struct {
		DuplicateSession     string
		SnapshotIncludesSelf bool
		OutboundBufferSize   int
		WriteTimeout         time.Duration
		PingInterval         time.Duration
		MaxMessageSize       int64
		AllowedOrigins       []string
	}
)

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, db.Port)
}

// NewConfig loads the app configuration.
// Precedence: environment variables (prefixed with the ENV value, eg. DEV_DATABASE_HOST), config/.env.<env>, defaults.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "Cinderella")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "Cinderella <noreply@localhost>")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":5000")
	v.SetDefault("server.debugHost", ":5050")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 7*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "cinderella")
	v.SetDefault("database.user", "cinderella")
	v.SetDefault("database.password", "cinderella")
	v.SetDefault("database.adminUser", "")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("chat.duplicateSession", DuplicateSessionReplace)
	v.SetDefault("chat.snapshotIncludesSelf", true)
	v.SetDefault("chat.outboundBufferSize", 64)
	v.SetDefault("chat.writeTimeout", 10*time.Second)
	v.SetDefault("chat.pingInterval", 30*time.Second)
	v.SetDefault("chat.maxMessageSize", 64*1024)
	v.SetDefault("chat.allowedOrigins", []string{})

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	var testMode bool
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		testMode = true
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	workDir := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	fromEmail, err := mail.ParseAddress(v.GetString("defaultFromEmail"))
	if err != nil {
		log.Fatalf("config.defaultFromEmail: %v", err)
	}

	conf := &Config{
		Debug:                     v.GetBool("debug"),
		TestMode:                  testMode,
		Env:                       env,
		Build:                     v.GetString("build"),
		AppName:                   v.GetString("appName"),
		SecretKey:                 v.GetString("secretKey"),
		WorkDir:                   workDir,
		FrontendBaseURL:           v.GetString("frontendBaseURL"),
		DefaultFromEmail:          *fromEmail,
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Address:                   v.GetString("server.address"),
			DebugHost:                 v.GetString("server.debugHost"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Chat: ChatConfig{
			DuplicateSession:     strings.ToLower(v.GetString("chat.duplicateSession")),
			SnapshotIncludesSelf: v.GetBool("chat.snapshotIncludesSelf"),
			OutboundBufferSize:   v.GetInt("chat.outboundBufferSize"),
			WriteTimeout:         v.GetDuration("chat.writeTimeout"),
			PingInterval:         v.GetDuration("chat.pingInterval"),
			MaxMessageSize:       v.GetInt64("chat.maxMessageSize"),
			AllowedOrigins:       v.GetStringSlice("chat.allowedOrigins"),
		},
	}
	if err = conf.Chat.Validate(); err != nil {
		log.Fatalf("config.chat: %v", err)
	}
	return conf
}

func (c ChatConfig) Validate() error {
	switch c.DuplicateSession {
	case DuplicateSessionReplace, DuplicateSessionEvict, DuplicateSessionReject:
	default:
		return fmt.Errorf("unknown duplicate session policy %q", c.DuplicateSession)
	}
	if c.OutboundBufferSize <= 0 {
		return fmt.Errorf("outbound buffer size must be positive (got %d)", c.OutboundBufferSize)
	}
	if c.PingInterval <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("ping interval and write timeout must be positive (got %v, %v)", c.PingInterval, c.WriteTimeout)
	}
	return nil
}

// NewTestConfig returns a Config suitable for tests; nothing is read from the environment.
func NewTestConfig() *Config {
	return &Config{
		Debug:                     false,
		TestMode:                  true,
		Env:                       "TEST",
		Build:                     "test",
		AppName:                   "Cinderella",
		SecretKey:                 "test-secret-key",
		FrontendBaseURL:           "http://localhost:3000",
		DefaultFromEmail:          mail.Address{Name: "Cinderella", Address: "noreply@localhost"},
		PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
		Server: ServerConfig{
			Host:                      "localhost",
			ShutdownTimeout:           time.Second,
			JWTExpirationDelta:        time.Hour,
			JWTRefreshExpirationDelta: 4 * time.Hour,
		},
		Chat: ChatConfig{
			DuplicateSession:     DuplicateSessionReplace,
			SnapshotIncludesSelf: true,
			OutboundBufferSize:   16,
			WriteTimeout:         time.Second,
			PingInterval:         time.Minute,
			MaxMessageSize:       64 * 1024,
		},
	}
}
