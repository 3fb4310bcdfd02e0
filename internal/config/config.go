// Пакет config — загрузка и валидация конфигурации propfolio
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Окружения запуска.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Режимы аутентификации API.
const (
	// AuthModeEnforced — JWT обязателен для всех /api маршрутов.
	AuthModeEnforced = "enforced"
	// AuthModeBypassed — каждый запрос получает фиксированную dev-идентичность.
	// Допустим только в development.
	AuthModeBypassed = "bypassed"
)

// Config содержит все параметры конфигурации propfolio.
type Config struct {
	// --- Сервер ---

	// Окружение: development или production
	Env string
	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Таймаут одного обращения к хранилищу
	StorageTimeout time.Duration

	// --- Identity Provider ---

	// URL IdP (например, https://auth.propfolio.lan)
	IDPURL string
	// Realm в IdP
	IDPRealm string
	// Client ID/Secret сервисного клиента (Admin API, только для propfolio-admin)
	IDPClientID     string
	IDPClientSecret string

	// --- JWT ---

	// Issuer JWT (авто-вычисляется из IDPURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из IDPURL, если не задан)
	JWTJWKSURL string
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Группы IdP, дающие роль admin
	RoleAdminGroups []string

	// --- Режим аутентификации ---

	AuthMode string
	// Фиксированная идентичность для AuthModeBypassed и dev-setup
	DevUserID    string
	DevUserEmail string

	// --- Кэш пользователей ---

	UserCacheSize int
	// Время жизни записи. Роль, изменённая через propfolio-admin set-role,
	// применяется на работающих API-серверах не позже чем через этот интервал.
	UserCacheTTL time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// LoadDotEnv подгружает .env из текущего каталога, если файл существует.
// Уже заданные переменные окружения не перезаписываются.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("загрузка %s: %w", path, err)
	}
	return nil
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// PF_ENV — окружение (по умолчанию production)
	cfg.Env = getEnvDefault("PF_ENV", EnvProduction)
	if cfg.Env != EnvDevelopment && cfg.Env != EnvProduction {
		return nil, fmt.Errorf("PF_ENV: недопустимое значение %q, допустимые: development, production", cfg.Env)
	}

	cfg.Port, err = getEnvInt("PF_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("PF_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PF_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PF_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PF_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("PF_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PF_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("PF_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("PF_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("PF_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("PF_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("PF_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("PF_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("PF_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("PF_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	cfg.StorageTimeout, err = getEnvDuration("PF_STORAGE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PF_STORAGE_TIMEOUT: %w", err)
	}
	if cfg.StorageTimeout <= 0 {
		return nil, fmt.Errorf("PF_STORAGE_TIMEOUT: значение должно быть положительным")
	}

	// --- Identity Provider ---

	if cfg.IDPURL, err = getEnvRequired("PF_IDP_URL"); err != nil {
		return nil, err
	}
	cfg.IDPURL = strings.TrimRight(cfg.IDPURL, "/")
	if _, err := url.ParseRequestURI(cfg.IDPURL); err != nil {
		return nil, fmt.Errorf("PF_IDP_URL: некорректный URL %q", cfg.IDPURL)
	}

	cfg.IDPRealm = getEnvDefault("PF_IDP_REALM", "propfolio")
	// Сервисные credentials нужны только propfolio-admin, поэтому не обязательны
	cfg.IDPClientID = getEnvDefault("PF_IDP_CLIENT_ID", "")
	cfg.IDPClientSecret = getEnvDefault("PF_IDP_CLIENT_SECRET", "")

	// --- JWT ---

	cfg.JWTIssuer = getEnvDefault("PF_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.IDPURL, cfg.IDPRealm))
	cfg.JWTJWKSURL = getEnvDefault("PF_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.IDPURL, cfg.IDPRealm))

	cfg.JWKSRefreshInterval, err = getEnvDuration("PF_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PF_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("PF_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PF_JWT_LEEWAY: %w", err)
	}

	cfg.RoleAdminGroups = parseCSV(getEnvDefault("PF_ROLE_ADMIN_GROUPS", "propfolio-admins"))

	// --- Режим аутентификации ---

	cfg.AuthMode = getEnvDefault("PF_AUTH_MODE", AuthModeEnforced)
	if cfg.AuthMode != AuthModeEnforced && cfg.AuthMode != AuthModeBypassed {
		return nil, fmt.Errorf("PF_AUTH_MODE: недопустимое значение %q, допустимые: enforced, bypassed", cfg.AuthMode)
	}
	if cfg.AuthMode == AuthModeBypassed && cfg.Env != EnvDevelopment {
		return nil, fmt.Errorf("PF_AUTH_MODE: режим bypassed разрешён только при PF_ENV=development")
	}

	cfg.DevUserID = getEnvDefault("PF_DEV_USER_ID", "00000000-0000-4000-8000-000000000001")
	if _, err := uuid.Parse(cfg.DevUserID); err != nil {
		return nil, fmt.Errorf("PF_DEV_USER_ID: ожидается UUID, получено %q", cfg.DevUserID)
	}
	cfg.DevUserEmail = getEnvDefault("PF_DEV_USER_EMAIL", "dev@propfolio.local")

	// --- Кэш пользователей ---

	cfg.UserCacheSize, err = getEnvInt("PF_USER_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("PF_USER_CACHE_SIZE: %w", err)
	}
	if cfg.UserCacheSize < 1 {
		return nil, fmt.Errorf("PF_USER_CACHE_SIZE: значение %d должно быть >= 1", cfg.UserCacheSize)
	}
	cfg.UserCacheTTL, err = getEnvDuration("PF_USER_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PF_USER_CACHE_TTL: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("PF_DEPHEALTH_GROUP", "propfolio")
	cfg.DephealthCheckInterval, err = getEnvDuration("PF_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PF_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("PF_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PF_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// IsDevelopment сообщает, запущен ли сервис в development-окружении.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
