package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/annel0/voxelstore/internal/world/block"
)

// Config корневая структура конфигурации приложения
type Config struct {
	World   WorldConfig   `yaml:"world"`
	Blocks  []BlockEntry  `yaml:"blocks"`
	Storage StorageConfig `yaml:"storage"`
	Gen     GenConfig     `yaml:"gen"`
	Metrics MetricsConfig `yaml:"metrics"`
	API     APIConfig     `yaml:"api"`
	Tracing TracingConfig `yaml:"tracing"`
	Logging LoggingConfig `yaml:"logging"`
	Events  EventsConfig  `yaml:"events"`
}

type WorldConfig struct {
	ID           string `yaml:"id"`            // Пустой: "default"
	RegistryBase uint16 `yaml:"registry_base"` // Первое выдаваемое состояние
}

// BlockEntry описывает строку палитры блоков
type BlockEntry struct {
	ID       string `yaml:"id"`
	Buffered bool   `yaml:"buffered"`
}

type StorageConfig struct {
	Backend     string      `yaml:"backend"`     // memory | badger | file | redis | maria | mongo | none
	Path        string      `yaml:"path"`        // Каталог для badger и file
	Compression string      `yaml:"compression"` // none | fastest | default | better | best
	Redis       RedisConfig `yaml:"redis"`
	Maria       MariaConfig `yaml:"maria"`
	Mongo       MongoConfig `yaml:"mongo"`
	Cache       CacheConfig `yaml:"cache"`
}

// CacheConfig описывает горячий кеш перед хранилищем
type CacheConfig struct {
	Backend    string      `yaml:"backend"`  // none | memory | redis
	Capacity   int         `yaml:"capacity"` // Записей в memory-кеше
	TTLSeconds int         `yaml:"ttl_seconds"`
	Redis      RedisConfig `yaml:"redis"`
	NATSURL    string      `yaml:"nats_url"` // Пустой: без межузловой инвалидации
	NodeID     string      `yaml:"node_id"`
}

// TTL возвращает время жизни записей кеша
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// TTL возвращает время жизни записей
func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

type MariaConfig struct {
	DSN string `yaml:"dsn"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type GenConfig struct {
	Seed     int64 `yaml:"seed"`
	Radius   int   `yaml:"radius"` // Радиус области в колонках
	SeaLevel int   `yaml:"sea_level"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// GetPort возвращает порт метрик с поддержкой fallback значений
func (m *MetricsConfig) GetPort() int {
	return getPortWithEnvFallback(m.Port, "VOXEL_METRICS_PORT", 2112)
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Secret  string `yaml:"secret"` // base64, не короче 32 байт; пустой: запись через API закрыта
}

// GetSecret возвращает секрет подписи токенов: config -> env VOXEL_API_SECRET
func (a *APIConfig) GetSecret() string {
	if a.Secret != "" {
		return a.Secret
	}
	return os.Getenv("VOXEL_API_SECRET")
}

// GetPort возвращает порт REST API с поддержкой fallback значений
func (a *APIConfig) GetPort() int {
	return getPortWithEnvFallback(a.Port, "VOXEL_REST_PORT", 8088)
}

type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	Endpoint       string  `yaml:"endpoint"` // host:port коллектора; пустой: OTEL_EXPORTER_OTLP_* или localhost:4318
	Insecure       bool    `yaml:"insecure"`
	SampleRatio    float64 `yaml:"sample_ratio"` // 0 или 1: все трассы
}

// GetServiceName возвращает имя сервиса для ресурса трассировки
func (t TracingConfig) GetServiceName() string {
	if t.ServiceName == "" {
		return "voxelstore"
	}
	return t.ServiceName
}

// GetServiceVersion возвращает версию сервиса; по умолчанию "dev"
func (t TracingConfig) GetServiceVersion() string {
	if t.ServiceVersion == "" {
		return "dev"
	}
	return t.ServiceVersion
}

// EventsConfig описывает ленту событий о сохранённых колонках
type EventsConfig struct {
	Backend        string `yaml:"backend"` // none | memory | jetstream
	NATSURL        string `yaml:"nats_url"`
	Stream         string `yaml:"stream"`
	RetentionHours int    `yaml:"retention_hours"`
	BufferSize     int    `yaml:"buffer_size"`
}

// Retention возвращает срок хранения событий в стриме
func (e EventsConfig) Retention() time.Duration {
	if e.RetentionHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(e.RetentionHours) * time.Hour
}

type LoggingConfig struct {
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
	Dir          string `yaml:"dir"` // Пустой: только консоль
}

// Palette преобразует блоки конфигурации в палитру реестра
func (c *Config) Palette() []block.Entry {
	entries := make([]block.Entry, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		entries = append(entries, block.Entry{ID: block.ID(b.ID), Buffered: b.Buffered})
	}
	return entries
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		World: WorldConfig{RegistryBase: 1},
		Blocks: []BlockEntry{
			{ID: "air"},
			{ID: "stone"},
			{ID: "dirt"},
			{ID: "grass"},
			{ID: "sand"},
			{ID: "water"},
			{ID: "sign", Buffered: true},
		},
		Storage: StorageConfig{
			Backend:     "memory",
			Path:        "data",
			Compression: "default",
			Redis:       RedisConfig{Addr: "localhost:6379"},
		},
		Gen: GenConfig{Seed: 12345, Radius: 4, SeaLevel: 62},
		Tracing: TracingConfig{ServiceName: "voxelstore"},
		Logging: LoggingConfig{ConsoleLevel: "INFO", FileLevel: "DEBUG"},
	}
}

// Validate проверяет согласованность значений
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "", "none", "memory", "badger", "file", "redis", "maria", "mongo":
	default:
		return fmt.Errorf("неизвестный backend хранилища: %q", c.Storage.Backend)
	}
	switch c.Events.Backend {
	case "", "none", "memory", "jetstream":
	default:
		return fmt.Errorf("неизвестный backend событий: %q", c.Events.Backend)
	}
	switch c.Storage.Cache.Backend {
	case "", "none", "memory", "redis":
	default:
		return fmt.Errorf("неизвестный backend кеша: %q", c.Storage.Cache.Backend)
	}
	seen := make(map[string]struct{}, len(c.Blocks))
	for i, b := range c.Blocks {
		if b.ID == "" {
			return fmt.Errorf("blocks[%d]: пустой идентификатор", i)
		}
		if _, dup := seen[b.ID]; dup {
			return fmt.Errorf("blocks[%d]: повторный идентификатор %q", i, b.ID)
		}
		seen[b.ID] = struct{}{}
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("tracing.sample_ratio вне [0, 1]: %v", r)
	}
	if c.Gen.Radius < 0 {
		return fmt.Errorf("gen.radius не может быть отрицательным: %d", c.Gen.Radius)
	}
	return nil
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать путь из ENV VOXEL_CONFIG; если не задан и он,
// возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("VOXEL_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
