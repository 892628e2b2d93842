package resultlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/mssqlpool/pkg/pool"
)

// Config - подключение к Redis для публикации результатов
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Name - пространство ключей: mssqlpool:<name>:...
	Name string `yaml:"name"`

	// TTL - время жизни ключей состояния в секундах
	TTL int `yaml:"ttl"`
}

// StatementOutcome - итог одного запроса, публикуемый после выполнения
// (успешного или с ошибкой).
//
// Redis-ключи:
//
//	SET  mssqlpool:<name>:statement:last  <JSON>  EX <ttl>  - последнее состояние для GET
//	PUB  mssqlpool:<name>:statements                        - поток событий для SUBSCRIBE
type StatementOutcome struct {
	Session     string    `json:"session"`
	Mode        string    `json:"mode"`
	Pool        string    `json:"pool,omitempty"`
	ChannelID   int       `json:"channel_id,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	Status      string    `json:"status"` // "success" | "failed"
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	DurationMs  int64     `json:"duration_ms"`
	Rows        int       `json:"rows"`
	Affected    *int64    `json:"affected,omitempty"`
	ErrorNumber int32     `json:"error_number,omitempty"`
	Error       *string   `json:"error,omitempty"`
}

// StatsSource - источник снимков пула
type StatsSource interface {
	Stats() pool.Stats
}

// RedisPublisher публикует итоги запросов и статистику пула в Redis
type RedisPublisher struct {
	client *redis.Client
	config Config
	log    zerolog.Logger
}

// NewRedisPublisher создает publisher на основе конфигурации
func NewRedisPublisher(config Config) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		// дедлайн ctx ограничивает и чтение/запись сокета
		ContextTimeoutEnabled: true,
	})
	return NewWithClient(client, config)
}

// NewWithClient создает publisher поверх готового клиента.
// Close закрывает и клиента.
func NewWithClient(client *redis.Client, config Config) *RedisPublisher {
	if config.Name == "" {
		config.Name = "default"
	}
	if config.TTL <= 0 {
		config.TTL = 3600
	}
	return &RedisPublisher{
		client: client,
		config: config,
		log:    log.Logger.With().Str("component", "resultlog").Logger(),
	}
}

// StatementKey - ключ последнего итога запроса
func (p *RedisPublisher) StatementKey() string {
	return fmt.Sprintf("mssqlpool:%s:statement:last", p.config.Name)
}

// StatementChannel - канал событий запросов
func (p *RedisPublisher) StatementChannel() string {
	return fmt.Sprintf("mssqlpool:%s:statements", p.config.Name)
}

// StatsKey - ключ снимка пула
func (p *RedisPublisher) StatsKey(poolName string) string {
	return fmt.Sprintf("mssqlpool:%s:pool:%s:stats", p.config.Name, poolName)
}

// StatsChannel - канал снимков пулов
func (p *RedisPublisher) StatsChannel() string {
	return fmt.Sprintf("mssqlpool:%s:pool", p.config.Name)
}

// PublishOutcome публикует итог запроса:
//   - SET mssqlpool:<name>:statement:last <JSON> EX <ttl>  → для опроса (polling)
//   - PUBLISH mssqlpool:<name>:statements <JSON>            → для подписки (pub/sub)
func (p *RedisPublisher) PublishOutcome(ctx context.Context, outcome StatementOutcome) error {
	return p.publish(ctx, p.StatementKey(), p.StatementChannel(), outcome)
}

// PublishStats публикует снимок пула
func (p *RedisPublisher) PublishStats(ctx context.Context, stats pool.Stats) error {
	return p.publish(ctx, p.StatsKey(stats.Name), p.StatsChannel(), stats)
}

func (p *RedisPublisher) publish(ctx context.Context, key, channel string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	ttl := time.Duration(p.config.TTL) * time.Second

	if err := p.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}

	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH failed: %w", err)
	}

	return nil
}

// DefaultStatsInterval - период публикации статистики по умолчанию
const DefaultStatsInterval = 5 * time.Second

// RunStats публикует снимок src каждые interval до отмены ctx.
// Ошибки Redis логируются, цикл продолжается.
func (p *RedisPublisher) RunStats(ctx context.Context, src StatsSource, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PublishStats(ctx, src.Stats()); err != nil && ctx.Err() == nil {
				p.log.Warn().Err(err).Msg("publish pool stats")
			}
		}
	}
}

// Ping проверяет соединение с Redis
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close закрывает соединение с Redis
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
