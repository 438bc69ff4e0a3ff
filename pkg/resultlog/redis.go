// Package resultlog публикует итог запуска импорта в Redis, чтобы
// оркестратор мог опрашивать состояние или подписаться на событие.
package resultlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/ruslano69/forum-migrator/pkg/importer"
)

// Config - параметры публикации. Пустой Address - публикация отключена.
type Config struct {
	Address  string        `yaml:"address" env:"RESULT_REDIS_ADDR"`
	Password string        `yaml:"password" env:"RESULT_REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"RESULT_REDIS_DB"`
	Name     string        `yaml:"name" env:"RESULT_NAME" env-default:"flarum"`
	Prefix   string        `yaml:"prefix" env:"RESULT_PREFIX" env-default:"forum"`
	TTL      time.Duration `yaml:"ttl" env:"RESULT_TTL" env-default:"1h"`
}

// Enabled - задан ли адрес Redis
func (c Config) Enabled() bool { return c.Address != "" }

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Name == "" {
		return errors.New("result_log: name is required")
	}
	if c.TTL < 0 {
		return errors.Errorf("result_log: negative ttl %s", c.TTL)
	}
	return nil
}

// StateKey - ключ с последним состоянием
func (c Config) StateKey() string { return c.Prefix + ":import:" + c.Name + ":state" }

// Channel - канал события о завершении
func (c Config) Channel() string { return c.Prefix + ":import:" + c.Name }

// Result - состояние запуска, которое видит оркестратор
//
//	SET     <prefix>:import:<name>:state <JSON> EX <ttl>
//	PUBLISH <prefix>:import:<name> <JSON>
type Result struct {
	RunID      string                `json:"run_id"`
	Name       string                `json:"name"`
	Status     string                `json:"status"` // success | partial | failed
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	DurationMs int64                 `json:"duration_ms"`
	Phases     []importer.PhaseStats `json:"phases"`
	Error      *string               `json:"error,omitempty"`
}

// NewResult строит Result из итога запуска
func NewResult(name string, run importer.RunStats, runErr error) Result {
	r := Result{
		RunID:      run.RunID,
		Name:       name,
		Status:     "success",
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		DurationMs: run.Duration.Milliseconds(),
		Phases:     run.Phases,
	}
	for _, p := range run.Phases {
		if p.Skipped > 0 || p.Degraded > 0 {
			r.Status = "partial"
		}
	}
	if runErr != nil {
		r.Status = "failed"
		msg := runErr.Error()
		r.Error = &msg
	}
	return r
}

// Publisher публикует результаты запуска
type Publisher struct {
	client redis.UniversalClient
	cfg    Config
	owned  bool
}

// NewPublisher подключается к Redis по конфигурации
func NewPublisher(cfg Config) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, errors.New("result_log: address is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Publisher{client: client, cfg: cfg, owned: true}, nil
}

// NewPublisherWithClient использует готовый клиент; Close его не закрывает
func NewPublisherWithClient(client redis.UniversalClient, cfg Config) *Publisher {
	return &Publisher{client: client, cfg: cfg}
}

// Publish сохраняет состояние с TTL и рассылает событие.
// Вызывается при любом исходе запуска; runErr == nil - успех.
func (p *Publisher) Publish(ctx context.Context, run importer.RunStats, runErr error) error {
	payload, err := json.Marshal(NewResult(p.cfg.Name, run, runErr))
	if err != nil {
		return errors.Wrap(err, "marshal result")
	}

	if err := p.client.Set(ctx, p.cfg.StateKey(), payload, p.cfg.TTL).Err(); err != nil {
		return errors.Wrap(err, "redis SET")
	}
	if err := p.client.Publish(ctx, p.cfg.Channel(), payload).Err(); err != nil {
		return errors.Wrap(err, "redis PUBLISH")
	}
	return nil
}

// Last читает последнее опубликованное состояние; ok == false - ключа нет
func (p *Publisher) Last(ctx context.Context) (Result, bool, error) {
	raw, err := p.client.Get(ctx, p.cfg.StateKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, errors.Wrap(err, "redis GET")
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return Result{}, false, errors.Wrap(err, "decode result")
	}
	return r, true, nil
}

// Close закрывает соединение, если клиент создан Publisher'ом
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.client.Close()
}
