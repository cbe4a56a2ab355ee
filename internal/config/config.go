// Package config читает конфигурацию сервисов из переменных окружения.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/shaiso/metamigrate/internal/domain"
)

// Config — конфигурация, общая для всех бинарников.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	DBURL       string `env:"DB_URL"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	AWSRegion   string `env:"AWS_REGION"`

	// Database — имя базы metadata manager, передаётся шагу бэкапа.
	Database string `env:"DATABASE_NAME" envDefault:"metadata_manager"`

	Backup  StepConfig `envPrefix:"BACKUP_"`
	Migrate StepConfig `envPrefix:"MIGRATE_"`

	Ports        PortsConfig
	Orchestrator OrchestratorConfig
	Worker       WorkerConfig
	Events       EventsConfig
	Schedule     ScheduleConfig
	Trigger      TriggerConfig
}

// PortsConfig — HTTP порты сервисов.
type PortsConfig struct {
	API          int `env:"API_PORT" envDefault:"8080"`
	Scheduler    int `env:"SCHED_PORT" envDefault:"8081"`
	Orchestrator int `env:"ORCH_PORT" envDefault:"8082"`
	Worker       int `env:"WORKER_PORT" envDefault:"8083"`
}

// StepConfig — куда и как вызывать шаг.
type StepConfig struct {
	// Kind — sfn, lambda или http.
	Kind string `env:"TARGET_KIND"`

	// Target — ARN state machine, имя функции или URL.
	Target string `env:"TARGET"`

	// Mode — sync (ждём результат) или async. Бэкап всегда sync.
	Mode string `env:"MODE" envDefault:"sync"`

	Timeout time.Duration `env:"TIMEOUT"`
}

// StepTarget возвращает цель шага.
func (s StepConfig) StepTarget() domain.StepTarget {
	return domain.StepTarget{Kind: domain.TargetKind(s.Kind), Name: s.Target}
}

// InvocationMode возвращает режим вызова шага.
func (s StepConfig) InvocationMode() domain.InvocationMode {
	return domain.InvocationMode(s.Mode)
}

// OrchestratorConfig — параметры оркестратора.
type OrchestratorConfig struct {
	PollInterval time.Duration `env:"ORCH_POLL_INTERVAL" envDefault:"10s"`
	TimeoutGrace time.Duration `env:"ORCH_TIMEOUT_GRACE" envDefault:"30s"`
	BatchSize    int           `env:"ORCH_BATCH_SIZE" envDefault:"50"`

	// LocalWorker — выполнять шаги в процессе оркестратора, без RabbitMQ.
	LocalWorker bool `env:"ORCH_LOCAL_WORKER" envDefault:"false"`
}

// WorkerConfig — параметры воркера.
type WorkerConfig struct {
	// Concurrency — сколько шагов воркер выполняет одновременно.
	Concurrency     int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	SFNPollInterval time.Duration `env:"WORKER_SFN_POLL_INTERVAL" envDefault:"5s"`
}

// EventsConfig — публикация событий смены состояния в EventBridge.
type EventsConfig struct {
	// BusName — пусто, если события не публикуются.
	BusName string `env:"EVENT_BUS_NAME"`
	Source  string `env:"EVENT_SOURCE" envDefault:"orcabus.metadatamigrate"`
}

// ScheduleConfig — запуск workflow по расписанию.
type ScheduleConfig struct {
	// Cron — 5-польное cron выражение; пусто — расписание выключено.
	Cron     string        `env:"SCHEDULE_CRON"`
	Timezone string        `env:"SCHEDULE_TIMEZONE" envDefault:"UTC"`
	Tick     time.Duration `env:"SCHEDULE_TICK" envDefault:"15s"`
}

// TriggerConfig — параметры Lambda-триггера.
type TriggerConfig struct {
	// EventSource — invoke (прямой вызов) или cloudformation (custom resource).
	EventSource string `env:"TRIGGER_EVENT_SOURCE" envDefault:"invoke"`
}

// Load читает конфигурацию из окружения и проверяет её.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyStepDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyStepDefaults заполняет умолчания шагов.
//
// Бэкап по умолчанию — Step Functions, миграция — Lambda с таймаутом 5 минут.
func (c *Config) applyStepDefaults() {
	if c.Backup.Kind == "" {
		c.Backup.Kind = string(domain.TargetStateMachine)
	}
	if c.Backup.Timeout == 0 {
		c.Backup.Timeout = 30 * time.Minute
	}
	if c.Migrate.Kind == "" {
		c.Migrate.Kind = string(domain.TargetLambda)
	}
	if c.Migrate.Timeout == 0 {
		c.Migrate.Timeout = 5 * time.Minute
	}
}

// Validate проверяет корректность конфигурации.
func (c *Config) Validate() error {
	var errs []error

	for name, step := range map[string]StepConfig{"backup": c.Backup, "migrate": c.Migrate} {
		switch domain.TargetKind(step.Kind) {
		case domain.TargetStateMachine, domain.TargetLambda, domain.TargetHTTP:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown target kind %q", name, step.Kind))
		}
		switch domain.InvocationMode(step.Mode) {
		case domain.ModeSync, domain.ModeAsync:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown mode %q", name, step.Mode))
		}
		if step.Timeout < time.Second {
			errs = append(errs, fmt.Errorf("%s: timeout must be at least 1s", name))
		}
	}

	// Миграция стартует только после завершения бэкапа, поэтому бэкап ждём всегда.
	if domain.InvocationMode(c.Backup.Mode) == domain.ModeAsync {
		errs = append(errs, errors.New("BACKUP_MODE must be sync"))
	}

	if c.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be positive"))
	}

	if c.Database == "" {
		errs = append(errs, errors.New("DATABASE_NAME is required"))
	}

	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("invalid log level: %s", c.LogLevel))
	}

	switch c.Trigger.EventSource {
	case "invoke", "cloudformation":
	default:
		errs = append(errs, fmt.Errorf("invalid trigger event source: %s", c.Trigger.EventSource))
	}

	return errors.Join(errs...)
}

// RequireTargets проверяет, что цели шагов заданы.
// Нужна только процессам, которые действительно вызывают шаги.
func (c *Config) RequireTargets() error {
	var errs []error
	if c.Backup.Target == "" {
		errs = append(errs, errors.New("BACKUP_TARGET is required"))
	}
	if c.Migrate.Target == "" {
		errs = append(errs, errors.New("MIGRATE_TARGET is required"))
	}
	return errors.Join(errs...)
}

// Addr возвращает адрес для http.ListenAndServe.
func Addr(port int) string {
	return fmt.Sprintf(":%d", port)
}
