package config

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/openshelf/library-service/internal/model"
	"github.com/openshelf/library-service/pkg/auth"
	"github.com/openshelf/library-service/pkg/kafka"
	"github.com/openshelf/library-service/pkg/logger"
	"github.com/openshelf/library-service/pkg/postgres"
)

type HTTPServer struct {
	Host         string        `yaml:"host" envconfig:"HTTP_HOST" default:"0.0.0.0"`
	Port         string        `yaml:"port" envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"readTimeout" envconfig:"HTTP_READ" default:"30s"`
	WriteTimeout time.Duration
}

// Lending overrides the default lending policy from the environment.
// Limits per role stay hardcoded in the policy itself.
type Lending struct {
	DailyFineRate  string `envconfig:"DAILY_FINE_RATE" default:"1.00"`
	LoanPeriodDays int    `envconfig:"LOAN_PERIOD_DAYS" default:"14"`
	ReminderDays   int    `envconfig:"REMINDER_DAYS" default:"2"`
}

func (l Lending) Policy() model.Policy {
	p := model.DefaultPolicy()
	if rate, err := decimal.NewFromString(l.DailyFineRate); err == nil && !rate.IsNegative() {
		p.DailyFineRate = rate
	}
	if l.LoanPeriodDays > 0 {
		p.LoanPeriodDays = l.LoanPeriodDays
	}
	if l.ReminderDays > 0 {
		p.ReminderDays = l.ReminderDays
	}
	return p
}

type Config struct {
	Server   HTTPServer `yaml:"server"`
	Database postgres.Config
	Kafka    kafka.Config
	Auth     auth.Config
	Lending  Lending
	Log      logger.Log `yaml:"log"`
}

var (
	once sync.Once
	cfg  Config
)

// NewConfig reads config from environment.
func NewConfig(ops ...Option) *Config {
	once.Do(func() {
		var config Config
		for _, op := range ops {
			op(&config)
		}
		err := envconfig.Process("", &config)
		if err != nil {
			log.Fatal("NewConfig ", err)
		}
		cfg = config
		printConfig(cfg)
	})

	return &cfg
}

func printConfig(cfg Config) {
	safe := cfg
	safe.Database.Password = "***"
	safe.Auth.Secret = "***"
	jscfg, _ := json.MarshalIndent(safe, "", "	") //nolint:errcheck
	fmt.Println(string(jscfg))
}
