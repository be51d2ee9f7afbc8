package config

import (
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/spothuman/spothuman/internal/game"
)

type Config struct {
	Port          string        `env:"PORT" envDefault:"8080"`
	DBPath        string        `env:"DB_PATH" envDefault:"spothuman.db"`
	OpenAIKey     string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string        `env:"OPENAI_BASE_URL"`
	OpenAIModel   string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`

	Participants int `env:"MATCH_PARTICIPANTS" envDefault:"4"`
	HumanSeats   int `env:"MATCH_HUMAN_SEATS" envDefault:"2"`
	Rounds       int `env:"MATCH_ROUNDS" envDefault:"5"`

	BotStagger   time.Duration `env:"BOT_STAGGER" envDefault:"2s"`
	QueueWorkers int           `env:"QUEUE_WORKERS" envDefault:"4"`
	QueueBuffer  int           `env:"QUEUE_BUFFER" envDefault:"256"`
}

func FromEnv() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Template translates the configured match shape, falling back to the default
// template when any dimension is unset.
func (c Config) Template() game.Template {
	t := game.DefaultTemplate
	if c.Participants > 0 {
		t.TotalParticipants = c.Participants
	}
	if c.HumanSeats > 0 {
		t.HumanSeats = c.HumanSeats
	}
	if c.Rounds > 0 {
		t.TotalRounds = c.Rounds
	}
	return t
}
