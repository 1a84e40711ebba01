package config

import "time"

type TelegramConfig interface {
	GetBotToken() string
	GetPollTimeout() time.Duration
	GetInitDataMaxAge() time.Duration
}

type Telegram struct{}

var _ TelegramConfig = Telegram{}

func (Telegram) GetBotToken() string {
	return GetEnv("TELEGRAM_BOT_TOKEN", "")
}

func (Telegram) GetPollTimeout() time.Duration {
	return getDuration("TELEGRAM_POLL_TIMEOUT", 30*time.Second)
}

func (Telegram) GetInitDataMaxAge() time.Duration {
	return getDuration("TELEGRAM_INITDATA_MAX_AGE", 24*time.Hour)
}
