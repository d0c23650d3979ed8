package main

import (
	"time"

	"github.com/spf13/viper"

	"github.com/gkorepanov/barrier-bot/internal/splitter"
	"github.com/gkorepanov/barrier-bot/internal/zadarma"
)

func initViperDefaults() {
	// Telegram
	viper.SetDefault("telegram.base_url", "https://api.telegram.org")
	viper.SetDefault("telegram.poll_timeout", 30*time.Second)
	viper.SetDefault("telegram.max_concurrency", 8)
	viper.SetDefault("telegram.message_limit", splitter.DefaultMessageLimit)

	// MongoDB
	viper.SetDefault("mongo.uri", "mongodb://127.0.0.1:27017")
	viper.SetDefault("mongo.database", "barrierbot")
	viper.SetDefault("mongo.connect_timeout", 10*time.Second)

	// Zadarma
	viper.SetDefault("zadarma.base_url", zadarma.DefaultBaseURL)

	// Access control
	viper.SetDefault("admins.usernames", []string{})
	viper.SetDefault("admins.chat_id", int64(0))
	viper.SetDefault("support.username", "")
}
