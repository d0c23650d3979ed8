package main

import (
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gkorepanov/barrier-bot/internal/auth"
	"github.com/gkorepanov/barrier-bot/internal/bot"
	"github.com/gkorepanov/barrier-bot/internal/logutil"
	"github.com/gkorepanov/barrier-bot/internal/store"
	"github.com/gkorepanov/barrier-bot/internal/telegram"
	"github.com/gkorepanov/barrier-bot/internal/zadarma"
)

type serveConfig struct {
	TelegramToken   string        `validate:"required"`
	TelegramBaseURL string        `validate:"required,url"`
	PollTimeout     time.Duration `validate:"required"`
	MaxConcurrency  int           `validate:"min=1"`
	MessageLimit    int           `validate:"min=2"`

	MongoURI       string `validate:"required"`
	MongoDatabase  string `validate:"required"`
	ConnectTimeout time.Duration

	ZadarmaBaseURL    string `validate:"required,url"`
	ZadarmaKey        string `validate:"required"`
	ZadarmaSecret     string `validate:"required"`
	ZadarmaFromNumber string `validate:"required"`
	ZadarmaSIP        string

	AdminUsernames  []string
	AdminChatID     int64
	SupportUsername string
}

func serveConfigFromViper() serveConfig {
	return serveConfig{
		TelegramToken:   viper.GetString("telegram.token"),
		TelegramBaseURL: viper.GetString("telegram.base_url"),
		PollTimeout:     viper.GetDuration("telegram.poll_timeout"),
		MaxConcurrency:  viper.GetInt("telegram.max_concurrency"),
		MessageLimit:    viper.GetInt("telegram.message_limit"),

		MongoURI:       viper.GetString("mongo.uri"),
		MongoDatabase:  viper.GetString("mongo.database"),
		ConnectTimeout: viper.GetDuration("mongo.connect_timeout"),

		ZadarmaBaseURL:    viper.GetString("zadarma.base_url"),
		ZadarmaKey:        viper.GetString("zadarma.key"),
		ZadarmaSecret:     viper.GetString("zadarma.secret"),
		ZadarmaFromNumber: viper.GetString("zadarma.from_number"),
		ZadarmaSIP:        viper.GetString("zadarma.sip"),

		AdminUsernames:  viper.GetStringSlice("admins.usernames"),
		AdminChatID:     viper.GetInt64("admins.chat_id"),
		SupportUsername: viper.GetString("support.username"),
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot: long-poll Telegram updates and handle them until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			cfg := serveConfigFromViper()
			if err := validator.New().Struct(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, mongoClient, err := store.Connect(ctx, store.Config{
				URI:      cfg.MongoURI,
				Database: cfg.MongoDatabase,
				Timeout:  cfg.ConnectTimeout,
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := mongoClient.Disconnect(ctx); err != nil {
					logger.Warn("mongo_disconnect_error", "error", err.Error())
				}
			}()

			tg := telegram.NewClient(nil, cfg.TelegramBaseURL, cfg.TelegramToken)
			dispatcher := telegram.NewDispatcher(tg, cfg.MessageLimit, logger)
			gate := auth.NewGate(st, cfg.AdminUsernames)
			caller := zadarma.NewClient(nil, zadarma.Config{
				BaseURL:    cfg.ZadarmaBaseURL,
				APIKey:     cfg.ZadarmaKey,
				APISecret:  cfg.ZadarmaSecret,
				FromNumber: cfg.ZadarmaFromNumber,
				SIP:        cfg.ZadarmaSIP,
			})

			b := bot.New(tg, dispatcher, st, gate, caller, bot.Config{
				AdminChatID:     cfg.AdminChatID,
				SupportUsername: cfg.SupportUsername,
				PollTimeout:     cfg.PollTimeout,
				MaxConcurrency:  cfg.MaxConcurrency,
			}, logger)
			return b.Run(ctx)
		},
	}

	cmd.Flags().String("telegram-token", "", "Telegram bot token.")
	cmd.Flags().String("zadarma-key", "", "Zadarma API key.")
	cmd.Flags().String("zadarma-secret", "", "Zadarma API secret.")
	_ = viper.BindPFlag("telegram.token", cmd.Flags().Lookup("telegram-token"))
	_ = viper.BindPFlag("zadarma.key", cmd.Flags().Lookup("zadarma-key"))
	_ = viper.BindPFlag("zadarma.secret", cmd.Flags().Lookup("zadarma-secret"))

	return cmd
}
