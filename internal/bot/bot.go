package bot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/catalog"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/config"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/engine"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/monitoring"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/repository"
)

// Bot is the Telegram chat surface of the exchange. It parses commands,
// resolves ticker symbols through the catalog, and renders engine results;
// every business decision lives in the ledger engine.
type Bot struct {
	api            *tgbotapi.BotAPI
	engine         *engine.LedgerEngine
	store          repository.WalletStore
	catalog        catalog.Catalog
	metrics        monitoring.MetricsService
	requestTimeout time.Duration
	updateTimeout  int
	logger         *logrus.Entry
}

func New(
	cfg config.TelegramConfig,
	ledger *engine.LedgerEngine,
	store repository.WalletStore,
	currencyCatalog catalog.Catalog,
	metrics monitoring.MetricsService,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	api.Debug = cfg.Debug

	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	updateTimeout := cfg.UpdateTimeout
	if updateTimeout <= 0 {
		updateTimeout = 60
	}

	return &Bot{
		api:            api,
		engine:         ledger,
		store:          store,
		catalog:        currencyCatalog,
		metrics:        metrics,
		requestTimeout: requestTimeout,
		updateTimeout:  updateTimeout,
		logger:         logrus.WithField("component", "telegram_bot"),
	}, nil
}

// Run consumes the update long-poll until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.WithField("username", b.api.Self.UserName).Info("Telegram bot started")

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = b.updateTimeout
	updates := b.api.GetUpdatesChan(updateConfig)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("Telegram bot stopped")
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}

	message := update.Message
	userID := strconv.FormatInt(message.From.ID, 10)
	command := message.Command()
	args := splitArgs(message.CommandArguments())

	cmdCtx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	reply := b.executeCommand(cmdCtx, userID, message.From.UserName, command, args)
	if reply == "" {
		return
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, reply)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.WithError(err).WithField("chat_id", message.Chat.ID).Error("Failed to send reply")
	}
}
