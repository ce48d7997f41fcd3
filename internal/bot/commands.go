package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/catalog"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/engine"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/models"
)

const welcomeMessage = `Welcome to the crypto exchange simulator!

Available commands:
/balance - show your wallet
/deposit <amount> - deposit USD
/buy <amount> <currency> - buy crypto with USD
/sell <amount> <currency> - sell crypto for USD
/swap <amount> <from> <to> - swap one crypto for another
/transactions [n] - show your latest transactions`

// executeCommand runs one bot command and returns the reply text. It never
// panics and never surfaces internal errors to the chat.
func (b *Bot) executeCommand(ctx context.Context, userID, username, command string, args []string) string {
	var reply string
	switch command {
	case "start":
		reply = b.handleStart(ctx, userID, username)
	case "balance":
		reply = b.handleBalance(ctx, userID)
	case "deposit":
		reply = b.handleDeposit(ctx, userID, args)
	case "buy":
		reply = b.handleTrade(ctx, userID, engine.SideBuy, args)
	case "sell":
		reply = b.handleTrade(ctx, userID, engine.SideSell, args)
	case "swap":
		reply = b.handleSwap(ctx, userID, args)
	case "transactions":
		reply = b.handleTransactions(ctx, userID, args)
	default:
		reply = "Unknown command. Send /start to see what I can do."
	}

	if b.metrics != nil {
		status := "ok"
		if strings.HasPrefix(reply, "Usage:") || strings.HasPrefix(reply, "Unknown") {
			status = "usage_error"
		}
		b.metrics.RecordBotCommand(command, status)
	}
	return reply
}

func (b *Bot) handleStart(ctx context.Context, userID, username string) string {
	if err := b.store.EnsureUser(ctx, userID, username); err != nil {
		b.logger.WithError(err).WithField("user_id", userID).Error("Failed to register user")
		return "Something went wrong, please try again later."
	}
	if _, err := b.store.GetOrCreateWallet(ctx, userID); err != nil {
		b.logger.WithError(err).WithField("user_id", userID).Error("Failed to create wallet")
		return "Something went wrong, please try again later."
	}
	return welcomeMessage
}

func (b *Bot) handleBalance(ctx context.Context, userID string) string {
	wallet, err := b.store.GetOrCreateWallet(ctx, userID)
	if err != nil {
		b.logger.WithError(err).WithField("user_id", userID).Error("Failed to load wallet")
		return "Send /start first to create your wallet."
	}
	return renderBalances(wallet.Balances)
}

func (b *Bot) handleDeposit(ctx context.Context, userID string, args []string) string {
	if len(args) != 1 {
		return "Usage: /deposit <amount>"
	}
	amount, err := parseAmount(args[0])
	if err != nil {
		return "Invalid amount. Example: /deposit 1000"
	}
	result := b.engine.Deposit(ctx, userID, amount)
	return result.Message
}

func (b *Bot) handleTrade(ctx context.Context, userID, side string, args []string) string {
	if len(args) != 2 {
		return fmt.Sprintf("Usage: /%s <amount> <currency>", side)
	}
	amount, err := parseAmount(args[0])
	if err != nil {
		return fmt.Sprintf("Invalid amount. Example: /%s 0.5 BTC", side)
	}

	currencyID, result := b.resolveCurrency(ctx, args[1])
	if result != "" {
		return result
	}

	return b.engine.Trade(ctx, userID, side, amount, currencyID).Message
}

func (b *Bot) handleSwap(ctx context.Context, userID string, args []string) string {
	if len(args) != 3 {
		return "Usage: /swap <amount> <from> <to>"
	}
	amount, err := parseAmount(args[0])
	if err != nil {
		return "Invalid amount. Example: /swap 1 BTC ETH"
	}

	fromCurrency, reply := b.resolveCurrency(ctx, args[1])
	if reply != "" {
		return reply
	}
	toCurrency, reply := b.resolveCurrency(ctx, args[2])
	if reply != "" {
		return reply
	}

	return b.engine.Swap(ctx, userID, amount, fromCurrency, toCurrency).Message
}

func (b *Bot) handleTransactions(ctx context.Context, userID string, args []string) string {
	limit := 0
	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed <= 0 {
			return "Usage: /transactions [n]"
		}
		limit = parsed
	}

	result := b.engine.ListTransactions(ctx, userID, models.TransactionFilter{Limit: limit})
	if !result.Success {
		if result.Status == engine.StatusNotFound {
			return "Send /start first to create your wallet."
		}
		return result.Message
	}
	return renderTransactions(result.Transactions)
}

// resolveCurrency maps user input ("BTC", "bitcoin") to a canonical coin ID.
// The second return value is a non-empty reply when resolution failed.
func (b *Bot) resolveCurrency(ctx context.Context, input string) (string, string) {
	currencyID, err := b.catalog.ResolveSymbol(ctx, input)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownCurrency) {
			return "", "Currency not supported"
		}
		b.logger.WithError(err).WithField("input", input).Error("Currency resolution failed")
		return "", "Something went wrong, please try again later."
	}
	return currencyID, ""
}

func parseAmount(input string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(input))
	if err != nil {
		return decimal.Decimal{}, err
	}
	return amount, nil
}

func renderBalances(balances models.BalanceMap) string {
	nonZero := make([]string, 0, len(balances))
	for _, currency := range sortedCurrencies(balances) {
		amount := balances[currency]
		if amount.IsZero() {
			continue
		}
		nonZero = append(nonZero, fmt.Sprintf("%s: %s", currency, amount.String()))
	}
	if len(nonZero) == 0 {
		return "Your wallet is empty. Use /deposit to add funds."
	}
	return "Your balances:\n" + strings.Join(nonZero, "\n")
}

func renderTransactions(transactions []*models.Transaction) string {
	if len(transactions) == 0 {
		return "No transactions yet."
	}

	lines := make([]string, 0, len(transactions)+1)
	lines = append(lines, "Your latest transactions:")
	for _, txn := range transactions {
		lines = append(lines, fmt.Sprintf("%s | %s | %s",
			txn.CreatedAt.Format("2006-01-02 15:04"), txn.Type, txn.Description()))
	}
	return strings.Join(lines, "\n")
}

func sortedCurrencies(balances models.BalanceMap) []string {
	currencies := make([]string, 0, len(balances))
	// USD leads, the rest alphabetical.
	if _, ok := balances[models.CurrencyUSD]; ok {
		currencies = append(currencies, models.CurrencyUSD)
	}
	rest := make([]string, 0, len(balances))
	for currency := range balances {
		if currency != models.CurrencyUSD {
			rest = append(rest, currency)
		}
	}
	sort.Strings(rest)
	return append(currencies, rest...)
}

func splitArgs(raw string) []string {
	return strings.Fields(raw)
}
