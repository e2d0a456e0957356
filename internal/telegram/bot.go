package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/photoremix/internal/config"
	"github.com/digkill/photoremix/internal/models"
	"github.com/digkill/photoremix/internal/service"
)

const (
	identityPrefix       = "telegram:"
	providerTelegram     = "telegram"
	checkoutPollInterval = 500 * time.Millisecond
	checkoutPollTimeout  = 20 * time.Second
)

var errNotImage = errors.New("not an image")

type Bot struct {
	cfg         config.Config
	api         *tgbotapi.BotAPI
	log         *slog.Logger
	ledger      *service.Ledger
	settings    *service.SettingsService
	generations *service.GenerationService
	payments    *service.PaymentService
	checkout    *service.CheckoutService
	state       *StateManager
	httpClient  *http.Client
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, ledger *service.Ledger, settings *service.SettingsService, generations *service.GenerationService, payments *service.PaymentService, checkout *service.CheckoutService) *Bot {
	return &Bot{
		cfg:         cfg,
		api:         api,
		log:         log,
		ledger:      ledger,
		settings:    settings,
		generations: generations,
		payments:    payments,
		checkout:    checkout,
		state:       NewStateManager(),
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}
}

// IdentityFor maps a Telegram user id onto an account identity.
func IdentityFor(userID int64) string {
	return identityPrefix + strconv.FormatInt(userID, 10)
}

// userIDFrom reverses IdentityFor. ok is false for identities the bot does not own.
func userIDFrom(identity string) (int64, bool) {
	raw, found := strings.CutPrefix(identity, identityPrefix)
	if !found {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "username", b.api.Self.UserName)

	for {
		select {
		case update := <-updates:
			switch {
			case update.Message != nil:
				b.handleMessage(ctx, update.Message)
			case update.PreCheckoutQuery != nil:
				b.handlePreCheckout(update.PreCheckoutQuery)
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	identity := IdentityFor(msg.From.ID)
	b.state.Remember(identity, msg.Chat.ID)

	if msg.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, identity, msg)
		return
	}
	if len(msg.Photo) > 0 || msg.Document != nil {
		b.handlePhoto(ctx, identity, msg)
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, identity, msg)
		return
	}
	b.sendText(msg.Chat.ID, "Send me a photo to remix it, or /help for commands.")
}

func (b *Bot) handleCommand(ctx context.Context, identity string, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		settings, err := b.settings.Snapshot(ctx)
		if err != nil {
			b.log.Error("load settings", "err", err)
			return
		}
		acc, err := b.ledger.GetOrCreateAccount(ctx, settings, identity)
		if err != nil {
			b.log.Error("ensure account", "identity", identity, "err", err)
			return
		}
		b.sendText(msg.Chat.ID, fmt.Sprintf(
			"Hi %s!\n\nSend a photo and I will remix it. Each remix costs 1 credit; you have %d.\n\nCommands:\n/balance - check your credits\n/buy [packs] - buy %d credits per pack\n/retry - retry your last failed remix",
			msg.From.FirstName, acc.Credits, settings.CreditsPerPack,
		))
	case "balance":
		b.handleBalance(ctx, identity, msg.Chat.ID)
	case "buy":
		b.handleBuy(ctx, identity, msg)
	case "retry":
		b.handleRetry(ctx, identity, msg.Chat.ID)
	default:
		b.sendText(msg.Chat.ID, "Unknown command. Try /help.")
	}
}

func (b *Bot) handleBalance(ctx context.Context, identity string, chatID int64) {
	settings, err := b.settings.Snapshot(ctx)
	if err != nil {
		b.log.Error("load settings", "err", err)
		return
	}
	acc, err := b.ledger.GetOrCreateAccount(ctx, settings, identity)
	if err != nil {
		b.log.Error("ensure account balance", "identity", identity, "err", err)
		b.sendText(chatID, "Could not load your balance, try again later.")
		return
	}
	b.sendText(chatID, fmt.Sprintf("Balance: %d credits.", acc.Credits))
}

func (b *Bot) handlePhoto(ctx context.Context, identity string, msg *tgbotapi.Message) {
	data, contentType, err := b.downloadPhoto(ctx, msg)
	if err != nil {
		if errors.Is(err, errNotImage) {
			b.sendText(msg.Chat.ID, "That is not an image. Send a photo or an image file.")
			return
		}
		b.log.Error("download photo", "identity", identity, "err", err)
		b.sendText(msg.Chat.ID, "Could not read your photo, try again.")
		return
	}

	handle, err := b.generations.Upload(ctx, data, contentType)
	if err != nil {
		b.replyError(msg.Chat.ID, err)
		return
	}

	req := service.SubmitRequest{Handle: handle}
	if len(msg.Photo) > 0 {
		largest := msg.Photo[len(msg.Photo)-1]
		req.Width, req.Height = largest.Width, largest.Height
	}
	asset, err := b.generations.Submit(ctx, identity, req)
	if err != nil {
		b.replyError(msg.Chat.ID, err)
		return
	}
	b.state.SetLastOriginal(identity, asset.ID)
	b.sendText(msg.Chat.ID, "Got it! Your remix is on its way, this can take a minute or two.")
}

func (b *Bot) handleRetry(ctx context.Context, identity string, chatID int64) {
	session, ok := b.state.Get(identity)
	if !ok || session.LastOriginalID == "" {
		b.sendText(chatID, "Nothing to retry yet. Send a photo first.")
		return
	}
	if _, err := b.generations.Retry(ctx, identity, session.LastOriginalID); err != nil {
		b.replyError(chatID, err)
		return
	}
	b.sendText(chatID, "Retrying your last remix.")
}

func (b *Bot) handleBuy(ctx context.Context, identity string, msg *tgbotapi.Message) {
	quantity := 1
	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			b.sendText(msg.Chat.ID, "Usage: /buy [packs]")
			return
		}
		quantity = n
	}

	if strings.TrimSpace(b.cfg.TelegramPayToken) != "" {
		if err := b.sendInvoice(ctx, msg.Chat.ID, quantity); err != nil {
			b.log.Error("send invoice", "identity", identity, "err", err)
			b.sendText(msg.Chat.ID, "Could not create an invoice, try again later.")
		}
		return
	}

	session, err := b.checkout.Start(ctx, identity, quantity)
	if err != nil {
		b.replyError(msg.Chat.ID, err)
		return
	}
	go b.deliverCheckoutLink(context.WithoutCancel(ctx), identity, msg.Chat.ID, session.ID)
}

// deliverCheckoutLink polls the session until the provider call finished and
// sends the resulting link.
func (b *Bot) deliverCheckoutLink(ctx context.Context, identity string, chatID int64, sessionID string) {
	ctx, cancel := context.WithTimeout(ctx, checkoutPollTimeout)
	defer cancel()
	ticker := time.NewTicker(checkoutPollInterval)
	defer ticker.Stop()

	for {
		session, err := b.checkout.Get(ctx, identity, sessionID)
		if err != nil {
			b.log.Error("poll checkout", "session_id", sessionID, "err", err)
			b.sendText(chatID, "Could not start the payment, try again later.")
			return
		}
		switch session.Status {
		case models.CheckoutCompleted:
			b.sendText(chatID, fmt.Sprintf("Pay here: %s\nCredits are added as soon as the payment goes through.", session.URL))
			return
		case models.CheckoutFailed:
			b.sendText(chatID, "Could not start the payment, try again later.")
			return
		}
		select {
		case <-ctx.Done():
			b.log.Warn("checkout still pending", "session_id", sessionID)
			b.sendText(chatID, "Payment is taking longer than usual, try /buy again in a moment.")
			return
		case <-ticker.C:
		}
	}
}

type invoicePayload struct {
	Quantity int `json:"quantity"`
}

func (b *Bot) sendInvoice(ctx context.Context, chatID int64, quantity int) error {
	settings, err := b.settings.Snapshot(ctx)
	if err != nil {
		return err
	}
	payload, _ := json.Marshal(invoicePayload{Quantity: quantity})
	prices := []tgbotapi.LabeledPrice{
		{
			Label:  fmt.Sprintf("%d credits", settings.CreditsPerPack*quantity),
			Amount: int(settings.PackPriceMinor) * quantity,
		},
	}
	invoice := tgbotapi.NewInvoice(chatID,
		"Photo credits",
		fmt.Sprintf("%d pack(s) of %d remix credits", quantity, settings.CreditsPerPack),
		string(payload),
		b.cfg.TelegramPayToken,
		"credits",
		strings.ToUpper(settings.Currency),
		prices,
	)
	if _, err := b.api.Send(invoice); err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}
	return nil
}

func (b *Bot) handlePreCheckout(query *tgbotapi.PreCheckoutQuery) {
	response := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	}
	if _, err := b.api.Request(response); err != nil {
		b.log.Error("answer pre-checkout", "err", err)
	}
}

// handleSuccessfulPayment credits a Telegram payment. The charge id is the
// order key, so a repeated update grants nothing.
func (b *Bot) handleSuccessfulPayment(ctx context.Context, identity string, msg *tgbotapi.Message) {
	payment := msg.SuccessfulPayment
	var payload invoicePayload
	if err := json.Unmarshal([]byte(payment.InvoicePayload), &payload); err != nil {
		b.log.Warn("parse invoice payload; assuming one pack", "err", err)
	}

	res, err := b.payments.ProcessPaidOrder(ctx, service.PaidOrder{
		OrderID:     providerTelegram + ":" + payment.TelegramPaymentChargeID,
		Identity:    identity,
		Provider:    providerTelegram,
		ProviderRef: payment.ProviderPaymentChargeID,
		AmountMinor: int64(payment.TotalAmount),
		Currency:    payment.Currency,
		Quantity:    payload.Quantity,
	})
	if err != nil {
		b.log.Error("process telegram payment", "identity", identity, "charge_id", payment.TelegramPaymentChargeID, "err", err)
		b.sendText(msg.Chat.ID, "Payment received but crediting failed. Support has been notified.")
		return
	}
	if res.Skipped {
		return
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf("Payment received! +%d credits, balance %d.", res.Granted, res.Balance))
}

// GenerationCompleted sends the result to the owner when the owner is a Telegram user.
func (b *Bot) GenerationCompleted(ctx context.Context, original, generated *models.Asset) {
	chatID, ok := b.chatFor(original.Owner)
	if !ok {
		return
	}
	view, err := b.generations.Get(ctx, original.Owner, generated.ID)
	if err != nil || view.Generated == nil || view.Generated.URL == "" {
		b.log.Error("resolve generated url", "asset_id", generated.ID, "err", err)
		b.sendText(chatID, "Your remix is ready but could not be delivered here.")
		return
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(view.Generated.URL))
	photo.Caption = "Your remix is ready!"
	if _, err := b.api.Send(photo); err != nil {
		b.log.Error("send result", "asset_id", generated.ID, "err", err)
	}
}

func (b *Bot) GenerationFailed(_ context.Context, original *models.Asset) {
	chatID, ok := b.chatFor(original.Owner)
	if !ok {
		return
	}
	b.sendText(chatID, "The remix failed. If refunds are enabled your credit is back. Send /retry to try again.")
}

func (b *Bot) chatFor(identity string) (int64, bool) {
	if session, ok := b.state.Get(identity); ok && session.ChatID != 0 {
		return session.ChatID, true
	}
	// private chats share the user's id
	return userIDFrom(identity)
}

func (b *Bot) replyError(chatID int64, err error) {
	var verr *service.ValidationError
	switch {
	case errors.Is(err, service.ErrInsufficientCredits):
		b.sendText(chatID, "Not enough credits. Use /buy to top up.")
	case errors.As(err, &verr):
		b.sendText(chatID, "Cannot use that photo: "+verr.Reason+".")
	case errors.Is(err, service.ErrNotRetryable):
		b.sendText(chatID, "Your last remix is not in a failed state.")
	case errors.Is(err, service.ErrAssetMissing):
		b.sendText(chatID, "The original photo is gone; send it again.")
	case errors.Is(err, service.ErrNotFound):
		b.sendText(chatID, "Nothing found.")
	default:
		b.log.Error("telegram request failed", "err", err)
		b.sendText(chatID, "Something went wrong, try again later.")
	}
}

func (b *Bot) downloadPhoto(ctx context.Context, msg *tgbotapi.Message) ([]byte, string, error) {
	var fileID string
	switch {
	case len(msg.Photo) > 0:
		fileID = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Document != nil:
		if mt := strings.ToLower(msg.Document.MimeType); mt != "" && !strings.HasPrefix(mt, "image/") {
			return nil, "", errNotImage
		}
		fileID = msg.Document.FileID
	}
	return b.downloadFile(ctx, fileID)
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file path empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(b.api.Token), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, b.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	ct, err := normalizeImageContentType(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(headerCT))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		if len(data) > 0 {
			ct = http.DetectContentType(data)
			if idx := strings.Index(ct, ";"); idx > 0 {
				ct = ct[:idx]
			}
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	case "image/heic", "image/heif":
		return ct, nil
	default:
		return "", errNotImage
	}
}
