package bootstrap

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/wolfman30/resthouse-booking/internal/bookings"
	appconfig "github.com/wolfman30/resthouse-booking/internal/config"
	"github.com/wolfman30/resthouse-booking/internal/conversation"
	"github.com/wolfman30/resthouse-booking/internal/notify"
	"github.com/wolfman30/resthouse-booking/internal/observability/metrics"
	"github.com/wolfman30/resthouse-booking/pkg/logging"
)

// Deps are the ambient collaborators shared by every builder.
type Deps struct {
	Logger  *logging.Logger
	Metrics *metrics.ConversationMetrics
}

// BuildBookingService wires the booking service with the configured price,
// OTP lifetime and business timezone.
func BuildBookingService(cfg *appconfig.Config, repo bookings.Repository, deps Deps) (*bookings.Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("bootstrap: booking repository is required")
	}
	return bookings.NewService(repo, deps.Logger,
		bookings.WithPrice(cfg.BookingPrice),
		bookings.WithOTPTTL(cfg.OTPTTL),
		bookings.WithLocation(cfg.Location()),
		bookings.WithMetrics(deps.Metrics),
	), nil
}

// BuildFallbackResponder returns the Gemini responder when an API key is set.
// The returned close func is never nil.
func BuildFallbackResponder(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (conversation.FallbackResponder, func()) {
	noop := func() {}
	if cfg == nil || strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return nil, noop
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	responder, err := conversation.NewGeminiResponder(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.BookingPrice)
	if err != nil {
		logger.Warn("gemini fallback disabled", "error", err)
		return nil, noop
	}
	logger.Info("gemini fallback enabled", "model", cfg.GeminiModel)
	return responder, func() {
		if err := responder.Close(); err != nil {
			logger.Warn("gemini client close failed", "error", err)
		}
	}
}

// EngineParts groups the engine collaborators built elsewhere.
type EngineParts struct {
	Bookings conversation.BookingService
	Mailer   conversation.Mailer
	Sessions conversation.SessionStore
	Fallback conversation.FallbackResponder
}

// BuildEngine wires the conversation engine from config.
func BuildEngine(cfg *appconfig.Config, parts EngineParts, deps Deps) (*conversation.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if parts.Bookings == nil {
		return nil, fmt.Errorf("bootstrap: booking service is required")
	}

	var rnd *rand.Rand
	if cfg.ReplyVariation {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return conversation.NewEngine(conversation.EngineConfig{
		Bookings: parts.Bookings,
		Mailer:   parts.Mailer,
		Sessions: parts.Sessions,
		Composer: conversation.NewComposer(cfg.BookingPrice, cfg.ReplyVariation, rnd),
		Fallback: parts.Fallback,
		Location: cfg.Location(),
		Logger:   deps.Logger,
		Metrics:  deps.Metrics,
	}), nil
}

var _ conversation.Mailer = (*notify.BookingMailer)(nil)
