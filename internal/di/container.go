package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/verifield/api/internal/platform/config"
	"github.com/verifield/api/internal/platform/mail"
	"github.com/verifield/api/internal/repositories"
	"github.com/verifield/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
// Concrete implementations are assembled via dependency injection in
// NewContainer.
type Services struct {
	Issuer     services.CredentialIssuer
	Gate       services.IdentityGate
	Reviewer   services.FieldReviewer
	Recorder   services.SubmissionRecorder
	Controller services.SessionController
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option customises container construction. Production wiring relies on the
// defaults; tests substitute stubs for the outbound dependencies.
type Option func(*options)

type options struct {
	mailer    services.Mailer
	publisher services.SubmissionEventPublisher
	logger    services.WarnLogger
	clock     func() time.Time
}

// WithMailer overrides the SMTP mailer that delivers verification codes.
func WithMailer(mailer services.Mailer) Option {
	return func(o *options) { o.mailer = mailer }
}

// WithSubmissionPublisher sets the optional submission event publisher.
func WithSubmissionPublisher(publisher services.SubmissionEventPublisher) Option {
	return func(o *options) { o.publisher = publisher }
}

// WithWarnLogger routes non-fatal service warnings to the supplied logger.
func WithWarnLogger(logger services.WarnLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock fixes the time source used by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// real stores through the registry, while tests can supply in-memory ones.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	opt := options{clock: time.Now}
	for _, apply := range opts {
		apply(&opt)
	}
	if opt.mailer == nil {
		mailer, err := mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			return nil, fmt.Errorf("build smtp mailer: %w", err)
		}
		opt.mailer = mailer
	}

	svc, err := buildServices(reg, cfg, opt)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, opt options) (Services, error) {
	var svc Services

	issuer, err := services.NewCredentialIssuer(services.CredentialIssuerDeps{
		Mailer:      opt.mailer,
		Clock:       opt.clock,
		Validity:    cfg.Portal.CodeValidity,
		MaxAttempts: cfg.Portal.MaxCodeAttempts,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build credential issuer: %w", err)
	}
	svc.Issuer = issuer

	gate, err := services.NewIdentityGate(services.IdentityGateDeps{
		Master:         reg.Master(),
		Primary:        reg.Primary(),
		Fallback:       reg.Fallback(),
		Issuer:         issuer,
		Clock:          opt.clock,
		Logger:         opt.logger,
		AllowedDomains: cfg.Portal.AllowedEmailDomains,
		Cooldown:       cfg.Portal.ResendCooldown,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build identity gate: %w", err)
	}
	svc.Gate = gate

	reviewer, err := services.NewFieldReviewer(services.FieldReviewerDeps{
		Master: reg.Master(),
		Clock:  opt.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build field reviewer: %w", err)
	}
	svc.Reviewer = reviewer

	recorder, err := services.NewSubmissionRecorder(services.SubmissionRecorderDeps{
		Master:    reg.Master(),
		Primary:   reg.Primary(),
		Fallback:  reg.Fallback(),
		Gate:      gate,
		Publisher: opt.publisher,
		Clock:     opt.clock,
		Logger:    opt.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build submission recorder: %w", err)
	}
	svc.Recorder = recorder

	controller, err := services.NewSessionController(services.SessionControllerDeps{
		Sessions: reg.Sessions(),
		Gate:     gate,
		Issuer:   issuer,
		Reviewer: reviewer,
		Recorder: recorder,
		Clock:    opt.clock,
		TTL:      cfg.Portal.SessionTTL,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build session controller: %w", err)
	}
	svc.Controller = controller

	return svc, nil
}
