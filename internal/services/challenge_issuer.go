package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ks-hl/snailpoints/internal/models"
	"github.com/ks-hl/snailpoints/pkg/logger"
)

const (
	verificationCodeDigits = 6
	resetCodeLength        = 30
	resetCodeAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

//go:embed templates/*.html
var templateFS embed.FS

// ChallengeIssuerConfig holds the message settings for issued challenges
type ChallengeIssuerConfig struct {
	ProductName  string // shown in subjects and signatures
	ResetURLBase string // page receiving ?code= for password resets
	CodeTTL      time.Duration
}

type challengeMessage struct {
	Title            string
	ProductName      string
	Code             string
	Link             string
	ExpiresInMinutes int
}

// ChallengeIssuer generates codes, stores them and mails them out
type ChallengeIssuer struct {
	gate      *ResendGate
	store     *ChallengeStore
	mail      MailTransport
	validate  *validator.Validate
	templates map[models.ChallengePurpose]*template.Template
	config    ChallengeIssuerConfig
	audit     *logger.AuditLogger
	logger    *slog.Logger
}

// NewChallengeIssuer creates a ChallengeIssuer. It fails only if the embedded templates do not parse.
func NewChallengeIssuer(
	gate *ResendGate,
	store *ChallengeStore,
	mail MailTransport,
	config ChallengeIssuerConfig,
	log *slog.Logger,
) (*ChallengeIssuer, error) {
	layout, err := template.ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse mail layout: %w", err)
	}

	templates := make(map[models.ChallengePurpose]*template.Template, 2)
	for purpose, file := range map[models.ChallengePurpose]string{
		models.PurposeVerify: "templates/verify.html",
		models.PurposeReset:  "templates/reset.html",
	} {
		base, err := layout.Clone()
		if err != nil {
			return nil, fmt.Errorf("failed to clone mail layout: %w", err)
		}
		tmpl, err := base.ParseFS(templateFS, file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file, err)
		}
		templates[purpose] = tmpl
	}

	if config.CodeTTL <= 0 {
		config.CodeTTL = DefaultChallengeStoreConfig().TTL
	}

	return &ChallengeIssuer{
		gate:      gate,
		store:     store,
		mail:      mail,
		validate:  validator.New(),
		templates: templates,
		config:    config,
		audit:     logger.NewAuditLogger(log),
		logger:    log,
	}, nil
}

// StartChallenge issues a new code for uid and mails it to recipient.
// Errors: models.ErrInvalidRecipient, *models.ResendCooldownError, models.ErrServiceBusy
// (wrapped) from the stores, or the mail transport's error as returned.
func (i *ChallengeIssuer) StartChallenge(ctx context.Context, uid, recipient string, purpose models.ChallengePurpose) error {
	if err := i.validate.Var(recipient, "required,email"); err != nil {
		return models.ErrInvalidRecipient
	}

	if err := i.gate.Allow(ctx, recipient); err != nil {
		return err
	}

	var (
		code    string
		subject string
		message challengeMessage
		err     error
	)
	switch purpose {
	case models.PurposeVerify:
		code, err = generateNumericCode(verificationCodeDigits)
		if err != nil {
			return err
		}
		if err := i.store.IssueVerification(ctx, uid, code); err != nil {
			return err
		}
		subject = i.config.ProductName + " Account Verification"
		message = challengeMessage{Title: "Your Verification Code", Code: code}
	case models.PurposeReset:
		code, err = generateAlphanumericCode(resetCodeLength)
		if err != nil {
			return err
		}
		if err := i.store.IssueReset(ctx, uid, code); err != nil {
			return err
		}
		subject = i.config.ProductName + " Password Reset"
		message = challengeMessage{Title: "Your Password Reset Code", Link: i.resetLink(code)}
	default:
		return fmt.Errorf("unknown challenge purpose %d: %w", purpose, models.ErrBadRequest)
	}

	message.ProductName = i.config.ProductName
	message.ExpiresInMinutes = int(i.config.CodeTTL / time.Minute)

	body, err := i.render(purpose, message)
	if err != nil {
		return err
	}

	if err := i.mail.Send(ctx, recipient, subject, body); err != nil {
		i.audit.LogChallenge(ctx, logger.AuditEvent{
			EventType:     logger.EventChallengeIssued,
			UserID:        uid,
			FailureReason: "mail_transport",
			Metadata:      map[string]string{"purpose": purpose.String()},
		})
		return err
	}

	i.audit.LogChallenge(ctx, logger.AuditEvent{
		EventType: logger.EventChallengeIssued,
		UserID:    uid,
		Success:   true,
		Metadata: map[string]string{
			"purpose": purpose.String(),
			"email":   logger.SanitizedEmail(recipient),
		},
	})
	return nil
}

func (i *ChallengeIssuer) render(purpose models.ChallengePurpose, message challengeMessage) (string, error) {
	var buf bytes.Buffer
	if err := i.templates[purpose].ExecuteTemplate(&buf, "layout", message); err != nil {
		return "", fmt.Errorf("failed to render %s message: %w", purpose, err)
	}
	return buf.String(), nil
}

func (i *ChallengeIssuer) resetLink(code string) string {
	base := strings.TrimRight(i.config.ResetURLBase, "?")
	return base + "?code=" + url.QueryEscape(code)
}

// generateNumericCode returns n uniformly random decimal digits
func generateNumericCode(n int) (string, error) {
	return generateFromAlphabet("0123456789", n)
}

// generateAlphanumericCode returns n uniformly random characters from [A-Za-z0-9]
func generateAlphanumericCode(n int) (string, error) {
	return generateFromAlphabet(resetCodeAlphabet, n)
}

func generateFromAlphabet(alphabet string, n int) (string, error) {
	limit := big.NewInt(int64(len(alphabet)))
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		sb.WriteByte(alphabet[idx.Int64()])
	}
	return sb.String(), nil
}
