package services

import (
	"context"
	"errors"
	"time"

	"github.com/Rocket-Rescue-Node/credential-ledger/events"
	"github.com/Rocket-Rescue-Node/credential-ledger/ledger"
	"github.com/Rocket-Rescue-Node/credential-ledger/models"
	authz "github.com/Rocket-Rescue-Node/credential-ledger/models/authorization"
	"github.com/Rocket-Rescue-Node/rescue-proxy/metrics"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type ValidationError struct {
	msg string
}

func (v *ValidationError) Error() string {
	return v.msg
}

func (v *ValidationError) Is(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

// UnauthorizedError is returned when the caller lacks issuer authority.
type UnauthorizedError struct {
	msg string
}

func (u *UnauthorizedError) Error() string {
	return u.msg
}

func (u *UnauthorizedError) Is(err error) bool {
	_, ok := err.(*UnauthorizedError)
	return ok
}

// NotFoundError is returned when no credential record exists for the target.
type NotFoundError struct {
	msg string
}

func (n *NotFoundError) Error() string {
	return n.msg
}

func (n *NotFoundError) Is(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// InvalidCredentialError is returned by verification of a revoked credential.
type InvalidCredentialError struct {
	msg string
}

func (i *InvalidCredentialError) Error() string {
	return i.msg
}

func (i *InvalidCredentialError) Is(err error) bool {
	_, ok := err.(*InvalidCredentialError)
	return ok
}

// ServiceConfig contains the configuration for a Service.
type ServiceConfig struct {
	Ledger       ledger.Ledger
	Events       events.Emitter
	CascadeRules authz.CascadeRules
	RevokePolicy authz.RevokePolicy
	VerifyPolicy authz.VerifyPolicy
	Logger       *zap.Logger
	Clock        clockwork.Clock
}

// Service is the credential engine. It is the only writer of the issuer
// registry and the credential ledger, and it holds no state between calls.
type Service struct {
	ledger ledger.Ledger
	bus    events.Emitter

	rules        authz.CascadeRules
	revokePolicy authz.RevokePolicy
	verifyPolicy authz.VerifyPolicy

	m      *metrics.MetricsRegistry
	logger *zap.Logger

	clock clockwork.Clock
}

func NewService(config *ServiceConfig) *Service {
	svc := &Service{
		ledger:       config.Ledger,
		bus:          config.Events,
		rules:        config.CascadeRules,
		revokePolicy: config.RevokePolicy,
		verifyPolicy: config.VerifyPolicy,
		logger:       config.Logger,
		clock:        config.Clock,
	}
	if svc.bus == nil {
		svc.bus = events.Discard{}
	}
	if svc.rules == nil {
		svc.rules = authz.DefaultCascadeRules()
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	if svc.clock == nil {
		svc.clock = clockwork.NewRealClock()
	}
	return svc
}

func (s *Service) Init() error {
	if s.ledger == nil {
		return errors.New("service has no ledger configured")
	}
	s.m = metrics.NewMetricsRegistry("service")
	return nil
}

// now returns the current time truncated to the second, the resolution the
// ledger stores.
func (s *Service) now() time.Time {
	return time.Unix(s.clock.Now().Unix(), 0)
}

// requireIssuer fails with UnauthorizedError unless account may issue credentials.
func requireIssuer(ctx context.Context, tx ledger.Tx, account models.AccountID) error {
	ok, err := tx.Issuers().IsAuthorized(ctx, account)
	if err != nil {
		return err
	}
	if !ok {
		return &UnauthorizedError{"caller is not an authorized issuer"}
	}
	return nil
}

func validateType(t models.CredentialType) error {
	if !t.Valid() {
		return &ValidationError{"unknown credential type " + t.String()}
	}
	return nil
}

func appendEvents(ctx context.Context, tx ledger.Tx, evs []models.Event) error {
	for _, ev := range evs {
		if err := tx.Events().Append(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// publish delivers events of a committed call.
func (s *Service) publish(evs []models.Event) {
	for _, ev := range evs {
		s.bus.Publish(ev)
	}
}

// failed counts and logs a failed call. Domain errors and busy databases are
// logged at warn level. Anything else is a storage failure.
func (s *Service) failed(op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	var outcome string
	switch {
	case errors.Is(err, &UnauthorizedError{}):
		outcome = "unauthorized"
	case errors.Is(err, &NotFoundError{}):
		outcome = "not_found"
	case errors.Is(err, &InvalidCredentialError{}):
		outcome = "invalid"
	case errors.Is(err, &ValidationError{}):
		outcome = "validation"
	case ledger.IsBusy(err):
		// The caller may retry.
		s.logger.Warn("Ledger busy", append(fields, zap.String("op", op))...)
		s.count(op + "_busy")
		return
	default:
		s.logger.Error("Ledger operation failed", append(fields, zap.String("op", op))...)
		s.count(op + "_error")
		return
	}
	s.logger.Warn("Ledger operation denied", append(fields, zap.String("op", op), zap.String("outcome", outcome))...)
	s.count(op + "_" + outcome)
}

// count increments a service counter. It is a no-op until Init has run.
func (s *Service) count(name string) {
	if s.m == nil {
		return
	}
	s.m.Counter(name).Inc()
}
