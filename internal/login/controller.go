package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"github.com/vendorportal/vendorportal/internal/models"
)

// SessionEmailKey is the session storage key holding the signed-in address.
const SessionEmailKey = "userEmail"

const (
	msgInvalidEmail  = "Please enter a valid email address"
	msgInvalidCode   = "Please enter a valid 6-digit OTP"
	msgSendFailed    = "Failed to send OTP. Please try again."
	msgResendFailed  = "Failed to resend OTP. Please try again."
	msgInvalidOTP    = "Invalid or expired OTP"
	msgVerifyFailed  = "Verification failed. Please try again."
	msgLoginComplete = "Login successful!"
)

const (
	defaultLoadingTimeout = 30 * time.Second
	settleMaxTries        = 4
)

var (
	ErrInvalidEmail = errors.New("invalid email address")
	ErrInvalidCode  = errors.New("code must be 6 digits")
	ErrInvalidOTP   = errors.New("invalid or expired OTP")
	ErrOperation    = errors.New("login operation failed")
	ErrWrongStep    = errors.New("action not available at this step")
	ErrBusy         = errors.New("another request is in progress")
	ErrStale        = errors.New("login flow changed while the request was in progress")
)

// IsValidation reports whether err is a validation error, raised before any
// collaborator was contacted.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidEmail) || errors.Is(err, ErrInvalidCode)
}

type OTPGenerator interface {
	GenerateOTP(ctx context.Context, email string) (string, error)
}

type OTPVerifier interface {
	VerifyOTP(ctx context.Context, email, code string) (bool, error)
}

type UserResolver interface {
	GetOrCreate(ctx context.Context, email string) (*models.User, error)
}

// AuthContext receives the verified user and makes it the current user of the session.
type AuthContext interface {
	Publish(ctx context.Context, sessionID string, user *models.User) (*models.TokenPair, error)
}

type SessionStorage interface {
	SetItem(ctx context.Context, sessionID, key, value string) error
}

type Dependencies struct {
	Generator OTPGenerator
	Verifier  OTPVerifier
	Users     UserResolver
	Auth      AuthContext
	Sessions  SessionStorage
	Navigator Navigator
	Store     FlowStore
	Logger    *logrus.Logger
	// DisplayCode copies generated codes into the flow view.
	DisplayCode bool
	// LoadingTimeout bounds how long a loading flag blocks new actions. A
	// flag older than this belongs to a request that never settled.
	LoadingTimeout time.Duration
}

type Controller struct {
	generator   OTPGenerator
	verifier    OTPVerifier
	users       UserResolver
	auth        AuthContext
	sessions    SessionStorage
	navigator   Navigator
	store       FlowStore
	logger      *logrus.Logger
	displayCode bool
	timeout     time.Duration
	now         func() time.Time
	newBackOff  func() backoff.BackOff
}

func NewController(deps Dependencies) *Controller {
	timeout := deps.LoadingTimeout
	if timeout <= 0 {
		timeout = defaultLoadingTimeout
	}

	return &Controller{
		generator:   deps.Generator,
		verifier:    deps.Verifier,
		users:       deps.Users,
		auth:        deps.Auth,
		sessions:    deps.Sessions,
		navigator:   deps.Navigator,
		store:       deps.Store,
		logger:      deps.Logger,
		displayCode: deps.DisplayCode,
		timeout:     timeout,
		now:         time.Now,
		newBackOff:  settleBackOff,
	}
}

// LoginResult is returned by a successful Verify.
type LoginResult struct {
	Flow        *Flow
	User        *models.User
	Tokens      *models.TokenPair
	Destination string
}

// View returns the flow for id, starting a new one at the email step if none exists.
func (c *Controller) View(ctx context.Context, id string) (*Flow, error) {
	return c.load(ctx, id)
}

// SendCode requests a code for email and moves the flow to the code step.
func (c *Controller) SendCode(ctx context.Context, id, email string) (*Flow, error) {
	flow, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if flow.Loading {
		return flow, ErrBusy
	}
	if _, ok := flow.Step.(EmailStep); !ok {
		return flow, ErrWrongStep
	}

	email = strings.TrimSpace(email)
	flow.Step = EmailStep{Email: email}
	if !ValidEmail(email) {
		flow.notify(NoticeError, msgInvalidEmail)
		return flow, c.saveWith(ctx, flow, ErrInvalidEmail)
	}

	started := flow.Step
	if err := c.begin(ctx, flow); err != nil {
		return nil, err
	}

	code, genErr := c.generator.GenerateOTP(ctx, email)

	return c.settle(ctx, id, started, func(f *Flow) error {
		if genErr != nil {
			c.logger.WithError(genErr).WithField("email", email).Error("Failed to generate OTP")
			f.notify(NoticeError, msgSendFailed)
			return fmt.Errorf("%w: %v", ErrOperation, genErr)
		}
		f.Step = OTPStep{Email: email, DisplayedCode: c.shown(code)}
		f.notify(NoticeSuccess, fmt.Sprintf("OTP sent to %s", email))
		return nil
	})
}

// EnterCode records the code typed so far, keeping digits only.
func (c *Controller) EnterCode(ctx context.Context, id, input string) (*Flow, error) {
	flow, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	step, ok := flow.Step.(OTPStep)
	if !ok {
		return flow, ErrWrongStep
	}

	step.Code = SanitizeCode(input)
	flow.Step = step
	return flow, c.saveWith(ctx, flow, nil)
}

// Resend issues a new code for the same address and clears the entered code.
func (c *Controller) Resend(ctx context.Context, id string) (*Flow, error) {
	flow, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if flow.Loading {
		return flow, ErrBusy
	}
	step, ok := flow.Step.(OTPStep)
	if !ok {
		return flow, ErrWrongStep
	}

	started := flow.Step
	if err := c.begin(ctx, flow); err != nil {
		return nil, err
	}

	code, genErr := c.generator.GenerateOTP(ctx, step.Email)

	return c.settle(ctx, id, started, func(f *Flow) error {
		if genErr != nil {
			c.logger.WithError(genErr).WithField("email", step.Email).Error("Failed to resend OTP")
			f.notify(NoticeError, msgResendFailed)
			return fmt.Errorf("%w: %v", ErrOperation, genErr)
		}
		f.Step = OTPStep{Email: step.Email, DisplayedCode: c.shown(code)}
		f.notify(NoticeSuccess, fmt.Sprintf("New OTP sent to %s", step.Email))
		return nil
	})
}

// ChangeEmail returns to the email step, discarding the address and both
// codes. It is allowed while loading; the pending result is then dropped.
func (c *Controller) ChangeEmail(ctx context.Context, id string) (*Flow, error) {
	flow, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := flow.Step.(OTPStep); !ok {
		return flow, ErrWrongStep
	}

	flow.Step = EmailStep{}
	flow.Notice = nil
	flow.clearLoading()
	return flow, c.saveWith(ctx, flow, nil)
}

func (c *Controller) DismissNotice(ctx context.Context, id string) (*Flow, error) {
	flow, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	flow.Notice = nil
	return flow, c.saveWith(ctx, flow, nil)
}

// Verify checks the entered code. On success the user is resolved, marked
// verified, published to the auth context and the address is written to
// session storage; the finished flow is removed.
func (c *Controller) Verify(ctx context.Context, id string) (*LoginResult, error) {
	flow, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if flow.Loading {
		return &LoginResult{Flow: flow}, ErrBusy
	}
	step, ok := flow.Step.(OTPStep)
	if !ok {
		return &LoginResult{Flow: flow}, ErrWrongStep
	}

	if !CanVerify(step.Code) {
		flow.notify(NoticeError, msgInvalidCode)
		return &LoginResult{Flow: flow}, c.saveWith(ctx, flow, ErrInvalidCode)
	}

	started := flow.Step
	if err := c.begin(ctx, flow); err != nil {
		return nil, err
	}

	result, opErr := c.completeLogin(ctx, id, step)

	settled, err := c.settle(ctx, id, started, func(f *Flow) error {
		switch {
		case opErr == nil:
			f.notify(NoticeSuccess, msgLoginComplete)
			return nil
		case errors.Is(opErr, ErrInvalidOTP):
			f.notify(NoticeError, msgInvalidOTP)
		default:
			c.logger.WithError(opErr).WithField("email", step.Email).Error("Failed to verify OTP")
			f.notify(NoticeError, msgVerifyFailed)
		}
		return opErr
	})
	if opErr != nil {
		return &LoginResult{Flow: settled}, err
	}

	// A completed login stands even if the flow moved on in the meantime or
	// its outcome could not be recorded.
	if settled == nil {
		settled = &Flow{ID: id, Step: step, UpdatedAt: c.now().UTC()}
	}
	if err != nil {
		settled.clearLoading()
		settled.notify(NoticeSuccess, msgLoginComplete)
	}

	result.Flow = settled
	if err := c.store.Delete(context.WithoutCancel(ctx), id); err != nil {
		c.logger.WithError(err).Warn("Failed to delete finished login flow")
	}
	return result, nil
}

func (c *Controller) completeLogin(ctx context.Context, sessionID string, step OTPStep) (*LoginResult, error) {
	valid, err := c.verifier.VerifyOTP(ctx, step.Email, step.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOperation, err)
	}
	if !valid {
		return nil, ErrInvalidOTP
	}

	user, err := c.users.GetOrCreate(ctx, step.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOperation, err)
	}

	now := c.now().UTC()
	user.Verified = true
	user.VerifiedAt = &now

	tokens, err := c.auth.Publish(ctx, sessionID, user)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOperation, err)
	}

	if err := c.sessions.SetItem(ctx, sessionID, SessionEmailKey, step.Email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOperation, err)
	}

	return &LoginResult{
		User:        user,
		Tokens:      tokens,
		Destination: c.navigator.Destination(step.Email),
	}, nil
}

func (c *Controller) shown(code string) string {
	if c.displayCode {
		return code
	}
	return ""
}

func (c *Controller) load(ctx context.Context, id string) (*Flow, error) {
	flow, err := c.store.Load(ctx, id)
	if errors.Is(err, ErrFlowNotFound) {
		flow = NewFlow(id, c.now().UTC())
		if err := c.store.Save(ctx, flow); err != nil {
			return nil, err
		}
		return flow, nil
	}
	if err != nil {
		return nil, err
	}

	if flow.Loading && c.now().Sub(flow.LoadingSince) >= c.timeout {
		c.logger.WithFields(logrus.Fields{
			"flow_id":       id,
			"loading_since": flow.LoadingSince,
		}).Warn("Clearing loading flag left by a request that never settled")
		flow.clearLoading()
	}
	return flow, nil
}

// saveWith persists flow and returns actionErr unless saving fails.
func (c *Controller) saveWith(ctx context.Context, flow *Flow, actionErr error) error {
	flow.UpdatedAt = c.now().UTC()
	if err := c.store.Save(ctx, flow); err != nil {
		return err
	}
	return actionErr
}

func (c *Controller) begin(ctx context.Context, flow *Flow) error {
	flow.Loading = true
	flow.LoadingSince = c.now().UTC()
	flow.Notice = nil
	return c.saveWith(ctx, flow, nil)
}

// settle clears the loading flag after a collaborator call and applies fn
// only if the flow is still at the step the call started from. The caller's
// context may already be cancelled; the outcome is recorded regardless.
// Store failures are retried; if they persist, the stale loading flag is
// cleared by the next load once the loading timeout has passed.
func (c *Controller) settle(ctx context.Context, id string, started Step, fn func(f *Flow) error) (*Flow, error) {
	ctx = context.WithoutCancel(ctx)

	var (
		actionErr error
		moved     bool
	)
	flow, err := backoff.Retry(ctx, func() (*Flow, error) {
		flow, err := c.load(ctx, id)
		if err != nil {
			return nil, err
		}
		flow.clearLoading()

		current := flow.Step
		moved = current.Kind() != started.Kind() || current.email() != started.email()
		if moved {
			actionErr = ErrStale
		} else {
			actionErr = fn(flow)
		}

		flow.UpdatedAt = c.now().UTC()
		if err := c.store.Save(ctx, flow); err != nil {
			return nil, err
		}
		return flow, nil
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(settleMaxTries))
	if err != nil {
		c.logger.WithError(err).WithField("flow_id", id).Error("Failed to record login flow outcome")
		return nil, err
	}

	if moved {
		c.logger.WithFields(logrus.Fields{
			"flow_id": id,
			"started": started.Kind(),
			"current": flow.Step.Kind(),
		}).Warn("Dropping result for a login flow that moved on")
	}
	return flow, actionErr
}

func settleBackOff() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         time.Second,
	}
}
