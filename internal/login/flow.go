// Package login implements the email one-time-password sign-in flow of the
// vendor portal: a two-step state machine (email entry, code entry) that
// delegates code generation, verification, user resolution and session
// bookkeeping to injected collaborators.
package login

import (
	"strings"
	"time"

	"github.com/vendorportal/vendorportal/internal/config"
)

// CodeLength is the number of digits a user must enter to verify.
const CodeLength = config.OTPCodeLength

type StepKind string

const (
	StepEmail StepKind = "email"
	StepOTP   StepKind = "otp"
)

// Step is the current screen of a flow together with the data that only
// exists on that screen. It is implemented by EmailStep and OTPStep.
type Step interface {
	Kind() StepKind
	email() string
}

// EmailStep collects the address to send a code to.
type EmailStep struct {
	Email string
}

func (EmailStep) Kind() StepKind  { return StepEmail }
func (s EmailStep) email() string { return s.Email }

// OTPStep collects the code sent to Email. DisplayedCode is only set when
// the service runs with code display enabled.
type OTPStep struct {
	Email         string
	Code          string
	DisplayedCode string
}

func (OTPStep) Kind() StepKind  { return StepOTP }
func (s OTPStep) email() string { return s.Email }

type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is the dismissible message produced by the last action.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

type Flow struct {
	ID      string
	Step    Step
	Loading bool
	// LoadingSince is when Loading was set; zero when not loading.
	LoadingSince time.Time
	Notice       *Notice
	UpdatedAt    time.Time
}

func NewFlow(id string, now time.Time) *Flow {
	return &Flow{
		ID:        id,
		Step:      EmailStep{},
		UpdatedAt: now,
	}
}

func (f *Flow) clearLoading() {
	f.Loading = false
	f.LoadingSince = time.Time{}
}

func (f *Flow) notify(kind NoticeKind, message string) {
	f.Notice = &Notice{Kind: kind, Message: message}
}

// View is the client-facing rendering of a flow.
type View struct {
	Step          StepKind `json:"step"`
	Email         string   `json:"email"`
	Code          string   `json:"code,omitempty"`
	DisplayedCode string   `json:"displayed_code,omitempty"`
	CanVerify     bool     `json:"can_verify"`
	Loading       bool     `json:"loading"`
	Notice        *Notice  `json:"notice,omitempty"`
}

func (f *Flow) View() View {
	v := View{
		Step:    f.Step.Kind(),
		Email:   f.Step.email(),
		Loading: f.Loading,
		Notice:  f.Notice,
	}
	if step, ok := f.Step.(OTPStep); ok {
		v.Code = step.Code
		v.DisplayedCode = step.DisplayedCode
		v.CanVerify = CanVerify(step.Code)
	}
	return v
}

// ValidEmail is the only check made before a code is requested.
func ValidEmail(email string) bool {
	return strings.Contains(email, "@")
}

// SanitizeCode strips everything but digits and truncates to CodeLength.
func SanitizeCode(input string) string {
	var b strings.Builder
	b.Grow(CodeLength)
	for _, r := range input {
		if b.Len() == CodeLength {
			break
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CanVerify reports whether code is exactly CodeLength ASCII digits.
func CanVerify(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
