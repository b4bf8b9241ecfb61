package vault

import (
	"fmt"
	"strconv"

	"github.com/forest6511/animectl/pkg/audit"
	"github.com/forest6511/animectl/pkg/envelope"
)

// MaxAdultAttempts is the number of wrong adult passwords accepted per
// session before EnterAdult refuses until the vault is locked again.
const MaxAdultAttempts = 3

// AdultState is the state of the adult gate inside a session.
type AdultState int

const (
	AdultLocked AdultState = iota
	AdultUnlocked
)

func (s AdultState) String() string {
	if s == AdultUnlocked {
		return "unlocked"
	}
	return "locked"
}

type adultGate struct {
	open     bool
	failures int
}

// AdultConfigured reports whether an adult password has been set.
func (s *Session) AdultConfigured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dek != nil && s.body.Adult != nil
}

// AdultState reports the state of the adult gate.
func (s *Session) AdultState() AdultState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adult.open {
		return AdultUnlocked
	}
	return AdultLocked
}

// SetAdultPassword sets the adult password. Replacing an existing one
// requires the adult gate to be open. The gate state does not change. The
// credential is stored with the records, so Save persists it.
func (s *Session) SetAdultPassword(password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dek == nil {
		return ErrLocked
	}
	if s.body.Adult != nil && !s.adult.open {
		return ErrAdultLocked
	}

	params, err := s.v.passwordParams()
	if err != nil {
		return err
	}
	cred, err := envelope.NewCredential([]byte(password), params)
	if err != nil {
		return fmt.Errorf("vault: failed to create adult credential: %w", err)
	}
	replaced := s.body.Adult != nil
	s.body.Adult = cred
	s.dirty = true

	s.v.logAudit(audit.OpAdultConfigure, "", map[string]string{"replaced": strconv.FormatBool(replaced)})
	return nil
}

// EnterAdult opens the adult gate. Adult entries become visible in addition
// to the general ones.
func (s *Session) EnterAdult(password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dek == nil {
		return ErrLocked
	}
	if s.body.Adult == nil {
		return ErrNotConfigured
	}
	if s.adult.failures >= MaxAdultAttempts {
		return ErrTooManyAttempts
	}

	ok, err := s.body.Adult.Verify([]byte(password))
	if err != nil || !ok {
		s.adult.failures++
		s.v.logAuditDenied(audit.OpAdultEnterFailed, "", "invalid adult password")
		s.v.log.Warn().Int("failed_attempts", s.adult.failures).Msg("adult unlock failed")
		return ErrAuthFailure
	}

	s.adult.open = true
	s.adult.failures = 0
	s.v.logAudit(audit.OpAdultEnter, "", nil)
	return nil
}

// LeaveAdult closes the adult gate. The failure count is kept.
func (s *Session) LeaveAdult() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adult.open = false
}
