package access

import "github.com/aimerfeng/CourseChain/internal/models"

// Check is a precondition evaluated before any mutation
type Check func() error

// Require evaluates checks in order and returns the first failure.
func Require(checks ...Check) error {
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// WhenNotPaused fails with the paused kind while the gate is paused
func (g *Gate) WhenNotPaused() Check {
	return func() error {
		if g.IsPaused() {
			return models.ErrContractPaused
		}
		return nil
	}
}

// OnlyRole fails unless caller holds role
func (g *Gate) OnlyRole(role Role, caller models.Address) Check {
	return func() error {
		if caller.IsZero() || !g.HasRole(role, caller) {
			return models.ErrMissingRole
		}
		return nil
	}
}

func validAccount(account models.Address) Check {
	return func() error {
		if account.IsZero() {
			return models.ErrInvalidAddress
		}
		return nil
	}
}

func knownRole(role Role) Check {
	return func() error {
		if !validRole(role) {
			return ErrUnknownRole
		}
		return nil
	}
}

// ValidCaller fails for the null address
func ValidCaller(caller models.Address) Check {
	return validAccount(caller)
}

// FailIf returns a check that fails with err when cond reports true. cond
// is evaluated lazily so it may depend on earlier checks having passed.
func FailIf(cond func() bool, err error) Check {
	return func() error {
		if cond() {
			return err
		}
		return nil
	}
}
