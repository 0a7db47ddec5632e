package pcocc

import "fmt"

type (
	// CyclicInheritanceError is returned when a template transitively
	// inherits itself
	CyclicInheritanceError struct {
		Cycle []string
	}

	// ScopeViolationError is returned when a system scope template
	// references a user scope parent
	ScopeViolationError struct {
		Template string
		Parent   string
	}

	// MissingRequiredFieldError is returned when a fully resolved template
	// lacks a required field
	MissingRequiredFieldError struct {
		Template string
		Field    string
	}

	// TemplateNotFoundError is returned when a template or one of its
	// parents is not visible from the requesting scope
	TemplateNotFoundError struct {
		Name  string
		Scope Scope
	}

	// ResourceExhaustedError is returned when a resource pool has no free
	// units left
	ResourceExhaustedError struct {
		Pool string
	}

	// DriveAlreadyAttachedError is returned when multi-mount protection
	// refuses a drive lock
	DriveAlreadyAttachedError struct {
		Path string
	}

	// BindingConflictError is returned when a resource unit is already bound
	// to another owner
	BindingConflictError struct {
		Pool string
		Unit string
	}

	// SubnetManagerConfigWriteError is returned when publishing a partition
	// key entry for the subnet manager fails. The key reservation is rolled
	// back before this error surfaces.
	SubnetManagerConfigWriteError struct {
		Network string
		Err     error
	}
)

func (e *CyclicInheritanceError) Error() string {
	return fmt.Sprintf("cyclic inheritance: %v", e.Cycle)
}

func (e *ScopeViolationError) Error() string {
	return fmt.Sprintf("system template %q may not inherit user template %q", e.Template, e.Parent)
}

func (e *MissingRequiredFieldError) Error() string {
	return fmt.Sprintf("template %q: missing required field %q", e.Template, e.Field)
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("template %q not found in %s scope", e.Name, e.Scope)
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("resource pool %q exhausted", e.Pool)
}

func (e *DriveAlreadyAttachedError) Error() string {
	return fmt.Sprintf("drive %q already attached", e.Path)
}

func (e *BindingConflictError) Error() string {
	return fmt.Sprintf("pool %q: unit %q already bound", e.Pool, e.Unit)
}

func (e *SubnetManagerConfigWriteError) Error() string {
	return fmt.Sprintf("network %q: subnet manager config update failed: %v", e.Network, e.Err)
}

func (e *SubnetManagerConfigWriteError) Unwrap() error {
	return e.Err
}

// IsCyclicInheritance checks whether err is a CyclicInheritanceError
func IsCyclicInheritance(err error) bool {
	_, ok := err.(*CyclicInheritanceError)
	return ok
}

// IsScopeViolation checks whether err is a ScopeViolationError
func IsScopeViolation(err error) bool {
	_, ok := err.(*ScopeViolationError)
	return ok
}

// IsMissingRequiredField checks whether err is a MissingRequiredFieldError
func IsMissingRequiredField(err error) bool {
	_, ok := err.(*MissingRequiredFieldError)
	return ok
}

// IsTemplateNotFound checks whether err is a TemplateNotFoundError
func IsTemplateNotFound(err error) bool {
	_, ok := err.(*TemplateNotFoundError)
	return ok
}

// IsResourceExhausted checks whether err is a ResourceExhaustedError
func IsResourceExhausted(err error) bool {
	_, ok := err.(*ResourceExhaustedError)
	return ok
}

// IsDriveAlreadyAttached checks whether err is a DriveAlreadyAttachedError
func IsDriveAlreadyAttached(err error) bool {
	_, ok := err.(*DriveAlreadyAttachedError)
	return ok
}

// IsBindingConflict checks whether err is a BindingConflictError
func IsBindingConflict(err error) bool {
	_, ok := err.(*BindingConflictError)
	return ok
}

// IsSubnetManagerConfigWrite checks whether err is a
// SubnetManagerConfigWriteError
func IsSubnetManagerConfigWrite(err error) bool {
	_, ok := err.(*SubnetManagerConfigWriteError)
	return ok
}
