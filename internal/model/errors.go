// Package model defines the entities and error taxonomy shared by every
// GAO-Dev core component. No component outside internal/store mutates
// these values directly; everyone else holds immutable snapshots.
package model

import "fmt"

// Kind classifies an error the way the Orchestrator needs to: whether to
// retry, abort the plan, or just record a denial and move on.
type Kind string

const (
	KindPrecondition  Kind = "precondition"
	KindTransient     Kind = "transient"
	KindDataInvariant Kind = "data_invariant"
	KindPolicyDenial  Kind = "policy_denial"
	KindAgentFailure  Kind = "agent_failure"
	KindMigration     Kind = "migration"
	KindCancellation  Kind = "cancellation"
)

// Error is the single error type every component raises. Code is a stable
// machine-readable identifier in the E001-E099 range.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, model.ErrSourceTreeDetected) style sentinel
// matching by code, since every *Error with the same Code is considered
// the same error regardless of wrapped detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newErr(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

// Precondition errors abort startup; the core never partially starts.
func Precondition(code, msg string, err error) *Error { return newErr(KindPrecondition, code, msg, err) }

// Transient errors are retried with bounded backoff at the Orchestrator boundary.
func Transient(code, msg string, err error) *Error { return newErr(KindTransient, code, msg, err) }

// DataInvariant errors roll back the triggering transaction; never retried.
func DataInvariant(code, msg string, err error) *Error { return newErr(KindDataInvariant, code, msg, err) }

// PolicyDenial is non-fatal: recorded and surfaced to the caller.
func PolicyDenial(code, msg string) *Error { return newErr(KindPolicyDenial, code, msg, nil) }

// AgentFailure is handled per the ceremony/step failure policy.
func AgentFailure(code, msg string, err error) *Error { return newErr(KindAgentFailure, code, msg, err) }

// Migration errors trigger a restore-and-refuse-to-continue sequence.
func Migration(code, msg string, err error) *Error { return newErr(KindMigration, code, msg, err) }

// Cancellation is reported as outcome "cancelled", not treated as failure.
func Cancellation(code, msg string) *Error { return newErr(KindCancellation, code, msg, nil) }

var (
	// ErrSourceTreeDetected is E001: GitGateway / precondition check refuses
	// to run against a tree containing GAO-Dev's own source markers.
	ErrSourceTreeDetected = Precondition("E001", "working tree contains GAO-Dev source markers; change directories", nil)
	ErrInstanceRunning    = Precondition("E002", "another GAO-Dev instance already owns this project tree", nil)
	ErrSchemaMismatch     = Precondition("E003", "state database schema version is incompatible", nil)

	ErrInTransaction = DataInvariant("E010", "nested transaction not permitted", nil)
	ErrPlanCycle     = DataInvariant("E011", "workflow plan graph contains a cycle", nil)

	ErrMergeConflict = Transient("E020", "git merge produced conflicts", nil)

	ErrMigrationFailed = Migration("E030", "schema migration failed and was rolled back", nil)
)
