package kernel

import (
	"fmt"

	"scripcraft.ai/internal/protocol"
	"scripcraft.ai/internal/scrip"
)

// Well-known system principals. Both are ordinary principals with no kernel
// privilege; they exist so custody and genesis grants have an owner.
const (
	PrincipalGenesis   = "sys_genesis"
	PrincipalCustodian = "sys_escrow"
)

// Principal is an economic actor. Principals are created by spawn and never
// destroyed.
type Principal struct {
	ID          string
	Scrip       scrip.Amount
	Resources   map[string]int64 // resource name -> current balance
	Quotas      map[string]int64 // resource name -> allocated quota
	CreatedTick uint64

	// System marks the built-in custodian/genesis principals. System
	// principals are excluded from UBI distribution.
	System bool
}

// Artifact is a named, owned unit of content/code.
type Artifact struct {
	ID    string
	Owner string

	// PrevOwner is the owner before the most recent custody transfer.
	// The escrow uses it to tie a listing to the principal that
	// surrendered the artifact.
	PrevOwner string

	Content     []byte
	ContentType string

	// Executable surface. Code is Lua source; Methods is the declared
	// method interface parsed from it.
	Code    string
	Methods []MethodSpec

	// Service names a well-known capability-table entry. Invoking a
	// service artifact dispatches through the table instead of the code
	// engine.
	Service string

	Price          scrip.Amount // charged to invoker on successful invoke
	ReadPrice      scrip.Amount // charged to reader, paid to owner
	ResourcePolicy string       // caller_pays | owner_pays

	Access AccessPolicy

	// Provenance is informational only and never consulted for
	// authorization.
	Provenance Provenance
}

func (a *Artifact) Size() int64 { return int64(len(a.Content)) + int64(len(a.Code)) }

func (a *Artifact) Clone() *Artifact {
	c := *a
	c.Content = append([]byte(nil), a.Content...)
	c.Methods = append([]MethodSpec(nil), a.Methods...)
	c.Access.Allow = append([]string(nil), a.Access.Allow...)
	return &c
}

type Provenance struct {
	CreatedBy     string
	CreatedAtTick uint64
}

// AccessPolicy is the explicit authorization rule evaluated by the kernel
// for READ and INVOKE.
type AccessPolicy struct {
	Mode  string // public | owner_only | allow_list
	Allow []string
}

func (p AccessPolicy) Permits(caller, owner string) bool {
	if caller == owner {
		return true
	}
	switch p.Mode {
	case "", protocol.AccessPublic:
		return true
	case protocol.AccessOwnerOnly:
		return false
	case protocol.AccessAllowList:
		for _, id := range p.Allow {
			if id == caller {
				return true
			}
		}
		return false
	default:
		return false
	}
}

type MethodSpec struct {
	Name   string   `json:"name"`
	Doc    string   `json:"doc,omitempty"`
	Params []string `json:"params,omitempty"`
}

// Action is one kernel operation submitted by a principal.
type Action struct {
	Type       string
	ArtifactID string

	// WRITE fields.
	Content        []byte
	ContentType    string
	Code           string
	Price          scrip.Amount
	ReadPrice      scrip.Amount
	ResourcePolicy string
	Access         *AccessPolicy

	// INVOKE fields.
	Method string
	Args   map[string]any
}

// ActionResult is the single observable outcome of an action.
type ActionResult struct {
	Success           bool
	Code              string
	Message           string
	ResourcesConsumed map[string]int64
	ChargedTo         string
	Value             any
}

func failure(code, message string) ActionResult {
	if !protocol.IsKnownCode(code) {
		code = protocol.ErrInternal
	}
	return ActionResult{Code: code, Message: message}
}

func success(message string) ActionResult {
	return ActionResult{Success: true, Message: message}
}

// CodedError carries a protocol error code across service and capability
// boundaries.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string { return e.Code + ": " + e.Message }

func Errf(code, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsCoded maps any error to a coded error, defaulting to E_INTERNAL.
func AsCoded(err error) *CodedError {
	if ce, ok := err.(*CodedError); ok {
		return ce
	}
	return &CodedError{Code: protocol.ErrInternal, Message: err.Error()}
}
