package state

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"parlance/pkg/protocol"
)

// RegistrationMode selects how (or whether) the server accepts account
// registrations over the protocol.
type RegistrationMode int

const (
	// RegistrationNone always fails with unsupported.
	RegistrationNone RegistrationMode = iota
	// RegistrationNormal succeeds immediately.
	RegistrationNormal
	// RegistrationPreApproved parks the request until a separate approval
	// message arrives for the user or username.
	RegistrationPreApproved
	// RegistrationWebPage is handled out of band; the protocol layer reports
	// unsupported.
	RegistrationWebPage
	// RegistrationMessage is handled out of band; the protocol layer reports
	// unsupported.
	RegistrationMessage
)

// ParseRegistrationMode maps a config string to a mode. Unknown strings fall
// back to none.
func ParseRegistrationMode(s string) RegistrationMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return RegistrationNormal
	case "preapproved", "approved":
		return RegistrationPreApproved
	case "webpage":
		return RegistrationWebPage
	case "message":
		return RegistrationMessage
	default:
		return RegistrationNone
	}
}

type pendingRegistration struct {
	connID   uuid.UUID
	password string
}

// Registrar drives the registration state machine. Accounts live in memory;
// persistence is deliberately out of scope.
type Registrar struct {
	mu       sync.Mutex
	mode     RegistrationMode
	accounts map[string]string              // username -> password
	pending  map[string]pendingRegistration // username -> awaiting approval
	byConn   map[uuid.UUID]string           // connID -> pending username
}

// NewRegistrar builds a registrar in the given mode.
func NewRegistrar(mode RegistrationMode) *Registrar {
	return &Registrar{
		mode:     mode,
		accounts: make(map[string]string),
		pending:  make(map[string]pendingRegistration),
		byConn:   make(map[uuid.UUID]string),
	}
}

// Register runs one registration attempt for the connection.
func (r *Registrar) Register(connID uuid.UUID, username, password string) protocol.RegisterResultCode {
	username = strings.TrimSpace(username)
	if username == "" {
		return protocol.RegisterFailedUnsupported
	}
	key := strings.ToLower(username)

	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.mode {
	case RegistrationNormal:
		if _, exists := r.accounts[key]; exists {
			return protocol.RegisterFailedUsernameInUse
		}
		r.accounts[key] = password
		return protocol.RegisterSucceeded

	case RegistrationPreApproved:
		if _, exists := r.accounts[key]; exists {
			return protocol.RegisterFailedUsernameInUse
		}
		r.pending[key] = pendingRegistration{connID: connID, password: password}
		r.byConn[connID] = key
		return protocol.RegisterNotApproved

	default:
		// None, WebPage and Message all report unsupported to the protocol
		// layer; the latter two are approved out of band.
		return protocol.RegisterFailedUnsupported
	}
}

// ApproveUsername completes a pending registration. The second return is
// false for unknown usernames; callers drop those silently, by design.
func (r *Registrar) ApproveUsername(username string) (uuid.UUID, bool) {
	key := strings.ToLower(strings.TrimSpace(username))

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[key]
	if !ok {
		return uuid.UUID{}, false
	}
	delete(r.pending, key)
	delete(r.byConn, p.connID)
	r.accounts[key] = p.password
	return p.connID, true
}

// ApproveConn completes the pending registration belonging to a connection.
func (r *Registrar) ApproveConn(connID uuid.UUID) (uuid.UUID, bool) {
	r.mu.Lock()
	key, ok := r.byConn[connID]
	r.mu.Unlock()
	if !ok {
		return uuid.UUID{}, false
	}
	return r.ApproveUsername(key)
}

// DropConn forgets a connection's pending registration, e.g. on disconnect.
func (r *Registrar) DropConn(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key, ok := r.byConn[connID]; ok {
		delete(r.pending, key)
		delete(r.byConn, connID)
	}
}

// HasAccount reports whether a username is registered.
func (r *Registrar) HasAccount(username string) bool {
	key := strings.ToLower(strings.TrimSpace(username))

	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.accounts[key]
	return ok
}

// Validate checks a username/password pair against registered accounts.
func (r *Registrar) Validate(username, password string) bool {
	key := strings.ToLower(strings.TrimSpace(username))

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.accounts[key]
	return ok && stored == password
}
