// Package loader implements the runtime half of a self-verifying bundle:
// the state machine that checks a delivered document against its embedded
// digest, negotiates script permissions with an embedding parent and
// decides whether the document may be revealed.
//
// Browser surfaces are injected through the capability interfaces in
// env.go so the protocol can be driven by tests and by Go hosts.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jamesainslie/immutable/pkg/immutable/logging"
	"github.com/jamesainslie/immutable/pkg/immutable/rpc"
)

// Protocol methods called on the embedding parent.
const (
	MethodKnock       = "knock_knock"
	MethodCSPGet      = "csp_get"
	MethodCSPSet      = "csp_set"
	MethodManifestSet = "manifest_set"
	MethodFrameShow   = "frame_show"
	MethodHrefSet     = "href_set"
)

// Default timeouts.
const (
	DefaultProbeTimeout = 100 * time.Millisecond
	DefaultCallTimeout  = time.Second
)

// FailureMessage is shown to the user when loading is rejected.
const FailureMessage = "An error occurred when loading this website. Please try again later."

// ErrPolicyNotApplied is returned by the Confirm strategy when the parent
// reports a policy other than the one it was asked to install.
var ErrPolicyNotApplied = errors.New("parent did not apply the requested policy")

// Config holds the values the build embedded in the loader.
type Config struct {
	// Hash is the canonical digest the document must match.
	Hash string

	// Sources are the CSP sources of the document's scripts.
	Sources []string

	// Manifest is the webapp manifest URL pushed to the parent, if any.
	Manifest string

	// Strategy applies after a new policy is installed. Defaults to Reload.
	Strategy Strategy

	// ProbeTimeout bounds the capability probe.
	ProbeTimeout time.Duration

	// CallTimeout bounds every other call.
	CallTimeout time.Duration

	// RegisterWorker registers the bundle's service worker once granted.
	RegisterWorker bool
}

// Deps are the capabilities of the realm the loader runs in.
type Deps struct {
	Env      Environment
	Document Document
	Alerter  Alerter

	// Parent is the RPC client to the embedding parent. Required when
	// the environment is framed.
	Parent *rpc.Client

	// Navigation is optional. Without it fragment changes are not
	// reported and the Reload strategy cannot reload.
	Navigation Navigation

	// Registrar is required when Config.RegisterWorker is set.
	Registrar *Registrar
}

// Loader runs the load protocol once.
type Loader struct {
	cfg  Config
	deps Deps
	log  *logging.Logger

	mu      sync.Mutex
	state   State
	history []State
	stopNav func()
}

// New creates a loader in the Start state.
func New(cfg Config, deps Deps) *Loader {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Loader{
		cfg:     cfg,
		deps:    deps,
		log:     logging.Get("loader"),
		state:   Start,
		history: []State{Start},
	}
}

// State returns the current state.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// History returns every state entered, in order.
func (l *Loader) History() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, len(l.history))
	copy(out, l.history)
	return out
}

// Close stops reporting navigations to the parent.
func (l *Loader) Close() {
	l.mu.Lock()
	stop := l.stopNav
	l.stopNav = nil
	l.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Run drives the protocol to a terminal state and returns it. The error
// is non-nil exactly when the result is Rejected.
func (l *Loader) Run(ctx context.Context) (State, error) {
	if l.State() != Start {
		return l.State(), errors.New("loader already ran")
	}

	if IsCrawler(l.deps.Env.UserAgent()) {
		l.log.Debug("crawler user agent, revealing as is")
		return l.to(Revealed), nil
	}

	serialized, err := l.deps.Document.Serialize()
	if err != nil {
		return l.reject(fmt.Errorf("serialize document: %w", err))
	}
	if err := CheckIntegrity(serialized, l.cfg.Hash); err != nil {
		return l.reject(err)
	}
	l.to(IntegrityChecked)

	if !l.deps.Env.Framed() {
		l.registerWorker(ctx)
		return l.to(Revealed), nil
	}

	return l.negotiate(ctx)
}

func (l *Loader) negotiate(ctx context.Context) (State, error) {
	if l.deps.Parent == nil {
		return l.reject(errors.New("framed without a parent channel"))
	}
	l.to(Negotiating)

	if _, err := l.call(ctx, l.cfg.ProbeTimeout, MethodKnock); err != nil {
		l.log.Info("parent does not speak the protocol, revealing without elevation", "error", err)
		if _, err := l.call(ctx, l.cfg.CallTimeout, MethodFrameShow); err != nil {
			l.log.Debug("frame_show after failed probe", "error", err)
		}
		return l.to(Revealed), nil
	}

	policy, err := l.policy(ctx)
	if err != nil {
		return l.reject(err)
	}

	expected := ExpectedPolicy(SelfSource(policy), l.cfg.Sources)
	if policy != expected {
		if _, err := l.call(ctx, l.cfg.CallTimeout, MethodCSPSet, expected); err != nil {
			return l.reject(fmt.Errorf("install policy: %w", err))
		}

		switch l.cfg.Strategy {
		case Confirm:
			current, err := l.policy(ctx)
			if err != nil {
				return l.reject(err)
			}
			if current != expected {
				return l.reject(fmt.Errorf("%w: have %q, want %q", ErrPolicyNotApplied, current, expected))
			}
		default:
			if l.deps.Navigation != nil {
				l.deps.Navigation.Reload()
			}
			return l.to(Reloading), nil
		}
	}
	l.to(Granted)

	if l.cfg.Manifest != "" {
		if _, err := l.call(ctx, l.cfg.CallTimeout, MethodManifestSet, l.cfg.Manifest); err != nil {
			l.log.Warn("manifest_set failed", "error", err)
		}
	}

	if l.deps.Navigation != nil {
		stop := l.deps.Navigation.OnNavigate(func(href string) {
			// Detached from the load: navigations outlive it.
			navCtx, cancel := context.WithTimeout(context.Background(), l.cfg.CallTimeout)
			defer cancel()
			if _, err := l.deps.Parent.Call(navCtx, MethodHrefSet, href); err != nil {
				l.log.Warn("href_set failed", "href", href, "error", err)
			}
		})
		l.mu.Lock()
		l.stopNav = stop
		l.mu.Unlock()
	}

	l.registerWorker(ctx)

	if _, err := l.call(ctx, l.cfg.CallTimeout, MethodFrameShow); err != nil {
		return l.reject(fmt.Errorf("reveal frame: %w", err))
	}
	return l.to(Revealed), nil
}

func (l *Loader) policy(ctx context.Context) (string, error) {
	raw, err := l.call(ctx, l.cfg.CallTimeout, MethodCSPGet)
	if err != nil {
		return "", fmt.Errorf("read policy: %w", err)
	}
	var policy string
	if err := json.Unmarshal(raw, &policy); err != nil {
		return "", &rpc.TransportError{Method: MethodCSPGet, Kind: rpc.ErrMalformed, Err: err}
	}
	return policy, nil
}

func (l *Loader) call(ctx context.Context, timeout time.Duration, method string, params ...any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return l.deps.Parent.Call(ctx, method, params...)
}

// registerWorker is best effort: a failure is logged, never fatal.
func (l *Loader) registerWorker(ctx context.Context) {
	if !l.cfg.RegisterWorker || l.deps.Registrar == nil {
		return
	}
	version, err := l.deps.Registrar.Register(ctx, l.deps.Env.Location())
	if err != nil {
		l.log.Warn("service worker registration failed", "error", err)
		return
	}
	l.log.Info("registered service worker", "version", version)
}

func (l *Loader) reject(err error) (State, error) {
	l.log.Error("load rejected", "error", err)
	if l.deps.Alerter != nil {
		l.deps.Alerter.Alert(FailureMessage)
	}
	l.to(Rejected)
	return Rejected, err
}

func (l *Loader) to(s State) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Debug("transition", "from", l.state, "to", s)
	l.state = s
	l.history = append(l.history, s)
	return s
}
