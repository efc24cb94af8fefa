// Package parent is a reference embedding parent: it owns the policy
// string a framed bundle negotiates over and answers the protocol's calls.
package parent

import (
	"context"
	"fmt"
	"sync"

	"github.com/jamesainslie/immutable/pkg/immutable/loader"
	"github.com/jamesainslie/immutable/pkg/immutable/logging"
	"github.com/jamesainslie/immutable/pkg/immutable/rpc"
)

// ProtocolID is returned by the capability probe.
const ProtocolID = "immutable/1"

// State is a snapshot of what the frame told the parent.
type State struct {
	Policy   string `json:"policy"`
	Manifest string `json:"manifest,omitempty"`
	Href     string `json:"href,omitempty"`
	Shown    bool   `json:"shown"`
	Sets     int    `json:"sets"`
}

// Parent holds the policy for one embedded frame.
type Parent struct {
	self string
	log  *logging.Logger

	mu    sync.Mutex
	state State
	show  chan struct{}
	once  sync.Once
}

// New creates a parent that pins self, the frame loader's source
// (e.g. "sha256-..."), and starts from policy. An empty policy allows the
// loader alone.
func New(self, policy string) *Parent {
	if policy == "" {
		policy = "script-src '" + self + "';"
	}
	return &Parent{
		self:  self,
		log:   logging.Get("parent"),
		state: State{Policy: policy},
		show:  make(chan struct{}),
	}
}

// Register installs the protocol handlers on srv.
func (p *Parent) Register(srv *rpc.Server) {
	srv.Handle(loader.MethodKnock, p.knock)
	srv.Handle(loader.MethodCSPGet, p.cspGet)
	srv.Handle(loader.MethodCSPSet, p.cspSet)
	srv.Handle(loader.MethodManifestSet, p.manifestSet)
	srv.Handle(loader.MethodFrameShow, p.frameShow)
	srv.Handle(loader.MethodHrefSet, p.hrefSet)
}

// State returns a snapshot.
func (p *Parent) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Shown is closed once the frame asked to be displayed.
func (p *Parent) Shown() <-chan struct{} { return p.show }

func (p *Parent) knock(context.Context, *rpc.Call) (any, error) {
	return ProtocolID, nil
}

func (p *Parent) cspGet(context.Context, *rpc.Call) (any, error) {
	return p.State().Policy, nil
}

// cspSet accepts a policy only if it keeps the pinned loader source first,
// so a frame can widen its own permissions but never replace its loader.
func (p *Parent) cspSet(_ context.Context, call *rpc.Call) (any, error) {
	var policy string
	if err := call.Param(0, &policy); err != nil {
		return nil, err
	}
	if got := loader.SelfSource(policy); got != p.self {
		return nil, &rpc.Error{Code: rpc.CodeInvalidParams, Message: fmt.Sprintf("policy must pin '%s', got '%s'", p.self, got)}
	}

	p.mu.Lock()
	p.state.Policy = policy
	p.state.Sets++
	p.mu.Unlock()

	p.log.Info("policy installed", "policy", policy, "origin", call.Origin)
	return nil, nil
}

func (p *Parent) manifestSet(_ context.Context, call *rpc.Call) (any, error) {
	var url string
	if err := call.Param(0, &url); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.state.Manifest = url
	p.mu.Unlock()
	return true, nil
}

func (p *Parent) frameShow(_ context.Context, call *rpc.Call) (any, error) {
	p.mu.Lock()
	p.state.Shown = true
	p.mu.Unlock()
	p.once.Do(func() { close(p.show) })
	p.log.Debug("frame shown", "origin", call.Origin)
	return nil, nil
}

func (p *Parent) hrefSet(_ context.Context, call *rpc.Call) (any, error) {
	var href string
	if err := call.Param(0, &href); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.state.Href = href
	p.mu.Unlock()
	return nil, nil
}
