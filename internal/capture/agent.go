// Package capture turns raw browser signals into a throttled, classified,
// privacy-safe event stream. The agent is embedded by the client bridge,
// which forwards DOM events as the signal structs below; it owns its
// session-scoped counters and the buffering/transport path behind them.
package capture

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"formpulse-backend/internal/models"
	"formpulse-backend/internal/privacy"
)

type AgentConfig struct {
	MoveInterval   time.Duration // minimum gap between recorded move samples
	ScrollInterval time.Duration // minimum gap between recorded scroll samples
	RageWindow     time.Duration
	RageRadius     int
	RageThreshold  int
	FlushInterval  time.Duration // dead-man's switch, independent of buffer thresholds
}

func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MoveInterval:   100 * time.Millisecond,
		ScrollInterval: 180 * time.Millisecond,
		RageWindow:     500 * time.Millisecond,
		RageRadius:     30,
		RageThreshold:  3,
		FlushInterval:  10 * time.Second,
	}
}

// Counters are session-scoped behavioral tallies owned by the agent
// instance. No process-wide state.
type Counters struct {
	Clicks         int `json:"clicks"`
	RageClicks     int `json:"rage_clicks"`
	DeadClicks     int `json:"dead_clicks"`
	MaxScrollDepth int `json:"max_scroll_depth"` // percent
}

type ClickSignal struct {
	Element                privacy.Element
	TimestampMs            int64
	ViewportX, ViewportY   int
	PageX, PageY           int
	Role                   string
	Cursor                 string
	HasInteractiveAncestor bool
}

type MoveSignal struct {
	TimestampMs          int64
	ViewportX, ViewportY int
	PageX, PageY         int
}

type ScrollSignal struct {
	TimestampMs  int64
	ScrollY      int
	DepthPercent int
}

type InputSignal struct {
	Element     privacy.Element
	TimestampMs int64
	HasValue    bool
	ValueLength int
}

type ResizeSignal struct {
	TimestampMs   int64
	Width, Height int
}

type PageLoadSignal struct {
	TimestampMs    int64
	URL            string
	Title          string
	ViewportWidth  int
	ViewportHeight int
}

type Agent struct {
	cfg     AgentConfig
	filter  *privacy.Filter
	consent *privacy.ConsentGate
	buffer  *Buffer

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	counters Counters

	moveWindowStart   int64
	pendingMove       *MoveSignal
	scrollWindowStart int64
	pendingScroll     *ScrollSignal

	lastClickTs   int64
	lastClickX    int
	lastClickY    int
	sameSpotCount int
}

func NewAgent(cfg AgentConfig, filter *privacy.Filter, consent *privacy.ConsentGate, buffer *Buffer) *Agent {
	if cfg.MoveInterval <= 0 {
		cfg = DefaultAgentConfig()
	}
	return &Agent{
		cfg:               cfg,
		filter:            filter,
		consent:           consent,
		buffer:            buffer,
		moveWindowStart:   -1,
		scrollWindowStart: -1,
		lastClickTs:       -1,
	}
}

// Start attaches the agent and begins the periodic flush loop. Idempotent.
// Recording never starts until consent is resolved.
func (a *Agent) Start() bool {
	if !a.consent.Allowed() {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return true
	}
	a.running = true
	a.stopCh = make(chan struct{})
	go a.flushLoop(a.stopCh)
	return true
}

// Stop detaches deterministically and performs a best-effort final flush via
// the fire-and-forget path. Idempotent.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.stopCh)
	a.mu.Unlock()

	a.flushPendingSamples()
	a.buffer.FinalFlush(context.Background())
}

// flushLoop polls the buffer's own time-based trigger at the buffer's flush
// interval, and separately forces an unconditional flush on the dead-man
// tick in case the interval trigger is misconfigured or the buffer clock
// stalls.
func (a *Agent) flushLoop(stop <-chan struct{}) {
	poll := time.NewTicker(a.buffer.cfg.MaxInterval)
	deadman := time.NewTicker(a.cfg.FlushInterval)
	defer poll.Stop()
	defer deadman.Stop()
	for {
		select {
		case <-stop:
			return
		case <-poll.C:
			a.flushPendingSamples()
			a.buffer.TimedFlush(context.Background())
		case <-deadman.C:
			a.flushPendingSamples()
			a.buffer.Flush(context.Background(), false)
		}
	}
}

// flushPendingSamples records the held trailing move and scroll samples.
// Runs on every flush tick and on Stop so the last sample of a stream that
// went quiet is not stranded in the throttle.
func (a *Agent) flushPendingSamples() {
	a.mu.Lock()
	move := a.pendingMove
	scroll := a.pendingScroll
	a.pendingMove = nil
	a.pendingScroll = nil
	a.mu.Unlock()

	if move != nil {
		a.recordMove(*move)
	}
	if scroll != nil {
		a.recordScroll(*scroll)
	}
}

func (a *Agent) Counters() Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters
}

func (a *Agent) active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running && a.consent.Allowed()
}

// OnClick runs in capture phase on the client so it sees originally-targeted
// elements even when default UI blocks propagation.
func (a *Agent) OnClick(sig ClickSignal) {
	if !a.active() {
		return
	}
	if a.filter.Decide(sig.Element) == privacy.Block {
		return
	}

	interactive := isInteractive(sig)

	a.mu.Lock()
	a.counters.Clicks++
	if !interactive {
		// Observational only: the underlying click event is still recorded.
		a.counters.DeadClicks++
	}
	rage := a.trackRageClick(sig)
	a.mu.Unlock()

	payload, _ := json.Marshal(models.ClickPayload{
		Selector:      sig.Element.Selector,
		Tag:           sig.Element.Tag,
		ViewportX:     sig.ViewportX,
		ViewportY:     sig.ViewportY,
		PageX:         sig.PageX,
		PageY:         sig.PageY,
		IsInteractive: interactive,
	})
	a.buffer.Append(models.RawEvent{Type: models.EventClick, TimestampMs: sig.TimestampMs, Payload: payload})

	if rage {
		ragePayload, _ := json.Marshal(models.ClickPayload{
			Selector:  sig.Element.Selector,
			Tag:       sig.Element.Tag,
			ViewportX: sig.ViewportX,
			ViewportY: sig.ViewportY,
			PageX:     sig.PageX,
			PageY:     sig.PageY,
		})
		a.buffer.Append(models.RawEvent{Type: models.EventRageClick, TimestampMs: sig.TimestampMs, Payload: ragePayload})
	}
}

// trackRageClick judges cluster membership against the immediately preceding
// click only: both the time window and the radius must hold, otherwise the
// same-spot counter restarts at 1. A pause longer than the window restarts
// the cluster even in-radius. A rage event fires on each upward crossing of
// the threshold (3rd, 6th, ... click), never in between.
// Caller holds a.mu.
func (a *Agent) trackRageClick(sig ClickSignal) bool {
	within := a.lastClickTs >= 0 &&
		sig.TimestampMs-a.lastClickTs <= a.cfg.RageWindow.Milliseconds() &&
		abs(sig.ViewportX-a.lastClickX) <= a.cfg.RageRadius &&
		abs(sig.ViewportY-a.lastClickY) <= a.cfg.RageRadius

	if within {
		a.sameSpotCount++
	} else {
		a.sameSpotCount = 1
	}
	a.lastClickTs = sig.TimestampMs
	a.lastClickX = sig.ViewportX
	a.lastClickY = sig.ViewportY

	if a.sameSpotCount > 0 && a.sameSpotCount%a.cfg.RageThreshold == 0 {
		a.counters.RageClicks++
		return true
	}
	return false
}

// OnPointerMove throttles trailing-edge: every sample replaces the held one,
// and the held sample is recorded when its interval closes (or at the next
// flush). Only the latest sample inside each interval reaches the buffer.
func (a *Agent) OnPointerMove(sig MoveSignal) {
	if !a.active() {
		return
	}

	a.mu.Lock()
	var emit *MoveSignal
	if a.moveWindowStart < 0 {
		a.moveWindowStart = sig.TimestampMs
	} else if sig.TimestampMs-a.moveWindowStart >= a.cfg.MoveInterval.Milliseconds() {
		emit = a.pendingMove
		a.moveWindowStart = sig.TimestampMs
	}
	held := sig
	a.pendingMove = &held
	a.mu.Unlock()

	if emit != nil {
		a.recordMove(*emit)
	}
}

func (a *Agent) recordMove(sig MoveSignal) {
	payload, _ := json.Marshal(models.MovePayload{
		ViewportX: sig.ViewportX,
		ViewportY: sig.ViewportY,
		PageX:     sig.PageX,
		PageY:     sig.PageY,
	})
	a.buffer.Append(models.RawEvent{Type: models.EventMove, TimestampMs: sig.TimestampMs, Payload: payload})
}

// OnScroll throttles the same way moves do. Max depth is tracked from every
// sample, throttled or not.
func (a *Agent) OnScroll(sig ScrollSignal) {
	if !a.active() {
		return
	}

	a.mu.Lock()
	if sig.DepthPercent > a.counters.MaxScrollDepth {
		a.counters.MaxScrollDepth = sig.DepthPercent
	}
	var emit *ScrollSignal
	if a.scrollWindowStart < 0 {
		a.scrollWindowStart = sig.TimestampMs
	} else if sig.TimestampMs-a.scrollWindowStart >= a.cfg.ScrollInterval.Milliseconds() {
		emit = a.pendingScroll
		a.scrollWindowStart = sig.TimestampMs
	}
	held := sig
	a.pendingScroll = &held
	a.mu.Unlock()

	if emit != nil {
		a.recordScroll(*emit)
	}
}

func (a *Agent) recordScroll(sig ScrollSignal) {
	payload, _ := json.Marshal(models.ScrollPayload{ScrollY: sig.ScrollY, DepthPercent: sig.DepthPercent})
	a.buffer.Append(models.RawEvent{Type: models.EventScroll, TimestampMs: sig.TimestampMs, Payload: payload})
}

// OnInput records field metadata only, never the literal value. Sensitive
// fields get their value length suppressed too.
func (a *Agent) OnInput(sig InputSignal) {
	if !a.active() {
		return
	}
	if a.filter.Decide(sig.Element) == privacy.Block {
		return
	}

	p := models.InputPayload{
		Selector:  sig.Element.Selector,
		Tag:       sig.Element.Tag,
		InputType: sig.Element.InputType,
		Name:      sig.Element.Name,
		HasValue:  sig.HasValue,
	}
	if !a.filter.IsSensitive(sig.Element) {
		length := sig.ValueLength
		p.ValueLength = &length
	}

	payload, _ := json.Marshal(p)
	a.buffer.Append(models.RawEvent{Type: models.EventInput, TimestampMs: sig.TimestampMs, Payload: payload})
}

func (a *Agent) OnResize(sig ResizeSignal) {
	if !a.active() {
		return
	}
	payload, _ := json.Marshal(models.ResizePayload{Width: sig.Width, Height: sig.Height})
	a.buffer.Append(models.RawEvent{Type: models.EventResize, TimestampMs: sig.TimestampMs, Payload: payload})
}

func (a *Agent) OnPageLoad(sig PageLoadSignal) {
	if !a.active() {
		return
	}
	payload, _ := json.Marshal(models.PageLoadPayload{
		URL:            sig.URL,
		Title:          sig.Title,
		ViewportWidth:  sig.ViewportWidth,
		ViewportHeight: sig.ViewportHeight,
	})
	a.buffer.Append(models.RawEvent{Type: models.EventPageLoad, TimestampMs: sig.TimestampMs, Payload: payload})
}

// EmitCustom injects an application-level event through the same buffering
// path. Property values are sanitized before leaving the client.
func (a *Agent) EmitCustom(timestampMs int64, name string, properties map[string]any) {
	if !a.active() {
		return
	}
	sanitized := make(map[string]any, len(properties))
	for k, v := range properties {
		if s, ok := v.(string); ok {
			sanitized[k] = privacy.SanitizeText(s)
		} else {
			sanitized[k] = v
		}
	}
	payload, _ := json.Marshal(models.CustomPayload{Name: name, Properties: sanitized})
	a.buffer.Append(models.RawEvent{Type: models.EventCustom, TimestampMs: timestampMs, Payload: payload})
}

var interactiveTags = map[string]bool{
	"a":        true,
	"button":   true,
	"input":    true,
	"select":   true,
	"textarea": true,
	"label":    true,
	"option":   true,
	"summary":  true,
}

var interactiveRoles = map[string]bool{
	"button":   true,
	"link":     true,
	"checkbox": true,
	"radio":    true,
	"switch":   true,
	"tab":      true,
	"menuitem": true,
	"option":   true,
}

// isInteractive computes the "is interactive" flag from tag name, closest
// interactive ancestor, explicit role attribute and computed cursor style.
func isInteractive(sig ClickSignal) bool {
	if interactiveTags[strings.ToLower(sig.Element.Tag)] {
		return true
	}
	if sig.HasInteractiveAncestor {
		return true
	}
	if interactiveRoles[strings.ToLower(sig.Role)] {
		return true
	}
	return strings.ToLower(sig.Cursor) == "pointer"
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
