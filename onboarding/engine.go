package onboarding

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/onboarding/backend"
	"github.com/hearth-home/hearth/onboarding/extract"
	"github.com/hearth-home/hearth/onboarding/metrics"
	"github.com/hearth-home/hearth/onboarding/sse"
	"github.com/hearth-home/hearth/onboarding/vocab"
)

// Backend is everything the engine needs from the outside world. The
// production implementation is backend.Client; tests substitute their own.
type Backend interface {
	StreamAssistant(ctx context.Context, req backend.StreamRequest) (io.ReadCloser, error)
	UpsertMemory(ctx context.Context, up backend.MemoryUpsert) error
	Commit(ctx context.Context, req backend.CommitRequest) (*backend.CommitResponse, error)
	Reset(ctx context.Context, req backend.ResetRequest) error
	ResolveFamily(ctx context.Context, familyName string) (string, error)
}

var _ Backend = (*backend.Client)(nil)

// Source says which path produced a finalized reply.
type Source string

const (
	// SourceAssistant marks a reply streamed to completion with content.
	SourceAssistant Source = "assistant"
	// SourceBuffer marks a reply salvaged from a partially streamed turn.
	SourceBuffer Source = "buffer"
	// SourceFallback marks a locally synthesized reply.
	SourceFallback Source = "fallback"
	// SourceReset marks replies produced by the reset sub-dialogue.
	SourceReset Source = "reset"
)

// ErrSuperseded is returned for a turn that was overtaken by a newer user
// message (or by a client disconnect). Nothing from such a turn reaches the
// conversation state, and callers should surface nothing to the user.
var ErrSuperseded = errors.New("turn superseded by a newer message")

// Listener receives live stream events for re-emission to a client while a
// turn is still in flight. Finalized values travel on the returned
// TurnResult instead. Any callback may be nil.
type Listener struct {
	OnToken     func(delta, total string)
	OnAssistant func(content string)
	OnState     func(st sse.StatePayload)
}

func (l *Listener) emitToken(delta, total string) {
	if l != nil && l.OnToken != nil {
		l.OnToken(delta, total)
	}
}

func (l *Listener) emitAssistant(content string) {
	if l != nil && l.OnAssistant != nil {
		l.OnAssistant(content)
	}
}

func (l *Listener) emitState(st sse.StatePayload) {
	if l != nil && l.OnState != nil {
		l.OnState(st)
	}
}

// TurnResult is the finalized outcome of one user message.
type TurnResult struct {
	Reply     string
	Step      Step
	Source    Source
	Committed bool
	State     ConversationState
}

const (
	defaultGrace         = 900 * time.Millisecond
	defaultStreamTimeout = 60 * time.Second
	defaultHistoryWindow = 12
)

// Options tune one engine. Zero values pick the defaults above.
type Options struct {
	// Grace is how long a silent stream may stay silent before the
	// deterministic fallback takes over the turn.
	Grace time.Duration

	// StreamTimeout bounds one assistant stream end to end.
	StreamTimeout time.Duration

	// HistoryWindow is how many trailing log messages accompany each
	// assistant request.
	HistoryWindow int

	Logger  *slog.Logger
	Metrics *metrics.Recorder

	// ResolveFamily overrides backend.ResolveFamily, letting a manager
	// dedupe concurrent resolutions of the same family name.
	ResolveFamily func(ctx context.Context, familyName string) (string, error)
}

// Engine owns exactly one conversation. All state mutations are serialized
// through mu; the only thing written outside it is the turn's live buffer,
// which has its own lock.
type Engine struct {
	backend       Backend
	log           *slog.Logger
	rec           *metrics.Recorder
	grace         time.Duration
	streamTimeout time.Duration
	historyWindow int
	resolve       func(ctx context.Context, familyName string) (string, error)

	mu   sync.Mutex
	conv *conversation
	turn *turnHandle
	gen  uint64
}

// turnHandle tracks one in-flight assistant stream. finalized is the claim
// flag: whichever path flips it first owns the turn's outcome.
type turnHandle struct {
	gen       uint64
	ctx       context.Context
	cancel    context.CancelFunc
	buf       liveBuffer
	finalized atomic.Bool
}

// liveBuffer is the single-writer cell holding the partial assistant text.
// The stream collector writes it; the grace timer and Snapshot read it.
type liveBuffer struct {
	mu   sync.Mutex
	text string
}

func (b *liveBuffer) Set(text string) {
	b.mu.Lock()
	b.text = text
	b.mu.Unlock()
}

func (b *liveBuffer) Read() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// NewEngine builds an engine for one (family, user) identity. conversationID
// may be empty, in which case a short id is generated.
func NewEngine(b Backend, conversationID, familyID, userID string, opts Options) *Engine {
	if conversationID == "" {
		conversationID = shortuuid.New()
	}
	if opts.Grace <= 0 {
		opts.Grace = defaultGrace
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = defaultStreamTimeout
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = defaultHistoryWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRecorder(metrics.DefaultConfig())
	}
	resolve := opts.ResolveFamily
	if resolve == nil {
		resolve = b.ResolveFamily
	}
	return &Engine{
		backend:       b,
		log:           opts.Logger,
		rec:           opts.Metrics,
		grace:         opts.Grace,
		streamTimeout: opts.StreamTimeout,
		historyWindow: opts.HistoryWindow,
		resolve:       resolve,
		conv:          newConversation(conversationID, familyID, userID),
	}
}

// Snapshot returns the current state. While a stream is in flight the
// snapshot carries its partial text in StreamingText.
func (e *Engine) Snapshot() ConversationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	streaming := ""
	if e.turn != nil && !e.turn.finalized.Load() {
		streaming = e.turn.buf.Read()
	}
	return e.conv.snapshot(streaming)
}

func (e *Engine) ConversationID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.id
}

func (e *Engine) LastActive() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.updatedAt
}

// Busy reports whether a stream is currently in flight.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.turn != nil && !e.turn.finalized.Load()
}

// SendUserMessage runs one conversation turn: it appends the message, races
// the streamed assistant against the grace timer, applies slot extraction,
// persists what changed, resolves the next step, and returns the finalized
// reply. A turn overtaken by a newer message returns ErrSuperseded.
func (e *Engine) SendUserMessage(ctx context.Context, text string, l *Listener) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty message")
	}
	start := time.Now()

	e.mu.Lock()
	e.conv.lastError = ""

	// The reset sub-dialogue intercepts everything, then an explicit
	// reset command, and only then does the message become a normal turn.
	if e.conv.awaitingReset {
		res := e.resetAnswerTurnLocked(ctx, text, start)
		e.mu.Unlock()
		return res, nil
	}
	if vocab.IsResetCommand(text) {
		res := e.resetCommandTurnLocked(ctx, text, start)
		e.mu.Unlock()
		return res, nil
	}

	stepAt := e.conv.step
	e.conv.appendMessage(SenderUser, text)
	e.cancelTurnLocked()
	e.gen++
	tctx, cancel := context.WithTimeout(ctx, e.streamTimeout)
	h := &turnHandle{gen: e.gen, ctx: tctx, cancel: cancel}
	e.turn = h
	req := e.streamRequestLocked(text)
	e.mu.Unlock()
	defer cancel()

	type streamDone struct {
		res *sse.Result
		err error
	}
	done := make(chan streamDone, 1)
	go func() {
		res, err := e.runStream(h, req, l)
		done <- streamDone{res, err}
	}()

	select {
	case d := <-done:
		return e.finalizeStream(ctx, h, stepAt, text, d.res, d.err, start)
	case <-time.After(e.grace):
		// Grace expired. Re-read the buffer just in time: content means
		// the stream is alive and worth waiting for, silence means the
		// fallback takes the turn.
		if strings.TrimSpace(h.buf.Read()) != "" {
			d := <-done
			return e.finalizeStream(ctx, h, stepAt, text, d.res, d.err, start)
		}
		h.cancel()
		d := <-done
		// A stream that raced to completion may still carry a state payload
		// worth merging even though its text lost the turn.
		return e.finishTurn(ctx, h, stepAt, text, turnOutcome{source: SourceFallback, stream: d.res}, start)
	}
}

// runStream drains one assistant stream, mirroring partial text into the
// turn's live buffer and re-emitting events to the listener.
func (e *Engine) runStream(h *turnHandle, req backend.StreamRequest, l *Listener) (*sse.Result, error) {
	start := time.Now()
	body, err := e.backend.StreamAssistant(h.ctx, req)
	if err != nil {
		e.recordStreamOutcome(nil, err, time.Since(start))
		return nil, err
	}
	defer body.Close()

	sink := &sse.Sink{
		OnToken: func(delta, total string) {
			h.buf.Set(total)
			l.emitToken(delta, total)
		},
		OnAssistant: func(content string) {
			h.buf.Set(content)
			l.emitAssistant(content)
		},
		OnState: func(st sse.StatePayload) {
			l.emitState(st)
		},
	}
	res, err := sse.Collect(body, sink)
	e.recordStreamOutcome(res, err, time.Since(start))
	return res, err
}

func (e *Engine) recordStreamOutcome(res *sse.Result, err error, d time.Duration) {
	switch {
	case err != nil && isAbort(err):
		e.rec.RecordStream(metrics.StreamAborted, d)
	case err != nil:
		e.rec.RecordStream(metrics.StreamFailed, d)
	case res != nil && res.HasContent:
		e.rec.RecordStream(metrics.StreamCompleted, d)
	default:
		e.rec.RecordStream(metrics.StreamNoContent, d)
	}
}

// finalizeStream decides what a finished (or failed) stream is worth. An
// abort never falls back: the superseding turn owns the conversation now.
func (e *Engine) finalizeStream(ctx context.Context, h *turnHandle, stepAt Step, text string, res *sse.Result, err error, start time.Time) (*TurnResult, error) {
	if err != nil && isAbort(err) {
		return nil, ErrSuperseded
	}
	if err == nil && res != nil && res.HasContent {
		return e.finishTurn(ctx, h, stepAt, text, turnOutcome{
			reply:  strings.TrimSpace(res.Text),
			source: SourceAssistant,
			stream: res,
		}, start)
	}
	// Failed or empty. Partial buffered text still beats fabricating a
	// reply the assistant never gave.
	if buf := strings.TrimSpace(h.buf.Read()); buf != "" {
		if err != nil {
			e.log.Warn("assistant stream failed, finalizing from buffer",
				"conversation", e.ConversationID(), "err", err)
		}
		return e.finishTurn(ctx, h, stepAt, text, turnOutcome{
			reply:  buf,
			source: SourceBuffer,
			stream: res,
		}, start)
	}
	if err != nil {
		e.log.Warn("assistant stream failed, using fallback",
			"conversation", e.ConversationID(), "err", err)
	}
	return e.finishTurn(ctx, h, stepAt, text, turnOutcome{source: SourceFallback, stream: res}, start)
}

// turnOutcome is the raw material finishTurn turns into conversation state.
type turnOutcome struct {
	reply  string
	source Source
	stream *sse.Result
	fb     *FallbackResult
}

// finishTurn claims the turn, applies extraction and merges, persists the
// changed slots, resolves the next step, auto-commits when everything is
// captured, and appends the reply. Exactly one caller per turn gets past the
// claim; stale generations are dropped without touching state.
func (e *Engine) finishTurn(ctx context.Context, h *turnHandle, stepAt Step, text string, out turnOutcome, start time.Time) (*TurnResult, error) {
	if !h.finalized.CompareAndSwap(false, true) {
		return nil, ErrSuperseded
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if h.gen != e.gen {
		return nil, ErrSuperseded
	}
	if e.turn == h {
		e.turn = nil
	}

	if out.source == SourceFallback {
		fb := Fallback(e.conv.snapshot(""), text)
		out.fb = &fb
		out.reply = fb.Reply
	}

	var st *sse.StatePayload
	streamStep := ""
	if out.stream != nil {
		st = out.stream.State
		streamStep = out.stream.NextStep
	}

	changes := e.applyUpdatesLocked(stepAt, text, st, out.fb)
	e.ensureFamilyIDLocked(ctx)
	e.persistSlotsLocked(ctx, changes)

	next := e.resolveStepLocked(stepAt, text, streamStep, out.fb)

	committed := false
	if (next == StepCommitted || next == StepCompleted) &&
		e.conv.step != StepCommitted && e.conv.step != StepCompleted {
		if _, err := e.commitLocked(ctx, nil); err != nil {
			// Stay interactive on the current step; commitLocked already
			// recorded the user-facing error.
			e.log.Warn("auto-commit failed", "conversation", e.conv.id, "err", err)
			next = e.conv.step
		} else {
			committed = true
		}
	}
	e.conv.step = next
	e.conv.appendMessage(SenderAssistant, out.reply)

	e.rec.RecordTurn(string(stepAt), string(out.source), time.Since(start))
	return &TurnResult{
		Reply:     out.reply,
		Step:      e.conv.step,
		Source:    out.source,
		Committed: committed,
		State:     e.conv.snapshot(""),
	}, nil
}

// slotChanges counts what one turn added, for persistence and metrics.
type slotChanges struct {
	family  bool
	members int
	rooms   int
}

func (c slotChanges) any() bool {
	return c.family || c.members > 0 || c.rooms > 0
}

// applyUpdatesLocked merges slot values from the stream's state payload,
// from the fallback, and from step-scoped extraction of the raw message.
// Extraction always runs: the assistant's view never overrides what the
// user literally typed.
func (e *Engine) applyUpdatesLocked(stepAt Step, text string, st *sse.StatePayload, fb *FallbackResult) slotChanges {
	var ch slotChanges
	membersBefore := len(e.conv.members)
	roomsBefore := len(e.conv.rooms)

	if st != nil {
		if e.conv.setFamilyName(st.FamilyName) {
			ch.family = true
		}
		e.conv.mergeMembers(membersFromPayload(st.Members))
		e.conv.mergeRooms(st.Rooms)
	}
	if fb != nil {
		if e.conv.setFamilyName(fb.FamilyName) {
			ch.family = true
		}
		e.conv.mergeMembers(fb.Members)
		e.conv.mergeRooms(fb.Rooms)
	}

	switch stepAt {
	case StepGreeting:
		if e.conv.familyName == "" {
			if name, ok := extract.CleanFamilyName(text); ok {
				if e.conv.setFamilyName(name) {
					ch.family = true
				}
			}
		}
	case StepMembers:
		e.conv.mergeMembers(membersFromExtract(extract.Members(text)))
	case StepRooms:
		e.conv.mergeRooms(extract.Rooms(text, extractMembers(e.conv.members), e.conv.rooms))
	}

	ch.members = len(e.conv.members) - membersBefore
	ch.rooms = len(e.conv.rooms) - roomsBefore
	e.rec.RecordSlotMerge("members", ch.members)
	e.rec.RecordSlotMerge("rooms", ch.rooms)
	if ch.family {
		e.rec.RecordSlotMerge("family_name", 1)
	}
	return ch
}

// resolveStepLocked picks the next step: the streamed step when it parses,
// otherwise the fallback's suggestion, otherwise whatever the slots imply.
// Done phrases force their transitions regardless, steps never move
// backward, and commit steps are unreachable while a slot is still empty.
func (e *Engine) resolveStepLocked(stepAt Step, text string, streamStep string, fb *FallbackResult) Step {
	current := e.conv.step

	next := current
	if s, ok := ParseStep(streamStep); ok {
		next = s
	} else if fb != nil && fb.SuggestedStep != "" {
		next = fb.SuggestedStep
	} else {
		next = e.conv.slotDerivedStep()
	}

	if stepAt == StepMembers && vocab.IsMembersDone(text) {
		if len(e.conv.members) > 0 {
			next = StepRooms
		} else {
			next = StepMembers
		}
	}
	if stepAt == StepRooms && vocab.IsRoomsDone(text) {
		next = StepCommitted
	}

	if (next == StepCommitted || next == StepCompleted) && !e.conv.slotStatus().Filled() {
		next = e.conv.slotDerivedStep()
	}
	if next.rank() < current.rank() {
		next = current
	}
	return next
}

// ensureFamilyIDLocked resolves the family id once the family name is known.
// Success is memoized for the rest of the session; failure is logged and
// retried on a later turn.
func (e *Engine) ensureFamilyIDLocked(ctx context.Context) {
	if e.conv.familyID != "" || e.conv.familyName == "" {
		return
	}
	id, err := e.resolve(ctx, e.conv.familyName)
	if err != nil {
		e.log.Warn("family resolution failed",
			"conversation", e.conv.id, "family_name", e.conv.familyName, "err", err)
		return
	}
	e.conv.familyID = id
}

// persistSlotsLocked upserts each changed slot into the memory store. The
// writes are awaited so the turn's durability is known before it finishes,
// but failures only mark the conversation, they never break the turn.
func (e *Engine) persistSlotsLocked(ctx context.Context, ch slotChanges) {
	if !ch.any() {
		return
	}
	if ch.family {
		e.upsertLocked(ctx, backend.KeyFamilyName, e.conv.familyName)
	}
	if ch.members > 0 {
		e.upsertLocked(ctx, backend.KeyMemberCandidates, e.conv.members)
	}
	if ch.rooms > 0 {
		e.upsertLocked(ctx, backend.KeyRoomCandidates, e.conv.rooms)
	}
}

func (e *Engine) upsertLocked(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		e.rec.RecordMemoryUpsert(false)
		e.log.Error("encode memory value", "key", key, "err", err)
		return
	}
	err = e.backend.UpsertMemory(ctx, backend.MemoryUpsert{
		FamilyID:  e.conv.familyID,
		UserID:    e.conv.userID,
		Namespace: backend.MemoryNamespace,
		Key:       key,
		Value:     string(raw),
	})
	e.rec.RecordMemoryUpsert(err == nil)
	if err != nil {
		e.conv.lastError = "I couldn't save part of your progress just now, but nothing is lost here."
		e.log.Warn("memory upsert failed", "conversation", e.conv.id, "key", key, "err", err)
	}
}

func (e *Engine) streamRequestLocked(text string) backend.StreamRequest {
	msgs := e.conv.messages
	if n := len(msgs); n > 0 {
		// The message being answered travels in its own field.
		msgs = msgs[:n-1]
	}
	lo := 0
	if len(msgs) > e.historyWindow {
		lo = len(msgs) - e.historyWindow
	}
	hist := make([]backend.HistoryEntry, 0, len(msgs)-lo)
	for _, m := range msgs[lo:] {
		hist = append(hist, backend.HistoryEntry{Sender: string(m.Sender), Text: m.Text})
	}
	return backend.StreamRequest{
		Message:  text,
		FamilyID: e.conv.familyID,
		UserID:   e.conv.userID,
		History:  hist,
	}
}

func (e *Engine) cancelTurnLocked() {
	if e.turn != nil {
		e.turn.cancel()
		e.turn = nil
	}
}

func membersFromPayload(in []sse.MemberPayload) []Member {
	out := make([]Member, 0, len(in))
	for _, m := range in {
		out = append(out, Member{Name: m.Name, Role: m.Role, Email: m.Email})
	}
	return out
}

func isAbort(err error) bool {
	return errors.Is(err, context.Canceled)
}
