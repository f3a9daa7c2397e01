package onboarding

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/onboarding/backend"
	"github.com/hearth-home/hearth/onboarding/vocab"
)

const resetPrompt = "Do you want to start over? That clears the family name, members, and rooms we've gathered so far. (yes / no)"

// ResetOptions tune a reset. The zero value clears server-side state too.
type ResetOptions struct {
	// SkipServer resets only local conversation state.
	SkipServer bool

	// KeepFamily preserves the resolved family id across the reset.
	KeepFamily bool
}

// RequestReset opens the reset confirmation sub-dialogue, the path a UI
// button takes. The next user message is treated as the yes/no answer.
func (e *Engine) RequestReset() ConversationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.conv.awaitingReset {
		e.conv.awaitingReset = true
		e.conv.appendMessage(SenderAssistant, resetPrompt)
	}
	return e.conv.snapshot("")
}

// Reset wipes the conversation immediately, without confirmation. The
// returned error reports a failed server-side reset; local state is cleared
// regardless, so callers can treat it as a warning.
func (e *Engine) Reset(ctx context.Context, opts ResetOptions) (ConversationState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.performResetLocked(ctx, opts)
	return e.conv.snapshot(""), err
}

// performResetLocked cancels any in-flight turn, clears server-side state
// unless told otherwise, and rebuilds the conversation from the greeting.
func (e *Engine) performResetLocked(ctx context.Context, opts ResetOptions) error {
	e.cancelTurnLocked()
	e.gen++

	var serverErr error
	if !opts.SkipServer {
		req := backend.ResetRequest{UserID: e.conv.userID, FamilyID: e.conv.familyID}
		if err := e.backend.Reset(ctx, req); err != nil {
			serverErr = errors.Wrap(err, "reset onboarding")
			e.log.Warn("server-side reset failed", "conversation", e.conv.id, "err", err)
		}
	}
	e.conv.resetInPlace(opts.KeepFamily)
	if serverErr != nil {
		e.conv.lastError = "I couldn't clear the saved setup on the server, but we're starting fresh here."
	}
	e.rec.RecordReset()
	return serverErr
}

// resetAnswerTurnLocked consumes the message answering the reset prompt.
// Only a clear yes resets; a clear no and anything unrecognizable both leave
// the conversation exactly as it was.
func (e *Engine) resetAnswerTurnLocked(ctx context.Context, text string, start time.Time) *TurnResult {
	stepAt := e.conv.step
	e.conv.appendMessage(SenderUser, text)

	ans := vocab.MatchResetAnswer(text)
	if ans == vocab.ResetUnknown && vocab.IsResetCommand(text) {
		ans = vocab.ResetYes
	}

	var reply string
	switch ans {
	case vocab.ResetYes:
		_ = e.performResetLocked(ctx, ResetOptions{})
		// resetInPlace re-seeded the greeting; that is the turn's reply.
		reply = greetingText
	case vocab.ResetNo:
		e.conv.awaitingReset = false
		reply = "No problem, everything stays as is. Let's pick up where we left off!"
		e.conv.appendMessage(SenderAssistant, reply)
	default:
		e.conv.awaitingReset = false
		reply = "Just to be safe, I haven't changed anything. If you do want to start over, say \"start over\"."
		e.conv.appendMessage(SenderAssistant, reply)
	}

	e.rec.RecordTurn(string(stepAt), string(SourceReset), time.Since(start))
	return &TurnResult{
		Reply:  reply,
		Step:   e.conv.step,
		Source: SourceReset,
		State:  e.conv.snapshot(""),
	}
}

// resetCommandTurnLocked handles an explicit "start over" typed in chat,
// which resets without a confirmation round-trip.
func (e *Engine) resetCommandTurnLocked(ctx context.Context, text string, start time.Time) *TurnResult {
	stepAt := e.conv.step
	e.conv.appendMessage(SenderUser, text)
	_ = e.performResetLocked(ctx, ResetOptions{})

	e.rec.RecordTurn(string(stepAt), string(SourceReset), time.Since(start))
	return &TurnResult{
		Reply:  greetingText,
		Step:   StepGreeting,
		Source: SourceReset,
		State:  e.conv.snapshot(""),
	}
}
