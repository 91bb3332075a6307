// Package stt defines the continuous speech recognizer contract used by the
// interaction session and a Deepgram-backed implementation.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// Result is one recognizer hypothesis. Recognizers report the cumulative list
// of results for the current run: every finalized segment so far followed by
// at most one trailing interim hypothesis.
type Result struct {
	Transcript string
	Final      bool
}

// Handler receives recognizer events. Calls may arrive on any goroutine but
// never concurrently for the same run. OnEnd is not delivered after a
// terminal OnError.
type Handler interface {
	OnResults(results []Result)
	OnSpeechStart()
	OnError(err *Error)
	OnEnd()
}

type Recognizer interface {
	// Start begins a new recognition run reporting to h. It returns
	// ErrAlreadyStarted when a run is active.
	Start(ctx context.Context, h Handler) error
	// Stop ends the current run gracefully; h.OnEnd follows.
	Stop() error
	// Abort ends the current run without delivering further events.
	Abort() error
}

type ErrorKind string

const (
	KindNoSpeech   ErrorKind = "no-speech"
	KindNetwork    ErrorKind = "network"
	KindNotAllowed ErrorKind = "not-allowed"
	KindAborted    ErrorKind = "aborted"
	KindOther      ErrorKind = "other"
)

type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "stt: " + string(e.Kind)
	}
	return fmt.Sprintf("stt: %s: %s", e.Kind, e.Detail)
}

var ErrAlreadyStarted = errors.New("stt: recognizer already started")
