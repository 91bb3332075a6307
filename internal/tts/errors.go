package tts

import "errors"

var errNoSynthesizer = errors.New("tts: no on-device synthesizer configured")
