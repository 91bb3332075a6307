package session

import "errors"

var (
	// ErrClosed is returned by actions on a closed session.
	ErrClosed = errors.New("session closed")
	// ErrUnknownModel is returned by SetModel for ids outside the catalog.
	ErrUnknownModel = errors.New("unknown model")
	// ErrNoRecognizer is returned by StartListening when no speech
	// recognizer is configured.
	ErrNoRecognizer = errors.New("speech recognition unavailable")

	errNoDispatcher = errors.New("no chat dispatcher configured")
)

// User-facing texts.
const (
	GreetingMessage   = "Halo! Saya adalah Virtual Assistant dari PT Utero Kreatif Indonesia. 👋 Silakan tekan tombol mikrofon dan ajukan pertanyaan seputar layanan kami!"
	QuotaMessage      = "Maaf, kuota API sudah habis untuk hari ini. Silakan coba lagi besok atau hubungi administrator."
	ConnectionMessage = "Maaf, terjadi kesalahan koneksi. Silakan coba lagi."

	recognitionFailed = "Speech recognition error"
	replyFailed       = "Gagal mendapatkan respons dari AI"
	handsFreeFailed   = "Voice Activity Detection is not supported"
)

// Error is a failure surfaced to the user. Message is what the UI shows.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
