package stt

// Transcript is one recognition result from the streaming backend
type Transcript struct {
	// Text is the transcribed text
	Text string

	// IsFinal indicates a final transcription (true) versus interim (false)
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64

	// StartTime is the start of the utterance in seconds
	StartTime float64

	// Duration is the length of the utterance in seconds
	Duration float64
}

// Client is the interface for streaming speech-to-text backends
type Client interface {
	// Start begins a transcription session
	Start() error

	// SendAudio forwards one audio chunk to the backend
	SendAudio(audioData []byte) error

	// Transcripts returns the channel of recognition results
	Transcripts() <-chan *Transcript

	// Stop ends the transcription session
	Stop() error

	// Close releases the client
	Close() error
}

// SpeechEvents carries voice-activity notifications from the backend to
// the session. Callbacks run on the backend's read goroutine and must not
// block.
type SpeechEvents struct {
	OnSpeechStarted func()
	OnUtteranceEnd  func()
}
