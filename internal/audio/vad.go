package audio

// VADConfig holds configuration for voice activity detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy above which a frame counts as speech
	SilenceFrames   int     // Consecutive silent frames that end an utterance
	FrameSize       int     // Samples per frame
}

// DefaultVADConfig returns defaults tuned for 16kHz microphone capture
// with 20ms frames
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   25,  // 500ms of silence ends the utterance
		FrameSize:       320, // 20ms at 16kHz
	}
}

// VADDetector tracks speech activity across successive audio frames
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a detector. A nil config uses the defaults.
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// ProcessFrame feeds one frame of samples into the detector.
// speechStarted fires on the first voiced frame of an utterance,
// speechEnded after the configured run of silence.
func (v *VADDetector) ProcessFrame(samples []int16) (isSpeaking, speechStarted, speechEnded bool) {
	voiced := CalculateRMS(samples) > v.config.EnergyThreshold

	if voiced {
		v.silenceCounter = 0
		if !v.isSpeaking {
			v.isSpeaking = true
			speechStarted = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			v.isSpeaking = false
			v.silenceCounter = 0
			speechEnded = true
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// Reset clears the detector state between utterances or sessions
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
}

// IsSpeaking reports whether the detector is inside an utterance
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}
