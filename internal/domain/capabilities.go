package domain

// Capability is a single bit in a CapabilityMask.
type Capability uint32

const (
	CapChat Capability = 1 << iota
	CapTextGeneration
	CapEmbeddings
	CapImageGeneration
	CapVision
	CapFunctionCalling
	CapToolUsage
	CapJSONMode
	CapTextToSpeech
	CapTranscription
	CapRealtime
	CapVideoGeneration
)

// CapabilityMask is a boolean set over the capabilities a deployment or
// provider client offers. Checking an unsupported capability before
// dispatch lets the caller fail fast with ErrUnsupported rather than
// discovering it mid-request.
type CapabilityMask uint32

// Has reports whether every bit in want is set in m.
func (m CapabilityMask) Has(want Capability) bool {
	return m&CapabilityMask(want) == CapabilityMask(want)
}

// With returns a copy of m with the given capabilities set.
func (m CapabilityMask) With(caps ...Capability) CapabilityMask {
	for _, c := range caps {
		m |= CapabilityMask(c)
	}
	return m
}

var capabilityNames = map[Capability]string{
	CapChat:            "chat",
	CapTextGeneration:  "text-generation",
	CapEmbeddings:      "embeddings",
	CapImageGeneration: "image-generation",
	CapVision:          "vision",
	CapFunctionCalling: "function-calling",
	CapToolUsage:       "tool-usage",
	CapJSONMode:        "json-mode",
	CapTextToSpeech:    "text-to-speech",
	CapTranscription:   "transcription",
	CapRealtime:        "realtime",
	CapVideoGeneration: "video-generation",
}

// Names returns the human-readable capability names set in m, for
// diagnostics (verify-auth failures, Unsupported error detail).
func (m CapabilityMask) Names() []string {
	var names []string
	for cap, name := range capabilityNames {
		if m.Has(cap) {
			names = append(names, name)
		}
	}
	return names
}

// CapabilityProvider is implemented by provider clients that can report
// their capability mask directly, rather than via the static SupportsModel
// keyword matching the teacher's clients use.
type CapabilityProvider interface {
	Capabilities() CapabilityMask
}
