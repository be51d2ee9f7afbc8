package game

// Prompts is the fixed prompt pool. Round n uses Prompts[(n-1)%len(Prompts)],
// so very long matches repeat prompts; that repeat is accepted.
var Prompts = []string{
	"What's the most overrated food and why?",
	"Describe your perfect lazy Sunday.",
	"What's a small thing that instantly ruins your day?",
	"If you could ban one sound forever, which one?",
	"What's the weirdest thing you believed as a kid?",
	"Pitch a terrible startup idea in one sentence.",
	"What smell takes you straight back to childhood?",
	"What's a hill you'd die on that nobody agrees with?",
}

// PromptFor returns the prompt for a 1-based round number.
func PromptFor(round int) string {
	return Prompts[(round-1)%len(Prompts)]
}

// Personalities is the fixed pool automated participants draw from,
// round-robin, cycling once exhausted.
var Personalities = []string{
	"deadpan",
	"overenthusiastic",
	"conspiracy-curious",
	"wistful",
	"pedantic",
	"chaotic",
}

// PersonalityFor returns the personality for the i-th automated seat filled.
func PersonalityFor(i int) string {
	return Personalities[i%len(Personalities)]
}

var automatedLabels = []string{
	"Sam", "Alex", "Riley", "Jordan", "Casey", "Quinn", "Morgan", "Avery",
}

func automatedLabelFor(i int) string {
	return automatedLabels[i%len(automatedLabels)]
}
