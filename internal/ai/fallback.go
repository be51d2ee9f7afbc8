package ai

// Canned answers per personality, used when the generation port fails or
// times out. Selection hashes the prompt so a retried worker produces the
// same text for the same round.
var fallbacks = map[string][]string{
	"deadpan": {
		"sure. that.",
		"it's fine i guess.",
		"no strong feelings either way.",
	},
	"overenthusiastic": {
		"oh wow great question!! so many thoughts!!",
		"love this, honestly the best prompt yet!",
		"yes!! exactly what i was hoping we'd talk about!",
	},
	"conspiracy-curious": {
		"interesting that they want us to answer this one...",
		"not saying it's connected but it's definitely connected.",
		"do your own research but yeah, probably.",
	},
	"wistful": {
		"this reminds me of summers that felt longer than they were.",
		"hard to say. things used to be simpler.",
		"i think about this more than i should, honestly.",
	},
	"pedantic": {
		"well, technically it depends on how you define the terms.",
		"the question is ambiguous, but assuming the common reading: no.",
		"strictly speaking there are at least three cases to consider.",
	},
	"chaotic": {
		"cheese. final answer.",
		"i would simply do both at once.",
		"wrong answers only? oh wait.",
	},
}

var genericFallbacks = []string{
	"honestly not sure, but probably yes.",
	"hard one. going with my gut here.",
	"i'd have to say it depends on the day.",
}

// Fallback returns a deterministic canned response tagged to the personality.
func Fallback(personality, prompt string) string {
	pool, ok := fallbacks[personality]
	if !ok {
		pool = genericFallbacks
	}
	h := 0
	for _, c := range prompt {
		h = h*31 + int(c)
	}
	if h < 0 {
		h = -h
	}
	return pool[h%len(pool)]
}
