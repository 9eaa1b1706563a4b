package phrase

// Personalities understood by the selector.
const (
	Warm    = "warm"
	Playful = "playful"
	Formal  = "formal"
	Neutral = "neutral"
)

// Template is a greeting line. Text may contain a {name} placeholder. An
// empty Times means the template suits any time of day.
type Template struct {
	Text        string
	Personality string
	Times       []TimeOfDay
	Tone        string
}

func (t Template) suits(tod TimeOfDay) bool {
	if len(t.Times) == 0 {
		return true
	}
	for _, x := range t.Times {
		if x == tod {
			return true
		}
	}
	return false
}

var recognizedTemplates = []Template{
	{Text: "Welcome back, {name}!", Personality: Warm, Tone: "happy"},
	{Text: "Hi {name}! Good to see you!", Personality: Warm, Tone: "happy"},
	{Text: "{name}! How have you been?", Personality: Warm, Tone: "curious"},
	{Text: "Welcome back, {name}. How are you?", Personality: Warm, Tone: "happy"},
	{Text: "Oh, {name}! What a nice surprise!", Personality: Warm, Tone: "excited"},
	{Text: "Good morning, {name}!", Personality: Warm, Times: []TimeOfDay{Morning}, Tone: "happy"},
	{Text: "Good afternoon, {name}!", Personality: Warm, Times: []TimeOfDay{Afternoon}, Tone: "happy"},
	{Text: "Hey {name}, glad you're here!", Personality: Playful, Tone: "excited"},
	{Text: "Oh hi {name}, welcome back!", Personality: Playful, Tone: "happy"},
	{Text: "Hey {name}! Great to see you today!", Personality: Playful, Tone: "excited"},
	{Text: "Oh hi {name}, how's it going?", Personality: Playful, Times: []TimeOfDay{Afternoon, Evening}, Tone: "curious"},
	{Text: "Hello {name}, good to see you again.", Personality: Formal, Tone: "calm"},
	{Text: "Hello {name}, nice to see you.", Personality: Formal, Tone: "calm"},
	{Text: "Good evening, {name}. Welcome back.", Personality: Formal, Times: []TimeOfDay{Evening, Night}, Tone: "calm"},
	{Text: "Hello {name}. Nice to see you.", Personality: Neutral, Tone: "calm"},
	{Text: "Hi {name}!", Personality: Neutral, Tone: "happy"},
}

var unknownTemplates = []Template{
	{Text: "Hi there! Nice to meet you!", Personality: Warm, Tone: "happy"},
	{Text: "Hi! I don't think we've met yet.", Personality: Warm, Tone: "curious"},
	{Text: "Hi there! I haven't seen you before. Welcome!", Personality: Warm, Tone: "happy"},
	{Text: "Oh hi! You're new here, right? Welcome!", Personality: Warm, Tone: "curious"},
	{Text: "Oh hello! I don't think we've met. What's your name?", Personality: Playful, Tone: "curious"},
	{Text: "Oh hello! Are you new here?", Personality: Playful, Tone: "curious"},
	{Text: "Hello, welcome.", Personality: Formal, Tone: "calm"},
	{Text: "Good morning, and welcome.", Personality: Formal, Times: []TimeOfDay{Morning}, Tone: "calm"},
	{Text: "Good afternoon! I don't think we've been introduced.", Personality: Formal, Times: []TimeOfDay{Afternoon}, Tone: "calm"},
	{Text: "Hello. Nice to meet you.", Personality: Neutral, Tone: "calm"},
}

var farewellTemplates = []Template{
	{Text: "Goodbye, {name}! See you soon!", Personality: Warm, Tone: "happy"},
	{Text: "Bye {name}! Take care!", Personality: Warm, Tone: "happy"},
	{Text: "Have a great evening, {name}!", Personality: Warm, Times: []TimeOfDay{Evening}, Tone: "happy"},
	{Text: "Good night, {name}!", Personality: Warm, Times: []TimeOfDay{Night}, Tone: "calm"},
	{Text: "Bye {name}! Come back soon!", Personality: Playful, Tone: "happy"},
	{Text: "See you later, {name}!", Personality: Playful, Tone: "happy"},
	{Text: "Take care, {name}.", Personality: Formal, Tone: "calm"},
	{Text: "Goodbye, {name}.", Personality: Formal, Tone: "calm"},
}

// DefaultTemplates returns the built-in templates for kind.
func DefaultTemplates(kind Kind) []Template {
	switch kind {
	case KindRecognized:
		return recognizedTemplates
	case KindUnknown:
		return unknownTemplates
	case KindFarewell:
		return farewellTemplates
	default:
		return nil
	}
}
