package models

// Settings is the single application-wide settings record. It lives in the
// key-value store, not the database; loading deep-merges DefaultSettings under
// whatever partial record is on disk so schema additions never break old data.
type Settings struct {
	Theme       string        `json:"theme"`
	FontSize    int           `json:"fontSize"`
	BubbleStyle string        `json:"bubbleStyle"`
	EnterToSend bool          `json:"enterToSend"`
	AutoTitle   bool          `json:"autoTitle"`
	Model       ModelSettings `json:"model"`
}

// ModelSettings holds the generation parameters forwarded to providers.
type ModelSettings struct {
	Temperature      float32 `json:"temperature"`
	TopP             float32 `json:"topP"`
	TopK             int32   `json:"topK"`
	PresencePenalty  float32 `json:"presencePenalty"`
	FrequencyPenalty float32 `json:"frequencyPenalty"`
	MaxTokens        int     `json:"maxTokens"`
	// ContextLimit caps how many trailing messages are sent with a request;
	// zero means the full history.
	ContextLimit    int    `json:"contextLimit"`
	SystemPrompt    string `json:"systemPrompt"`
	SafetyThreshold string `json:"safetyThreshold"`
}

func DefaultSettings() Settings {
	return Settings{
		Theme:       "system",
		FontSize:    14,
		BubbleStyle: "rounded",
		EnterToSend: true,
		AutoTitle:   true,
		Model: ModelSettings{
			Temperature:     0.7,
			TopP:            1.0,
			TopK:            40,
			MaxTokens:       2048,
			SafetyThreshold: "block_medium",
		},
	}
}
