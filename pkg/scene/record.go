// Package scene holds the description of a detected scene in a video.
package scene

const (
	DefaultLanguage  = "en"
	DefaultVideoType = "youtube"
)

// Record describes one scene: what happens in it, what is visible, and where it
// sits in the source video. Durations and offsets are whole seconds.
type Record struct {
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
	Objects     []string `json:"objects"`
	TextInScene []string `json:"text_in_scene"`
	Language    string   `json:"language"`
	VideoType   string   `json:"video_type"`
	Duration    int      `json:"duration"`
	SceneStart  int      `json:"scene_start"`
	SceneEnd    int      `json:"scene_end"`
}

// Option sets an optional Record field.
type Option func(*Record)

// WithDuration sets the scene length in seconds.
func WithDuration(seconds int) Option {
	return func(r *Record) { r.Duration = seconds }
}

// WithSceneSpan sets the scene's start and end offsets in seconds.
func WithSceneSpan(start, end int) Option {
	return func(r *Record) {
		r.SceneStart = start
		r.SceneEnd = end
	}
}

func WithLanguage(lang string) Option {
	return func(r *Record) { r.Language = lang }
}

func WithVideoType(videoType string) Option {
	return func(r *Record) { r.VideoType = videoType }
}

// New builds a Record from the given values. Nothing is validated or derived;
// sequences are stored as passed.
func New(description string, actions, objects, textInScene []string, opts ...Option) Record {
	r := Record{
		Description: description,
		Actions:     actions,
		Objects:     objects,
		TextInScene: textInScene,
		Language:    DefaultLanguage,
		VideoType:   DefaultVideoType,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}
