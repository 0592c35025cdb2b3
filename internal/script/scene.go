package script

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"reelforge/internal/services"
	"reelforge/internal/textutil"
)

// Scene is one ordered unit of a script.
type Scene struct {
	SceneNumber     int     `json:"sceneNumber" yaml:"sceneNumber"`
	Text            string  `json:"text" yaml:"text"`
	DurationSeconds float64 `json:"durationSeconds,omitempty" yaml:"durationSeconds,omitempty"`
	VisualNotes     string  `json:"visualNotes,omitempty" yaml:"visualNotes,omitempty"`
}

// Scenes is a full snapshot ordered by scene number.
type Scenes []Scene

// Validate rejects snapshots that cannot be stored: empty scripts, scene
// numbers below 1, duplicate numbers, and blank scene text.
func (s Scenes) Validate() error {
	if len(s) == 0 {
		return services.Wrap(services.ErrValidation, "", "validate scenes", "script has no scenes", nil)
	}
	seen := make(map[int]struct{}, len(s))
	for _, scene := range s {
		if scene.SceneNumber < 1 {
			return services.Wrap(services.ErrValidation, "", "validate scenes", fmt.Sprintf("scene number %d must be positive", scene.SceneNumber), nil)
		}
		if _, dup := seen[scene.SceneNumber]; dup {
			return services.Wrap(services.ErrValidation, "", "validate scenes", fmt.Sprintf("duplicate scene number %d", scene.SceneNumber), nil)
		}
		seen[scene.SceneNumber] = struct{}{}
		if strings.TrimSpace(scene.Text) == "" {
			return services.Wrap(services.ErrValidation, "", "validate scenes", fmt.Sprintf("scene %d has no text", scene.SceneNumber), nil)
		}
		if scene.DurationSeconds < 0 {
			return services.Wrap(services.ErrValidation, "", "validate scenes", fmt.Sprintf("scene %d has negative duration", scene.SceneNumber), nil)
		}
	}
	return nil
}

// Clone returns an independent copy sorted by scene number.
func (s Scenes) Clone() Scenes {
	out := slices.Clone(s)
	slices.SortStableFunc(out, func(a, b Scene) int { return a.SceneNumber - b.SceneNumber })
	return out
}

// Find returns the scene with the given number.
func (s Scenes) Find(number int) (Scene, bool) {
	for _, scene := range s {
		if scene.SceneNumber == number {
			return scene, true
		}
	}
	return Scene{}, false
}

// WithText returns a copy of the snapshot where the given scene's text is
// replaced. ok is false when the scene number is absent.
func (s Scenes) WithText(number int, text string) (Scenes, bool) {
	out := s.Clone()
	for i := range out {
		if out[i].SceneNumber == number {
			out[i].Text = text
			return out, true
		}
	}
	return out, false
}

// Numbers lists the scene numbers in order.
func (s Scenes) Numbers() []int {
	nums := make([]int, 0, len(s))
	for _, scene := range s.Clone() {
		nums = append(nums, scene.SceneNumber)
	}
	return nums
}

// TotalDuration sums the per-scene durations that are known.
func (s Scenes) TotalDuration() float64 {
	var total float64
	for _, scene := range s {
		total += scene.DurationSeconds
	}
	return total
}

// FullText joins the scenes into the single script text handed to analyzers.
func (s Scenes) FullText() string {
	var b strings.Builder
	for i, scene := range s.Clone() {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[Scene ")
		b.WriteString(strconv.Itoa(scene.SceneNumber))
		b.WriteString("] ")
		b.WriteString(strings.TrimSpace(scene.Text))
	}
	return b.String()
}

// ContentHash identifies a snapshot by its canonical content. Whitespace and
// Unicode composition differences do not change the hash; scene order,
// numbering, text, notes, and durations do.
func (s Scenes) ContentHash() string {
	h := sha256.New()
	for _, scene := range s.Clone() {
		fmt.Fprintf(h, "%d\x1f%s\x1f%s\x1f%s\x1e",
			scene.SceneNumber,
			textutil.Canonical(scene.Text),
			textutil.Canonical(scene.VisualNotes),
			strconv.FormatFloat(scene.DurationSeconds, 'f', -1, 64),
		)
	}
	return hex.EncodeToString(h.Sum(nil))
}
