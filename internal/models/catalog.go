package models

// Theme and transition catalogs are closed sets compiled into the binary.
// The API rejects ids outside these tables, so the renderer can treat a
// lookup miss as a programmer error.

type ThemeSpec struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Filter      string `json:"-"` // ffmpeg video filter, empty = passthrough
}

type TransitionSpec struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Duration    float64 `json:"duration_seconds"` // 0 = hard cut
}

const (
	ThemeNone       = "none"
	ThemeBlackWhite = "blackwhite"
	ThemeVibrant    = "vibrant"
	ThemeCinematic  = "cinematic"
	ThemeVintage    = "vintage"
)

const (
	TransitionNone      = "none"
	TransitionCrossfade = "crossfade"
	TransitionFade      = "fade"
)

// FadeDuration is the fixed fade-in/fade-out length applied to the first
// and last plan entries of every reel.
const FadeDuration = 0.5

var themeCatalog = []ThemeSpec{
	{ID: ThemeNone, DisplayName: "None"},
	{ID: ThemeBlackWhite, DisplayName: "Black & White", Filter: "hue=s=0"},
	{ID: ThemeVibrant, DisplayName: "Vibrant", Filter: "eq=saturation=1.3"},
	{ID: ThemeCinematic, DisplayName: "Cinematic", Filter: "eq=contrast=1.24:brightness=0.0"},
	{ID: ThemeVintage, DisplayName: "Vintage", Filter: "eq=gamma=1.2"},
}

var transitionCatalog = []TransitionSpec{
	{ID: TransitionNone, DisplayName: "None", Duration: 0},
	{ID: TransitionCrossfade, DisplayName: "Crossfade", Duration: 0.5},
	{ID: TransitionFade, DisplayName: "Fade", Duration: 0.5},
}

func Themes() []ThemeSpec {
	out := make([]ThemeSpec, len(themeCatalog))
	copy(out, themeCatalog)
	return out
}

func Transitions() []TransitionSpec {
	out := make([]TransitionSpec, len(transitionCatalog))
	copy(out, transitionCatalog)
	return out
}

func ThemeByID(id string) (ThemeSpec, bool) {
	for _, t := range themeCatalog {
		if t.ID == id {
			return t, true
		}
	}
	return ThemeSpec{}, false
}

func TransitionByID(id string) (TransitionSpec, bool) {
	for _, t := range transitionCatalog {
		if t.ID == id {
			return t, true
		}
	}
	return TransitionSpec{}, false
}
