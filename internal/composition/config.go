package composition

// HeaderTrimMode selects how much of each frame's header is removed.
type HeaderTrimMode int

const (
	HeaderTrimNone HeaderTrimMode = iota
	HeaderTrimMarginOnly
	HeaderTrimTitleBar
)

func (m HeaderTrimMode) String() string {
	switch m {
	case HeaderTrimMarginOnly:
		return "margin_only"
	case HeaderTrimTitleBar:
		return "title_bar"
	default:
		return "none"
	}
}

// ImageConfig is the configuration handed to an Engine.
type ImageConfig struct {
	MergeCloseButton       bool
	HeaderTrimMode         HeaderTrimMode
	ScalingThresholdPixels int
}

// Flags are the user-facing merge options as submitted.
type Flags struct {
	TrimMargin      bool
	TrimCloseButton bool
	TrimTitle       bool
}

// ImageConfig translates the flags. The title flag only applies when margin
// trimming is on, and trimming the close button means not merging it.
func (f Flags) ImageConfig(scalingThresholdPixels int) ImageConfig {
	mode := HeaderTrimNone
	if f.TrimMargin {
		if f.TrimTitle {
			mode = HeaderTrimTitleBar
		} else {
			mode = HeaderTrimMarginOnly
		}
	}

	return ImageConfig{
		MergeCloseButton:       !f.TrimCloseButton,
		HeaderTrimMode:         mode,
		ScalingThresholdPixels: scalingThresholdPixels,
	}
}
