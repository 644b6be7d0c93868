package video

import (
	"fmt"

	"server/internal/domain"
)

// Dimensions is a provider-native width/height pair.
type Dimensions struct {
	Width  int
	Height int
}

type ratioTier struct {
	aspect     string
	resolution string
}

// Supported aspect ratios crossed with resolution tiers. Anything outside
// this table is rejected before a network call is made.
var dimensionTable = map[ratioTier]Dimensions{
	{"16:9", "480p"}:  {854, 480},
	{"16:9", "720p"}:  {1280, 720},
	{"16:9", "1080p"}: {1920, 1080},
	{"9:16", "480p"}:  {480, 854},
	{"9:16", "720p"}:  {720, 1280},
	{"9:16", "1080p"}: {1080, 1920},
	{"1:1", "480p"}:   {480, 480},
	{"1:1", "720p"}:   {720, 720},
	{"1:1", "1080p"}:  {1080, 1080},
}

// DimensionsFor maps a user-facing (aspect ratio, resolution tier) pair to
// provider-native pixel dimensions. Pure lookup.
func DimensionsFor(aspectRatio, resolution string) (Dimensions, error) {
	dims, ok := dimensionTable[ratioTier{aspectRatio, resolution}]
	if !ok {
		return Dimensions{}, fmt.Errorf("video: unsupported aspect ratio %q at %q: %w", aspectRatio, resolution, domain.ErrValidation)
	}
	return dims, nil
}
