package visualization

import (
	"fmt"
	"image/color"
	"sort"
	"strings"

	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
)

// Colormap names accepted by RenderOptions.Colormap.
const (
	Gray      = "gray"
	Viridis   = "viridis"
	BlackBody = "blackbody"
	CoolWarm  = "coolwarm"
)

// viridis sampled at nine evenly spaced points; its luminance rises
// monotonically, which NewLuminance requires.
var viridisControls = []color.Color{
	color.NRGBA{R: 68, G: 1, B: 84, A: 255},
	color.NRGBA{R: 71, G: 44, B: 122, A: 255},
	color.NRGBA{R: 59, G: 81, B: 139, A: 255},
	color.NRGBA{R: 44, G: 113, B: 142, A: 255},
	color.NRGBA{R: 33, G: 145, B: 140, A: 255},
	color.NRGBA{R: 39, G: 173, B: 129, A: 255},
	color.NRGBA{R: 92, G: 200, B: 99, A: 255},
	color.NRGBA{R: 170, G: 220, B: 50, A: 255},
	color.NRGBA{R: 253, G: 231, B: 37, A: 255},
}

var colormaps = map[string]func() (palette.ColorMap, error){
	Gray: func() (palette.ColorMap, error) { return nil, nil },
	Viridis: func() (palette.ColorMap, error) {
		return moreland.NewLuminance(viridisControls)
	},
	BlackBody: func() (palette.ColorMap, error) { return moreland.BlackBody(), nil },
	CoolWarm:  func() (palette.ColorMap, error) { return moreland.SmoothBlueRed(), nil },
}

// Colormaps returns the supported colormap names, sorted.
func Colormaps() []string {
	names := make([]string, 0, len(colormaps))
	for name := range colormaps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidColormap reports whether name is a supported colormap. The empty
// name means gray.
func ValidColormap(name string) bool {
	_, ok := colormaps[strings.ToLower(name)]
	return ok || name == ""
}

// newColorMap returns the color map for name spanning [0, 1], or nil for
// plain 16-bit gray output.
func newColorMap(name string) (palette.ColorMap, error) {
	if name == "" {
		return nil, nil
	}
	build, ok := colormaps[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown colormap %q (one of %s)", name, strings.Join(Colormaps(), ", "))
	}
	cm, err := build()
	if err != nil || cm == nil {
		return nil, err
	}
	cm.SetMax(1)
	cm.SetMin(0)
	cm.SetAlpha(1)
	return cm, nil
}
