//go:build uifrontend

package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// generateTrayIcon creates a 22x22 four-pane window PNG for the system
// tray. On macOS this is used as a template icon; the system tints it
// for dark/light mode automatically (black shape on transparent
// background).
//
// This is a placeholder; replace with a designed icon for production.
func generateTrayIcon() []byte {
	const (
		size    = 22
		margin  = 3 // outer transparent border
		gap     = 2 // mullion between panes
		half    = size / 2
		paneMin = margin
	)

	img := image.NewNRGBA(image.Rect(0, 0, size, size))

	inPane := func(v int) bool {
		if v < paneMin || v >= size-margin {
			return false
		}
		// Exclude the mullion strip around the midline.
		return v < half-gap/2 || v > half+gap/2
	}

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if inPane(x) && inPane(y) {
				img.SetNRGBA(x, y, color.NRGBA{A: 255})
			}
		}
	}

	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}
