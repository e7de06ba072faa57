package description

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
)

// Icon is one entry of the device icon list.
type Icon struct {
	Name     string
	Size     int
	MimeType string
}

// URL is the path the icon is served on.
func (i Icon) URL() string {
	return "/icons/" + i.Name
}

var (
	iconOnce  sync.Once
	iconBytes map[string][]byte
)

// Icons lists the advertised icons.
func Icons() []Icon {
	return []Icon{
		{Name: "icon-48.png", Size: 48, MimeType: "image/png"},
		{Name: "icon-120.png", Size: 120, MimeType: "image/png"},
	}
}

// IconData returns the encoded icon by name.
func IconData(name string) ([]byte, string, bool) {
	iconOnce.Do(renderIcons)
	data, ok := iconBytes[name]
	if !ok {
		return nil, "", false
	}
	return data, "image/png", true
}

func renderIcons() {
	iconBytes = make(map[string][]byte)
	for _, icon := range Icons() {
		data, err := drawIcon(icon.Size)
		if err != nil {
			panic(fmt.Sprintf("render icon %s: %v", icon.Name, err))
		}
		iconBytes[icon.Name] = data
	}
}

// drawIcon paints a play triangle on an amber tile.
func drawIcon(size int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	bg := color.RGBA{R: 0xe5, G: 0xa0, B: 0x0d, A: 0xff}
	fg := color.RGBA{R: 0x1f, G: 0x1f, B: 0x1f, A: 0xff}
	left, right := size*3/10, size*3/4
	top, bottom := size/4, size*3/4
	mid := size / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, bg)
			if x < left || x > right || y < top || y > bottom {
				continue
			}
			// half-height of the triangle shrinks linearly towards the tip.
			half := (bottom - top) / 2 * (right - x) / (right - left)
			if y >= mid-half && y <= mid+half {
				img.Set(x, y, fg)
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
