package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/png"
	"log"
	"time"

	"github.com/servicoscor/dashboard-radares/internal/radar"
)

// ErrNoFrames is returned when a source has nothing cached to export.
var ErrNoFrames = errors.New("no frames available")

const (
	// FrameDelay is the display time of each animation frame.
	FrameDelay = 500 * time.Millisecond
	// LoopForever makes the animation replay indefinitely.
	LoopForever = 0
)

// FrameReader is the read side of the frame cache the exporter needs.
type FrameReader interface {
	List(src radar.Source) ([]string, error)
	ReadFrame(src radar.Source, name string) ([]byte, error)
}

// Export is an encoded animation ready to be sent as an attachment.
type Export struct {
	Name   string
	Data   []byte
	Frames int
}

// Exporter builds animated GIFs from cached frames.
type Exporter struct {
	frames FrameReader
	limit  int
	now    func() time.Time
}

// NewExporter creates an Exporter reading from frames.
func NewExporter(frames FrameReader) *Exporter {
	return &Exporter{
		frames: frames,
		limit:  radar.MaxFrames,
		now:    time.Now,
	}
}

// ExportGIF encodes the newest cached frames of src, oldest first, into one
// looping GIF. Frames that fail to decode are skipped.
func (e *Exporter) ExportGIF(src radar.Source) (Export, error) {
	names, err := e.frames.List(src)
	if err != nil {
		return Export{}, err
	}
	names = radar.NewestFrames(names, e.limit)
	if len(names) == 0 {
		return Export{}, fmt.Errorf("%w: %s", ErrNoFrames, src)
	}

	anim := &gif.GIF{LoopCount: LoopForever}
	delay := int(FrameDelay / (10 * time.Millisecond))
	var bounds image.Rectangle

	for _, name := range names {
		data, err := e.frames.ReadFrame(src, name)
		if err != nil {
			log.Printf("export: error loading %s/%s: %v", src, name, err)
			continue
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			log.Printf("export: error decoding %s/%s: %v", src, name, err)
			continue
		}
		frame := toPaletted(img)
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, delay)
		bounds = bounds.Union(frame.Bounds())
	}

	if len(anim.Image) == 0 {
		return Export{}, fmt.Errorf("%w: no %s frame could be loaded", ErrDecode, src)
	}

	anim.Config = image.Config{
		ColorModel: color.Palette(palette.Plan9),
		Width:      bounds.Max.X,
		Height:     bounds.Max.Y,
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return Export{}, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	return Export{
		Name:   ExportName(src, e.now()),
		Data:   buf.Bytes(),
		Frames: len(anim.Image),
	}, nil
}

// ExportName is the attachment name for an export of src made at t.
func ExportName(src radar.Source, t time.Time) string {
	return fmt.Sprintf("radar_%s_%s.gif", src, t.Format("20060102_150405"))
}

// toPaletted flattens img onto an opaque canvas and maps it to the Plan 9
// palette. Frames with transparency are composited over black.
func toPaletted(img image.Image) *image.Paletted {
	b := img.Bounds()
	canvas := image.NewRGBA(b)
	if hasAlpha(img) {
		draw.Draw(canvas, b, image.NewUniform(color.Black), image.Point{}, draw.Src)
		draw.Draw(canvas, b, img, b.Min, draw.Over)
	} else {
		draw.Draw(canvas, b, img, b.Min, draw.Src)
	}

	out := image.NewPaletted(b, palette.Plan9)
	draw.Draw(out, b, canvas, b.Min, draw.Src)
	return out
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}
