package tui

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/mechsim/internal/collide"
	"github.com/san-kum/mechsim/internal/mech"
	"github.com/san-kum/mechsim/internal/sim"
)

const (
	width       = 70
	height      = 20
	clearScreen = "\033[2J\033[H"
	hideCursor  = "\033[?25l"
	showCursor  = "\033[?25h"
)

// LiveRenderer draws the world as a side view (x right, z up) after each
// step, throttled to frameRate.
type LiveRenderer struct {
	scene     string
	frameRate int
	out       io.Writer
	lastFrame time.Time
	canvas    [][]rune
	view      view
	fitted    bool
}

func NewLiveRenderer(scene string, frameRate int) *LiveRenderer {
	canvas := make([][]rune, height)
	for i := range canvas {
		canvas[i] = make([]rune, width)
	}
	if frameRate <= 0 {
		frameRate = 30
	}
	return &LiveRenderer{
		scene:     scene,
		frameRate: frameRate,
		out:       os.Stdout,
		canvas:    canvas,
	}
}

// SetOutput redirects frames, mainly for tests.
func (r *LiveRenderer) SetOutput(w io.Writer) { r.out = w }

func (r *LiveRenderer) OnStep(w *sim.World) {
	elapsed := time.Since(r.lastFrame)
	if elapsed < time.Second/time.Duration(r.frameRate) {
		return
	}
	r.lastFrame = time.Now()
	r.Draw(w)
	r.render(w)
}

// Draw rasterizes the world into the canvas without printing it.
func (r *LiveRenderer) Draw(w *sim.World) {
	if !r.fitted {
		r.view = fitView(w.Model())
		r.fitted = true
	}
	clearCanvas(r.canvas)
	drawWorld(r.canvas, width, height, r.view, w)
}

func (r *LiveRenderer) Frame() string {
	var b strings.Builder
	for _, row := range r.canvas {
		b.WriteString(string(row))
		b.WriteByte('\n')
	}
	return b.String()
}

func (r *LiveRenderer) render(w *sim.World) {
	st := w.Stats()
	var b strings.Builder
	b.WriteString(clearScreen)
	b.WriteString(fmt.Sprintf("  %s  t=%.3fs  dt=%.2g\n", r.scene, w.Time(), st.Dt))
	b.WriteString("  " + strings.Repeat("-", width) + "\n")
	for _, row := range r.canvas {
		b.WriteString("  ")
		b.WriteString(string(row))
		b.WriteString("\n")
	}
	b.WriteString("  " + strings.Repeat("-", width) + "\n")
	b.WriteString(fmt.Sprintf("  contacts=%d handlers=%d ke=%.3f pen=%.2g\n",
		st.Contacts, st.Handlers, w.KineticEnergy(), st.MaxPenetration))
	fmt.Fprint(r.out, b.String())
}

func (r *LiveRenderer) Start() { fmt.Fprint(r.out, hideCursor) }
func (r *LiveRenderer) Stop()  { fmt.Fprint(r.out, showCursor) }

// view maps the world x-z plane onto canvas cells.
type view struct {
	minX, maxX float64
	minZ, maxZ float64
}

// fitView frames the initial component positions with a margin, keeping the
// aspect ratio of a terminal cell (roughly twice as tall as wide).
func fitView(m *mech.Model) view {
	v := view{minX: math.Inf(1), maxX: math.Inf(-1), minZ: math.Inf(1), maxZ: math.Inf(-1)}
	for _, c := range m.Components() {
		if c.Kind == mech.Generic {
			continue
		}
		p := c.Position()
		v.minX = math.Min(v.minX, p[0]-c.Radius)
		v.maxX = math.Max(v.maxX, p[0]+c.Radius)
		v.minZ = math.Min(v.minZ, p[2]-c.Radius)
		v.maxZ = math.Max(v.maxZ, p[2]+c.Radius)
	}
	if math.IsInf(v.minX, 0) {
		return view{minX: -1, maxX: 1, minZ: -1, maxZ: 1}
	}
	v.minZ = math.Min(v.minZ, 0)
	spanX := math.Max(v.maxX-v.minX, 1)
	spanZ := math.Max(v.maxZ-v.minZ, 1)
	cx, cz := (v.minX+v.maxX)/2, (v.minZ+v.maxZ)/2
	span := math.Max(spanX, spanZ*float64(width)/float64(2*height)) * 1.3
	spanZ = span * float64(height) / float64(width) * 2
	return view{minX: cx - span/2, maxX: cx + span/2, minZ: cz - spanZ/2, maxZ: cz + spanZ/2}
}

func (v view) cell(p mgl64.Vec3, w, h int) (int, int) {
	x := int(math.Round((p[0] - v.minX) / (v.maxX - v.minX) * float64(w-1)))
	y := int(math.Round((v.maxZ - p[2]) / (v.maxZ - v.minZ) * float64(h-1)))
	return x, y
}

// scale returns the number of columns covered by a world length.
func (v view) scale(l float64, w int) int {
	return int(math.Round(l / (v.maxX - v.minX) * float64(w-1)))
}

func drawWorld(canvas [][]rune, w, h int, v view, world *sim.World) {
	m := world.Model()
	for _, c := range world.Collidables() {
		if p, ok := c.(*collide.Plane); ok {
			drawPlane(canvas, w, h, v, p)
		}
	}
	for _, l := range attachmentLinks(m) {
		x1, y1 := v.cell(m.Component(l[0]).Position(), w, h)
		x2, y2 := v.cell(m.Component(l[1]).Position(), w, h)
		drawLine(canvas, w, h, x1, y1, x2, y2, '.')
	}
	for _, c := range m.Components() {
		if c.Kind == mech.Generic {
			continue
		}
		x, y := v.cell(c.Position(), w, h)
		switch c.Kind {
		case mech.Rigid:
			drawCircle(canvas, w, h, x, y, v.scale(c.Radius, w), '#')
			set(canvas, x, y, 'O', w, h)
		case mech.Particle:
			if c.IsAttached() {
				set(canvas, x, y, 'o', w, h)
			} else {
				set(canvas, x, y, '*', w, h)
			}
		}
	}
}

// attachmentLinks returns slave/master pairs for every attachment.
func attachmentLinks(m *mech.Model) [][2]mech.ComponentID {
	var links [][2]mech.ComponentID
	for _, c := range m.Components() {
		aid, ok := m.SlaveAttachment(c.ID)
		if !ok {
			continue
		}
		a := m.Attachment(aid)
		for _, master := range a.Masters() {
			if m.Component(master).Kind == mech.Generic {
				continue
			}
			links = append(links, [2]mech.ComponentID{a.Slave(), master})
		}
	}
	return links
}

// drawPlane draws the trace of a plane in the x-z view. Planes seen edge-on
// from the side are skipped.
func drawPlane(canvas [][]rune, w, h int, v view, p *collide.Plane) {
	n := p.Normal
	if math.Abs(n[2]) < 1e-9 && math.Abs(n[0]) < 1e-9 {
		return
	}
	if math.Abs(n[2]) >= math.Abs(n[0]) {
		for x := 0; x < w; x++ {
			wx := v.minX + float64(x)/float64(w-1)*(v.maxX-v.minX)
			wz := p.Origin[2] - n[0]*(wx-p.Origin[0])/n[2]
			_, y := v.cell(mgl64.Vec3{wx, 0, wz}, w, h)
			set(canvas, x, y, '=', w, h)
		}
		return
	}
	for y := 0; y < h; y++ {
		wz := v.maxZ - float64(y)/float64(h-1)*(v.maxZ-v.minZ)
		wx := p.Origin[0] - n[2]*(wz-p.Origin[2])/n[0]
		x, _ := v.cell(mgl64.Vec3{wx, 0, wz}, w, h)
		set(canvas, x, y, '|', w, h)
	}
}

func drawCircle(canvas [][]rune, w, h, cx, cy, r int, c rune) {
	if r <= 0 {
		return
	}
	steps := 8 * r
	for i := 0; i < steps; i++ {
		a := 2 * math.Pi * float64(i) / float64(steps)
		x := cx + int(math.Round(float64(r)*math.Cos(a)))
		y := cy + int(math.Round(float64(r)*math.Sin(a)/2))
		set(canvas, x, y, c, w, h)
	}
}

func clearCanvas(canvas [][]rune) {
	for y := range canvas {
		for x := range canvas[y] {
			canvas[y][x] = ' '
		}
	}
}

func set(canvas [][]rune, x, y int, c rune, w, h int) {
	if x >= 0 && x < w && y >= 0 && y < h {
		canvas[y][x] = c
	}
}

func drawLine(canvas [][]rune, w, h, x1, y1, x2, y2 int, c rune) {
	dx := intAbs(x2 - x1)
	dy := intAbs(y2 - y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}
	err := dx - dy
	for {
		set(canvas, x1, y1, c, w, h)
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func intAbs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
