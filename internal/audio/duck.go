package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxVolume = 150

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fade struct {
	id       int
	from, to int
}

// Ducker fades other PulseAudio/PipeWire streams down while the companion
// speaks and restores them afterwards. Streams whose application.name is in
// Self are left alone.
type Ducker struct {
	Self     []string
	Factor   float64
	Floor    int
	Duration time.Duration

	mu       sync.Mutex
	active   bool
	original map[int]int

	// run executes pactl; replaced in tests.
	run func(ctx context.Context, args ...string) ([]byte, error)
}

func NewDucker(self []string, factor float64, floor int, d time.Duration) *Ducker {
	return &Ducker{
		Self:     self,
		Factor:   factor,
		Floor:    max(0, min(floor, maxVolume)),
		Duration: d,
		original: make(map[int]int),
		run:      pactl,
	}
}

// Available reports whether pactl can be found.
func (d *Ducker) Available() bool {
	_, err := exec.LookPath("pactl")
	return err == nil
}

func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	d.original = make(map[int]int)
	var fades []fade
	for _, s := range inputs {
		if d.isSelf(s) {
			continue
		}
		to := int(math.Round(float64(s.Volume) * d.Factor))
		to = max(d.Floor, min(to, maxVolume))
		d.original[s.ID] = s.Volume
		fades = append(fades, fade{id: s.ID, from: s.Volume, to: to})
	}

	if err := d.fade(ctx, fades); err != nil {
		return err
	}
	d.active = true
	return nil
}

func (d *Ducker) Unduck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	var fades []fade
	for _, s := range inputs {
		// Streams that appeared after Duck keep their volume.
		orig, ok := d.original[s.ID]
		if !ok || d.isSelf(s) {
			continue
		}
		fades = append(fades, fade{id: s.ID, from: s.Volume, to: orig})
	}

	if err := d.fade(ctx, fades); err != nil {
		return err
	}
	d.original = make(map[int]int)
	d.active = false
	return nil
}

func (d *Ducker) isSelf(s sinkInput) bool {
	for _, name := range d.Self {
		if s.AppName == name {
			return true
		}
	}
	return false
}

func (d *Ducker) fade(ctx context.Context, fades []fade) error {
	if len(fades) == 0 {
		return nil
	}

	const step = 10 * time.Millisecond
	steps := max(1, int(d.Duration/step))
	if d.Duration <= 0 {
		steps = 0
	}

	for i := 0; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frac := 1.0
		if steps > 0 {
			frac = float64(i) / float64(steps)
		}
		for _, f := range fades {
			v := int(math.Round(float64(f.from) + float64(f.to-f.from)*frac))
			if err := d.setVolume(ctx, f.id, v); err != nil {
				return err
			}
		}

		if i < steps {
			time.Sleep(d.Duration / time.Duration(steps))
		}
	}
	return nil
}

func (d *Ducker) list(ctx context.Context) ([]sinkInput, error) {
	out, err := d.run(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

func (d *Ducker) setVolume(ctx context.Context, id, percent int) error {
	percent = max(0, min(percent, maxVolume))
	if _, err := d.run(ctx, "set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", percent)); err != nil {
		return fmt.Errorf("set volume of %d: %w", id, err)
	}
	return nil
}

func pactl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "pactl", args...).Output()
}

// parseSinkInputs reads the id, first volume and application name of every
// block in `pactl list sink-inputs` output.
func parseSinkInputs(text string) []sinkInput {
	blocks := strings.Split(text, "Sink Input #")
	var res []sinkInput

	for _, block := range blocks[1:] {
		header, body, _ := strings.Cut(block, "\n")
		id, err := strconv.Atoi(strings.TrimSpace(header))
		if err != nil {
			continue
		}

		s := sinkInput{ID: id}
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && s.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); m != nil {
					s.Volume, _ = strconv.Atoi(m[1])
				}
			}
			if rest, ok := strings.CutPrefix(line, "application.name = "); ok && s.AppName == "" {
				s.AppName = strings.Trim(rest, `"`)
			}
		}

		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}
	return res
}
