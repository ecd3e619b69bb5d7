package ui

import "strings"

// sparkChars are the eight block heights used to draw throughput.
var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline keeps a ring of throughput samples and renders them as a
// row of block characters.
type Sparkline struct {
	samples []float64
	width   int
	head    int
	count   int
	max     float64
}

// NewSparkline builds a sparkline holding width samples.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 60
	}
	return &Sparkline{samples: make([]float64, width), width: width}
}

// Add records a sample, evicting the oldest once the ring is full.
func (s *Sparkline) Add(value float64) {
	s.samples[s.head] = value
	s.head = (s.head + 1) % s.width
	s.count++
	if value > s.max {
		s.max = value
	}
	// The max only grows on Add, so rescan once per full revolution to
	// let it shrink again after a burst.
	if s.count%s.width == 0 {
		s.rescanMax()
	}
}

func (s *Sparkline) rescanMax() {
	s.max = 0
	for _, v := range s.samples {
		if v > s.max {
			s.max = v
		}
	}
	if s.max < 1 {
		s.max = 1
	}
}

// Render draws the ring oldest-first at its native width.
func (s *Sparkline) Render() string {
	return s.RenderWidth(s.width)
}

// RenderWidth draws the most recent width samples, padding with spaces
// when fewer have been recorded.
func (s *Sparkline) RenderWidth(width int) string {
	if width <= 0 || width > s.width {
		width = s.width
	}
	if s.count == 0 {
		return strings.Repeat(" ", width)
	}
	if s.max <= 0 {
		s.rescanMax()
	}

	have := s.count
	if have > s.width {
		have = s.width
	}
	// Walk the ring oldest-first, then keep only the newest `width`.
	start := 0
	if s.count >= s.width {
		start = s.head
	}
	chars := make([]rune, 0, have)
	for i := 0; i < have; i++ {
		v := s.samples[(start+i)%s.width]
		idx := int(v / s.max * float64(len(sparkChars)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		chars = append(chars, sparkChars[idx])
	}
	if len(chars) > width {
		chars = chars[len(chars)-width:]
	}

	var sb strings.Builder
	sb.Grow(width * 3)
	for i := len(chars); i < width; i++ {
		sb.WriteRune(' ')
	}
	for _, c := range chars {
		sb.WriteRune(c)
	}
	return sb.String()
}

// Clear resets the ring.
func (s *Sparkline) Clear() {
	for i := range s.samples {
		s.samples[i] = 0
	}
	s.head = 0
	s.count = 0
	s.max = 0
}

// Count returns how many samples have ever been added.
func (s *Sparkline) Count() int { return s.count }

// Max returns the current scaling maximum.
func (s *Sparkline) Max() float64 { return s.max }
