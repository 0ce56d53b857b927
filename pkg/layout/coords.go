package layout

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
)

// NormalizedMax is the upper bound of the model's coordinate space
const NormalizedMax = 999

// ErrUnparseable is returned when a coordinate list is not a list of
// four-integer boxes
var ErrUnparseable = errors.New("unparseable coordinates")

// Box is a normalized (x1, y1, x2, y2) box in [0, NormalizedMax]
type Box [4]int

// Decode returns the label of r and its boxes, still normalized
func Decode(r Region) (string, []Box, error) {
	boxes, err := ParseCoords(r.Coords)
	if err != nil {
		return r.Label, nil, err
	}
	return r.Label, boxes, nil
}

// ParseCoords reads a bracketed coordinate list such as
// "[[1, 2, 3, 4], [5, 6, 7, 8]]" or "[1, 2, 3, 4]". Only integer literals
// and nested brackets are accepted; text before the first '[' and after
// the last ']' is ignored.
func ParseCoords(text string) ([]Box, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no bracketed list", ErrUnparseable)
	}

	p := &coordParser{src: text[start : end+1]}
	root, err := p.parseList(0)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected %q after list", p.src[p.pos])
	}

	// a single flat box
	if len(root.items) == 4 && root.allInts() {
		return []Box{root.box()}, nil
	}

	boxes := make([]Box, 0, len(root.items))
	for i, it := range root.items {
		if it.list == nil {
			return nil, fmt.Errorf("%w: element %d is not a box", ErrUnparseable, i)
		}
		if len(it.list.items) != 4 || !it.list.allInts() {
			return nil, fmt.Errorf("%w: box %d must hold exactly 4 integers", ErrUnparseable, i)
		}
		boxes = append(boxes, it.list.box())
	}
	return boxes, nil
}

// Scale maps a normalized coordinate onto a pixel dimension, truncating
// toward zero
func Scale(v, dimension int) int {
	return v * dimension / NormalizedMax
}

// ToPixels converts b into a pixel rectangle for an image of the given size.
// The rectangle is not canonicalized, so inverted boxes stay inverted.
func ToPixels(b Box, width, height int) image.Rectangle {
	return image.Rectangle{
		Min: image.Point{X: Scale(b[0], width), Y: Scale(b[1], height)},
		Max: image.Point{X: Scale(b[2], width), Y: Scale(b[3], height)},
	}
}

// maximum list nesting accepted below the root list
const maxDepth = 2

type coordItem struct {
	num  int
	list *coordList
}

type coordList struct {
	items []coordItem
}

func (l *coordList) allInts() bool {
	for _, it := range l.items {
		if it.list != nil {
			return false
		}
	}
	return true
}

func (l *coordList) box() Box {
	return Box{l.items[0].num, l.items[1].num, l.items[2].num, l.items[3].num}
}

type coordParser struct {
	src string
	pos int
}

func (p *coordParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: at offset %d: %s", ErrUnparseable, p.pos, fmt.Sprintf(format, args...))
}

func (p *coordParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *coordParser) parseList(depth int) (*coordList, error) {
	if depth >= maxDepth {
		return nil, p.errorf("lists nested too deeply")
	}
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != '[' {
		return nil, p.errorf("expected '['")
	}
	p.pos++

	list := &coordList{}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, p.errorf("unterminated list")
		}
		if p.src[p.pos] == ']' {
			p.pos++
			return list, nil
		}

		var item coordItem
		if p.src[p.pos] == '[' {
			sub, err := p.parseList(depth + 1)
			if err != nil {
				return nil, err
			}
			item.list = sub
		} else {
			n, err := p.parseInt()
			if err != nil {
				return nil, err
			}
			item.num = n
		}
		list.items = append(list.items, item)

		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, p.errorf("unterminated list")
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return list, nil
		default:
			return nil, p.errorf("unexpected %q", p.src[p.pos])
		}
	}
}

func (p *coordParser) parseInt() (int, error) {
	start := p.pos
	if p.pos < len(p.src) && (p.src[p.pos] == '-' || p.src[p.pos] == '+') {
		p.pos++
	}
	digits := p.pos
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	if p.pos == digits {
		p.pos = start
		return 0, p.errorf("expected integer")
	}
	n, err := strconv.Atoi(p.src[start:p.pos])
	if err != nil {
		return 0, p.errorf("bad integer %q", p.src[start:p.pos])
	}
	return n, nil
}
