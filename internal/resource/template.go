package resource

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z]+)((?:\s+-?\d+)*)\s*\}\}`)

type segment interface {
	write(b *strings.Builder)
}

type pathTemplate struct {
	raw      string
	segments []segment
	static   bool
}

// parsePathTemplate splits a path into literal runs and placeholders. Supported
// placeholders are {{rand MIN MAX}}, {{uuid}} and {{seq}}.
func parsePathTemplate(raw string, src *lockedSource) (*pathTemplate, error) {
	tmpl := &pathTemplate{raw: raw}
	matches := placeholderPattern.FindAllStringSubmatchIndex(raw, -1)
	last := 0
	for _, m := range matches {
		if m[0] > last {
			tmpl.segments = append(tmpl.segments, literal(raw[last:m[0]]))
		}
		name := strings.ToLower(raw[m[2]:m[3]])
		args := strings.Fields(raw[m[4]:m[5]])
		seg, err := newPlaceholder(name, args, src)
		if err != nil {
			return nil, fmt.Errorf("placeholder %q: %w", raw[m[0]:m[1]], err)
		}
		tmpl.segments = append(tmpl.segments, seg)
		last = m[1]
	}
	if last < len(raw) {
		tmpl.segments = append(tmpl.segments, literal(raw[last:]))
	}
	if strings.Contains(placeholderPattern.ReplaceAllString(raw, ""), "{{") {
		return nil, fmt.Errorf("malformed placeholder in %q", raw)
	}
	tmpl.static = len(matches) == 0
	return tmpl, nil
}

func newPlaceholder(name string, args []string, src *lockedSource) (segment, error) {
	switch name {
	case "rand":
		if len(args) != 2 {
			return nil, fmt.Errorf("rand takes MIN and MAX, got %d argument(s)", len(args))
		}
		lo, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return nil, err
		}
		hi, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return nil, err
		}
		if hi <= lo {
			return nil, fmt.Errorf("rand MAX (%d) must be greater than MIN (%d)", hi, lo)
		}
		return &randSegment{lo: lo, span: hi - lo, src: src}, nil
	case "uuid":
		if len(args) != 0 {
			return nil, fmt.Errorf("uuid takes no arguments")
		}
		return uuidSegment{}, nil
	case "seq":
		if len(args) != 0 {
			return nil, fmt.Errorf("seq takes no arguments")
		}
		return &seqSegment{}, nil
	default:
		return nil, fmt.Errorf("unknown placeholder %q", name)
	}
}

func (t *pathTemplate) expand() string {
	if t.static {
		return t.raw
	}
	var b strings.Builder
	b.Grow(len(t.raw) + 16)
	for _, seg := range t.segments {
		seg.write(&b)
	}
	return b.String()
}

type literal string

func (l literal) write(b *strings.Builder) { b.WriteString(string(l)) }

// randSegment yields a uniform integer in [lo, lo+span).
type randSegment struct {
	lo   int64
	span int64
	src  *lockedSource
}

func (r *randSegment) write(b *strings.Builder) {
	b.WriteString(strconv.FormatInt(r.lo+r.src.int63n(r.span), 10))
}

type uuidSegment struct{}

func (uuidSegment) write(b *strings.Builder) { b.WriteString(uuid.NewString()) }

type seqSegment struct {
	next atomic.Int64
}

func (s *seqSegment) write(b *strings.Builder) {
	b.WriteString(strconv.FormatInt(s.next.Add(1)-1, 10))
}

type lockedSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func newLockedSource(seed int64) *lockedSource {
	return &lockedSource{rnd: rand.New(rand.NewSource(seed))}
}

func (s *lockedSource) int63n(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Int63n(n)
}
