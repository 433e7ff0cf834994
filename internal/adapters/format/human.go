package format

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/matthiasnowak/villasnode/internal/domain"
)

// Human is the line oriented text format:
//
//	seconds[.nanoseconds][+-offset][(sequence)]	value0	value1 ...
//
// Only the seconds are mandatory. The offset is received minus origin in
// seconds. Lines starting with '#' are comments.
type Human struct {
	Signals domain.SignalList
}

func (h *Human) Name() string { return "villas.human" }

// Header returns the comment line written at the top of files.
func (h *Human) Header() string {
	var b strings.Builder
	b.WriteString("# seconds.nanoseconds+offset(sequence)")
	for _, s := range h.Signals {
		b.WriteByte('\t')
		b.WriteString(s.Name)
		if s.Unit != "" {
			b.WriteString("[" + s.Unit + "]")
		}
	}
	b.WriteByte('\n')
	return b.String()
}

func (h *Human) Encode(smps []*domain.Sample) ([]byte, error) {
	var buf []byte
	for _, s := range smps {
		buf = h.AppendLine(buf, s)
	}
	return buf, nil
}

// AppendLine appends one newline-terminated line for s.
func (h *Human) AppendLine(buf []byte, s *domain.Sample) []byte {
	origin := s.TS.Origin
	buf = strconv.AppendInt(buf, origin.Unix(), 10)
	buf = append(buf, '.')
	buf = append(buf, fmt.Sprintf("%09d", origin.Nanosecond())...)

	if s.Flags.Has(domain.HasTSReceived) && !s.TS.Received.IsZero() && !origin.IsZero() {
		off := s.TS.Received.Sub(origin).Seconds()
		buf = append(buf, fmt.Sprintf("%+e", off)...)
	}
	if s.Flags.Has(domain.HasSequence) {
		buf = append(buf, '(')
		buf = strconv.AppendUint(buf, s.Sequence, 10)
		buf = append(buf, ')')
	}
	for _, v := range s.Values() {
		buf = append(buf, '\t')
		if v.Type() == domain.SignalInteger {
			buf = strconv.AppendInt(buf, v.Int(), 10)
		} else {
			buf = strconv.AppendFloat(buf, v.Float(), 'f', -1, 64)
		}
	}
	return append(buf, '\n')
}

func (h *Human) Decode(data []byte, smps []*domain.Sample) (int, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	n := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		if n == len(smps) {
			return n, ErrTooManySamples
		}
		if err := h.ParseLine(line, smps[n]); err != nil {
			return n, err
		}
		n++
	}
	return n, sc.Err()
}

// ParseLine fills s from one non-comment line. Lines without an offset get
// the current time as received timestamp.
func (h *Human) ParseLine(line string, s *domain.Sample) error {
	s.Reset()

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return fmt.Errorf("empty line")
	}
	head := fields[0]

	end := strings.IndexAny(head, ".+-(")
	if end < 0 {
		end = len(head)
	}
	sec, err := strconv.ParseInt(head[:end], 10, 64)
	if err != nil {
		return fmt.Errorf("parse seconds %q: %w", head, err)
	}
	var nsec int64
	rest := head[end:]

	if strings.HasPrefix(rest, ".") {
		rest = rest[1:]
		e := strings.IndexAny(rest, "+-(")
		if e < 0 {
			e = len(rest)
		}
		digits := rest[:e]
		if digits == "" {
			return fmt.Errorf("missing nanoseconds in %q", head)
		}
		if nsec, err = strconv.ParseInt(digits, 10, 64); err != nil {
			return fmt.Errorf("parse nanoseconds %q: %w", head, err)
		}
		rest = rest[e:]
	}
	s.TS.Origin = time.Unix(sec, nsec)
	s.Flags |= domain.HasTSOrigin

	if strings.HasPrefix(rest, "+") || strings.HasPrefix(rest, "-") {
		e := strings.IndexByte(rest, '(')
		if e < 0 {
			e = len(rest)
		}
		off, err := strconv.ParseFloat(rest[:e], 64)
		if err != nil {
			return fmt.Errorf("parse offset %q: %w", head, err)
		}
		s.TS.Received = s.TS.Origin.Add(time.Duration(off * float64(time.Second)))
		s.Flags |= domain.HasOffset | domain.HasTSReceived
		rest = rest[e:]
	} else {
		s.TS.Received = time.Now()
		s.Flags |= domain.HasTSReceived
	}

	if strings.HasPrefix(rest, "(") {
		e := strings.IndexByte(rest, ')')
		if e < 0 {
			e = len(rest)
		}
		seq, err := strconv.ParseUint(rest[1:e], 10, 64)
		if err != nil {
			return fmt.Errorf("parse sequence %q: %w", head, err)
		}
		s.Sequence = seq
		s.Flags |= domain.HasSequence
	}

	if len(fields)-1 > s.Capacity() {
		return fmt.Errorf("line with %d values: %w", len(fields)-1, domain.ErrCapacityExceeded)
	}
	for i, f := range fields[1:] {
		var v domain.Value
		if signalType(h.Signals, i) == domain.SignalInteger {
			n, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				return fmt.Errorf("parse value %d %q: %w", i, f, err)
			}
			v = domain.IntValue(n)
		} else {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return fmt.Errorf("parse value %d %q: %w", i, f, err)
			}
			v = domain.FloatValue(x)
		}
		if err := s.Append(v); err != nil {
			return err
		}
	}
	return nil
}
