package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// Message is a parsed HL7v2 message.
type Message struct {
	Type         string    // MSH-9 (e.g. "ORU^R01")
	ControlID    string    // MSH-10
	Version      string    // MSH-12
	Timestamp    time.Time // MSH-7
	SendingApp   string    // MSH-3
	SendingFac   string    // MSH-4
	ReceivingApp string    // MSH-5
	ReceivingFac string    // MSH-6
	Segments     []Segment
}

// Segment is a single HL7v2 segment.
type Segment struct {
	Name   string
	Fields []Field
}

// Field is one field with its components (^) and repetitions (~).
type Field struct {
	Value      string
	Components []string
	Repeats    [][]string
}

// Parse parses raw HL7v2 bytes. Segments may be separated by \r, \n or \r\n.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("hl7v2: message is empty")
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("hl7v2: no segments found")
	}
	if !strings.HasPrefix(lines[0], "MSH") {
		return nil, fmt.Errorf("hl7v2: first segment must be MSH, got %q", lines[0][:min(3, len(lines[0]))])
	}

	msg := &Message{}
	for _, line := range lines {
		seg, err := parseSegment(line)
		if err != nil {
			return nil, fmt.Errorf("hl7v2: failed to parse segment: %w", err)
		}
		msg.Segments = append(msg.Segments, seg)
	}

	msh := msg.GetSegment("MSH")
	msg.SendingApp = msh.GetField(3)
	msg.SendingFac = msh.GetField(4)
	msg.ReceivingApp = msh.GetField(5)
	msg.ReceivingFac = msh.GetField(6)
	if ts, err := parseHL7Timestamp(msh.GetField(7)); err == nil {
		msg.Timestamp = ts
	}
	msg.Type = msh.GetField(9)
	msg.ControlID = msh.GetField(10)
	msg.Version = msh.GetField(12)
	return msg, nil
}

// parseSegment splits one segment line. For MSH the field separator itself
// is stored as MSH-1 so that field numbers line up with the standard.
func parseSegment(line string) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, fmt.Errorf("segment too short: %q", line)
	}

	if strings.HasPrefix(line, "MSH") {
		seg := Segment{Name: "MSH"}
		if len(line) < 4 {
			return seg, nil
		}
		sep := string(line[3])
		seg.Fields = append(seg.Fields, Field{Value: sep, Components: []string{sep}})
		for _, part := range strings.Split(line[4:], sep) {
			seg.Fields = append(seg.Fields, parseField(part))
		}
		return seg, nil
	}

	name, rest, found := strings.Cut(line, "|")
	seg := Segment{Name: name}
	if found {
		for _, part := range strings.Split(rest, "|") {
			seg.Fields = append(seg.Fields, parseField(part))
		}
	}
	return seg, nil
}

func parseField(raw string) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, "~") {
		f.Repeats = append(f.Repeats, strings.Split(rep, "^"))
	}
	f.Components = f.Repeats[0]
	return f
}

// parseHL7Timestamp parses YYYYMMDDHHmmss, YYYYMMDDHHmm or YYYYMMDD.
func parseHL7Timestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case len(s) >= 14:
		return time.Parse("20060102150405", s[:14])
	case len(s) >= 12:
		return time.Parse("200601021504", s[:12])
	case len(s) >= 8:
		return time.Parse("20060102", s[:8])
	default:
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp format: %q", s)
	}
}

// GetSegment returns the first segment with the given name, or nil.
func (m *Message) GetSegment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// GetSegments returns all segments with the given name.
func (m *Message) GetSegments(name string) []Segment {
	var result []Segment
	for _, seg := range m.Segments {
		if seg.Name == name {
			result = append(result, seg)
		}
	}
	return result
}

// GetField returns a field value by its 1-based HL7 number.
func (s *Segment) GetField(index int) string {
	if s == nil || index < 1 || index > len(s.Fields) {
		return ""
	}
	return s.Fields[index-1].Value
}

// GetComponent returns a component by 1-based field and component numbers.
func (s *Segment) GetComponent(fieldIdx, compIdx int) string {
	if s == nil || fieldIdx < 1 || fieldIdx > len(s.Fields) {
		return ""
	}
	comps := s.Fields[fieldIdx-1].Components
	if compIdx < 1 || compIdx > len(comps) {
		return ""
	}
	return comps[compIdx-1]
}

// PatientID returns PID-3.1.
func (m *Message) PatientID() string {
	return m.GetSegment("PID").GetComponent(3, 1)
}

// PatientName returns PID-5 as family and given name.
func (m *Message) PatientName() (family, given string) {
	pid := m.GetSegment("PID")
	return pid.GetComponent(5, 1), pid.GetComponent(5, 2)
}

// Gender returns PID-8.
func (m *Message) Gender() string {
	return m.GetSegment("PID").GetField(8)
}

// Acknowledgment returns MSA-1 and MSA-3 of an ACK message.
func (m *Message) Acknowledgment() (code, text string) {
	msa := m.GetSegment("MSA")
	return msa.GetField(1), msa.GetField(3)
}
