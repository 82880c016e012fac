package totalstation

import (
	"fmt"
	"math"
	"strconv"

	"github.com/banshee-data/shootpoints/internal/surveyerr"
	"github.com/banshee-data/shootpoints/internal/units"
)

const ack = "\x06"

// ackFrame is the acknowledgement in both directions: ACK plus its own BCC.
var ackFrame = WithBCC(ack)

// GTS-300 data frame layouts. Distances are integers in tenths of a millimetre.
const (
	polarFrameLen = 32 // ?+DDDDDDDDDmZZZZZZZ+HHHHHHHdS + BCC
	rectFrameLen  = 38 // /NNNNNNNNNNNEEEEEEEEEEEZZZZZZZZZZZm + BCC

	tenthMM = 1e-4
)

// BCC returns the block check for a command: the XOR of its bytes written
// as three decimal digits.
func BCC(data string) string {
	var x byte
	for i := 0; i < len(data); i++ {
		x ^= data[i]
	}
	return fmt.Sprintf("%03d", x)
}

// WithBCC appends the block check to cmd.
func WithBCC(cmd string) string {
	return cmd + BCC(cmd)
}

func checkBCC(frame string) error {
	if len(frame) < 4 {
		return surveyerr.NewProtocol("frame %q too short for a block check", frame)
	}
	body, got := frame[:len(frame)-3], frame[len(frame)-3:]
	if want := BCC(body); got != want {
		return surveyerr.NewProtocol("block check mismatch in %q: got %s, want %s", frame, got, want)
	}
	return nil
}

// ParseFrame decodes a measurement frame. Polar frames ('?') map directly
// to a Reading. Rectangular frames ('/'), which the instrument sends when
// left in coordinate mode, are converted back to polar form.
func ParseFrame(frame string) (Reading, error) {
	if frame == "" {
		return Reading{}, surveyerr.NewProtocol("empty measurement frame")
	}
	switch frame[0] {
	case '?':
		return parsePolar(frame)
	case '/':
		return parseRect(frame)
	default:
		return Reading{}, surveyerr.NewProtocol("unexpected data format %q", frame)
	}
}

func parsePolar(frame string) (Reading, error) {
	if len(frame) != polarFrameLen {
		return Reading{}, surveyerr.NewProtocol("polar frame %q has length %d, want %d", frame, len(frame), polarFrameLen)
	}
	if err := checkBCC(frame); err != nil {
		return Reading{}, err
	}
	if frame[1] != '+' || frame[19] != '+' {
		return Reading{}, surveyerr.NewProtocol("polar frame %q: missing sign", frame)
	}
	if frame[11] != 'm' {
		return Reading{}, surveyerr.NewProtocol("polar frame %q: distance unit %q is not metres", frame, frame[11])
	}
	if frame[27] != 'd' {
		return Reading{}, surveyerr.NewProtocol("polar frame %q: angle unit %q is not degrees", frame, frame[27])
	}

	dist, err := digits(frame[2:11])
	if err != nil {
		return Reading{}, surveyerr.NewProtocol("polar frame %q: distance: %v", frame, err)
	}
	zenith, err := units.ParsePacked(frame[12:19])
	if err != nil {
		return Reading{}, surveyerr.NewProtocol("polar frame %q: zenith: %v", frame, err)
	}
	horiz, err := units.ParsePacked(frame[20:27])
	if err != nil {
		return Reading{}, surveyerr.NewProtocol("polar frame %q: horizontal: %v", frame, err)
	}
	status := frame[28]
	if status < '0' || status > '9' {
		return Reading{}, surveyerr.NewProtocol("polar frame %q: status %q is not a digit", frame, status)
	}
	if zenith > 180 {
		return Reading{}, surveyerr.NewProtocol("polar frame %q: zenith %.4f beyond 180", frame, zenith)
	}

	return Reading{
		SlopeDistance:   float64(dist) * tenthMM,
		ZenithAngle:     zenith,
		HorizontalAngle: horiz,
		Status:          int(status - '0'),
	}, nil
}

func parseRect(frame string) (Reading, error) {
	if len(frame) != rectFrameLen {
		return Reading{}, surveyerr.NewProtocol("rectangular frame %q has length %d, want %d", frame, len(frame), rectFrameLen)
	}
	if err := checkBCC(frame); err != nil {
		return Reading{}, err
	}
	if frame[34] != 'm' {
		return Reading{}, surveyerr.NewProtocol("rectangular frame %q: unit %q is not metres", frame, frame[34])
	}
	var v [3]float64
	for i := range v {
		field := frame[1+11*i : 12+11*i]
		n, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return Reading{}, surveyerr.NewProtocol("rectangular frame %q: field %q: %v", frame, field, err)
		}
		v[i] = float64(n) * tenthMM
	}
	dn, de, dz := v[0], v[1], v[2]
	horiz := math.Hypot(dn, de)
	return Reading{
		SlopeDistance:   math.Hypot(horiz, dz),
		ZenithAngle:     units.Degrees(math.Atan2(horiz, dz)),
		HorizontalAngle: units.Normalize(units.Degrees(math.Atan2(de, dn))),
	}, nil
}

func digits(s string) (int64, error) {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("non-digit %q in %q", s[i], s)
		}
	}
	return strconv.ParseInt(s, 10, 64)
}

// EncodePolar renders r as the instrument would send it.
func EncodePolar(r Reading) string {
	dist := int64(math.Round(r.SlopeDistance / tenthMM))
	body := fmt.Sprintf("?+%09dm%s+%sd%d",
		dist,
		units.FormatPacked(r.ZenithAngle),
		units.FormatPacked(r.HorizontalAngle),
		r.Status%10)
	return WithBCC(body)
}
