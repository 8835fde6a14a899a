// Package turning classifies the signalized movements of a junction and
// encodes them for the optimizer.
package turning

import (
	"fmt"
	"strconv"
	"strings"

	"tlcopt/internal/model"
	"tlcopt/internal/network"
	"tlcopt/internal/wire"
)

// Classification partitions the signalized turnings of one node.
type Classification struct {
	Motorized  []model.Turning
	Pedestrian []model.Turning
}

// All returns motorized turnings followed by pedestrian turnings.
func (c Classification) All() []model.Turning {
	out := make([]model.Turning, 0, len(c.Motorized)+len(c.Pedestrian))
	out = append(out, c.Motorized...)
	return append(out, c.Pedestrian...)
}

// Classify walks the node's turnings in stored order and sorts every
// signalized one by the road type of its upstream section. Turnings without
// signals are skipped.
func Classify(net *network.Network, node *network.Node) (Classification, error) {
	var out Classification
	for _, t := range node.Turnings {
		if !t.Signalized() {
			continue
		}
		roadType, err := net.SectionRoadType(t.Origin)
		if err != nil {
			return Classification{}, fmt.Errorf("classify turning %d: %w", t.ID, err)
		}
		pair := model.Turning{FromSectionID: t.Origin, ToSectionID: t.Destination}
		if roadType.Name == network.FootpathRoadType {
			out.Pedestrian = append(out.Pedestrian, pair)
		} else {
			out.Motorized = append(out.Motorized, pair)
		}
	}
	return out, nil
}

// Encode renders turnings as interleaved from/to ids separated by single
// spaces. An empty list encodes to the empty string.
func Encode(turnings []model.Turning) string {
	var b strings.Builder
	for i, t := range turnings {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.Itoa(t.FromSectionID))
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(t.ToSectionID))
	}
	return b.String()
}

// Decode parses an encoded turning list. Extra whitespace, including a
// trailing separator, is tolerated.
func Decode(encoded string) ([]model.Turning, error) {
	fields := strings.Fields(encoded)
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of section ids (%d)", wire.ErrMalformedToken, len(fields))
	}
	out := make([]model.Turning, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		from, err := wire.ParseInt(fields[i])
		if err != nil {
			return nil, err
		}
		to, err := wire.ParseInt(fields[i+1])
		if err != nil {
			return nil, err
		}
		out = append(out, model.Turning{FromSectionID: from, ToSectionID: to})
	}
	return out, nil
}
