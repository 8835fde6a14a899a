package scenario

import (
	"fmt"
	"strconv"
	"strings"

	"tlcopt/internal/model"
	"tlcopt/internal/network"
)

// SituationMatrix builds an OD matrix from flow values paired with
// (from, to) section ids. Boundary sections name their centroid in the
// external id; an internal section is resolved through the turnings that
// connect it to a boundary section at its far node. Flows whose centroids
// cannot be resolved are skipped with a warning.
func (b *Builder) SituationMatrix(task model.TaskDescriptor) (*network.ODMatrix, error) {
	if !task.HasSituation() {
		return nil, fmt.Errorf("%w: %d flows for %d section ids", ErrInvalidDemand, len(task.Situation), len(task.SectionIDs))
	}
	conf, err := b.net.ActiveCentroidConfiguration()
	if err != nil {
		return nil, err
	}
	vehicle, err := b.net.VehicleByName(situationVehicle)
	if err != nil {
		return nil, err
	}

	matrix := &network.ODMatrix{
		Name:     situationName,
		Vehicle:  vehicle.ID,
		Duration: network.DefaultMatrixDuration,
	}
	if err := b.net.AddODMatrix(matrix); err != nil {
		return nil, err
	}
	conf.Matrices = append(conf.Matrices, matrix.ID)
	b.logger.Debug("created situation matrix", "matrix", matrix.ID, "centroid_configuration", conf.ID)

	for i, flow := range task.Situation {
		inID, outID := task.SectionIDs[2*i], task.SectionIDs[2*i+1]
		origins, err := b.originCentroids(inID)
		if err != nil {
			b.logger.Warn("skipping flow", "index", i, "from_section", inID, "error", err)
			continue
		}
		destinations, err := b.destinationCentroids(outID)
		if err != nil {
			b.logger.Warn("skipping flow", "index", i, "to_section", outID, "error", err)
			continue
		}
		for _, from := range origins {
			for _, to := range destinations {
				matrix.SetTrips(from, to, flow)
				b.logger.Debug("situation flow", "from_section", inID, "from_centroid", from, "to_section", outID, "to_centroid", to, "trips", flow)
			}
		}
	}
	return matrix, nil
}

// AddMatrixToDemand schedules a matrix over the whole demand window, scaling
// it from its own duration to the window duration.
func (b *Builder) AddMatrixToDemand(matrix *network.ODMatrix, demand *network.TrafficDemand, duration int) {
	demand.Schedule = append(demand.Schedule, network.DemandItem{
		From:     demand.InitialTime,
		Duration: float64(duration),
		Factor:   float64(duration) / matrix.EffectiveDuration() * 100,
		Item:     matrix.ID,
	})
}

// SituationDemand creates a demand holding only the situation matrix.
func (b *Builder) SituationDemand(task model.TaskDescriptor, duration int) (*network.TrafficDemand, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration %d", ErrInvalidDemand, duration)
	}
	matrix, err := b.SituationMatrix(task)
	if err != nil {
		return nil, err
	}
	demand := &network.TrafficDemand{Name: windowDemandName}
	if err := b.net.AddTrafficDemand(demand); err != nil {
		b.net.RemoveODMatrix(matrix.ID)
		return nil, err
	}
	b.AddMatrixToDemand(matrix, demand, duration)
	return demand, nil
}

func (b *Builder) originCentroids(sectionID int) ([]int, error) {
	section, internal, err := b.section(sectionID)
	if err != nil {
		return nil, err
	}
	if !internal {
		id, err := b.centroidOf(section)
		if err != nil {
			return nil, err
		}
		return []int{id}, nil
	}

	node, err := b.net.Node(section.Origin)
	if err != nil {
		return nil, fmt.Errorf("internal section %d: %w", sectionID, err)
	}
	var out []int
	for _, t := range node.TurningsInto(sectionID) {
		upstream, err := b.net.Section(t.Origin)
		if err != nil {
			return nil, err
		}
		id, err := b.centroidOf(upstream)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("internal section %d has no upstream turning", sectionID)
	}
	return out, nil
}

func (b *Builder) destinationCentroids(sectionID int) ([]int, error) {
	section, internal, err := b.section(sectionID)
	if err != nil {
		return nil, err
	}
	if !internal {
		id, err := b.centroidOf(section)
		if err != nil {
			return nil, err
		}
		return []int{id}, nil
	}

	node, err := b.net.Node(section.Destination)
	if err != nil {
		return nil, fmt.Errorf("internal section %d: %w", sectionID, err)
	}
	var out []int
	for _, t := range node.TurningsFrom(sectionID) {
		downstream, err := b.net.Section(t.Destination)
		if err != nil {
			return nil, err
		}
		id, err := b.centroidOf(downstream)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("internal section %d has no downstream turning", sectionID)
	}
	return out, nil
}

func (b *Builder) section(id int) (*network.Section, bool, error) {
	section, err := b.net.Section(id)
	if err != nil {
		return nil, false, err
	}
	roadType, err := b.net.RoadType(section.RoadType)
	if err != nil {
		return nil, false, fmt.Errorf("section %d: %w", id, err)
	}
	return section, roadType.Internal, nil
}

func (b *Builder) centroidOf(section *network.Section) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(section.ExternalID))
	if err != nil {
		return 0, fmt.Errorf("section %d has no centroid external id %q", section.ID, section.ExternalID)
	}
	if _, err := b.net.Centroid(id); err != nil {
		return 0, fmt.Errorf("section %d: %w", section.ID, err)
	}
	return id, nil
}
