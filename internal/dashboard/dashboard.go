package dashboard

import "sentinal/internal/model"

// Compute counts leads per status in a single pass.
func Compute(entities []model.TrackedEntity) model.DashboardStats {
	var s model.DashboardStats
	for _, e := range entities {
		switch e.Status {
		case model.StatusWaiting:
			s.Active++
		case model.StatusNeedsFollowUp:
			s.FollowUpsNeeded++
		case model.StatusReplied:
			s.Replied++
		case model.StatusDiscarded:
			s.Discarded++
		}
	}
	s.Total = len(entities)
	return s
}

// Filter returns the leads with the given status, or all of them for "".
func Filter(entities []model.TrackedEntity, status model.Status) []model.TrackedEntity {
	if status == "" {
		return entities
	}
	out := make([]model.TrackedEntity, 0, len(entities))
	for _, e := range entities {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}
