package types

const (
	// CountPerRootProjectMetric is the analytics metric holding root event
	// counts per project, tagged with the keep/drop decision.
	CountPerRootProjectMetric = "count_per_root_project"

	// BoostLowVolumeProjectsTrigger is the reason attached to project config
	// invalidations caused by a changed rate.
	BoostLowVolumeProjectsTrigger = "dynamic_sampling_boost_low_volume_projects"
)
