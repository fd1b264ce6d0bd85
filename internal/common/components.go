package common

const (
	ComponentSource      = "source"
	ComponentPipeline    = "pipeline"
	ComponentProcessor   = "processor"
	ComponentProjector   = "projector"
	ComponentCorrelator  = "correlator"
	ComponentCheckpoint  = "checkpoint"
	ComponentNotifier    = "notifier"
	ComponentDistributor = "distributor"
	ComponentReconciler  = "reconciler"
)

var AllComponents = map[string]struct{}{
	ComponentSource:      {},
	ComponentPipeline:    {},
	ComponentProcessor:   {},
	ComponentProjector:   {},
	ComponentCorrelator:  {},
	ComponentCheckpoint:  {},
	ComponentNotifier:    {},
	ComponentDistributor: {},
	ComponentReconciler:  {},
}
