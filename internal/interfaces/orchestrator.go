package interfaces

import (
	"github.com/google/uuid"
	"github.com/lumenfab/probeflow/internal/measure"
	"github.com/lumenfab/probeflow/internal/plans"
	"github.com/lumenfab/probeflow/internal/types"
)

// RunOrchestrator is the control surface the API layer drives. A single
// run may be active at a time; Start reports a conflict otherwise.
type RunOrchestrator interface {
	Start(cfg measure.RunConfig) types.Result[measure.RunHandle]
	Pause() types.Result[types.Unit]
	Resume() types.Result[types.Unit]
	Cancel() types.Result[types.Unit]
	Status() measure.StatusSnapshot
	Subscribe() (uuid.UUID, <-chan measure.ProgressEvent)
	Unsubscribe(id uuid.UUID)
}

// PlanSource resolves named measurement plans.
type PlanSource interface {
	Load(name string) (*plans.Plan, error)
}
