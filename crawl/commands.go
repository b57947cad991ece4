package crawl

// Commands are the typed messages passed down the actor hierarchy. They are
// delivered by direct method calls (SessionActor.Dispatch, BatchActor.Accept,
// StageActor.Accept), not through per-actor inbound channels. RunBatch and
// RunStage carry a single-reply channel; a sender that sizes it 1 (as
// BatchActor does for RunStage) is never blocked by the reply.

// SessionCommand is the sum type of messages a SessionActor accepts.
type SessionCommand interface{ sessionCommand() }

type StartCrawling struct{}

type Pause struct{ Reason string }

type Resume struct{}

type Cancel struct{ Force bool }

type Shutdown struct{ Graceful bool }

func (StartCrawling) sessionCommand() {}
func (Pause) sessionCommand()         {}
func (Resume) sessionCommand()        {}
func (Cancel) sessionCommand()        {}
func (Shutdown) sessionCommand()      {}

// BatchCommand is the sum type of messages a BatchActor accepts. Pause,
// Resume and Cancel belong to the type, but BatchActor.Accept ignores them:
// pausing reaches running tasks through the AppContext's pause gate and
// cancellation through its context.
type BatchCommand interface{ batchCommand() }

type RunBatch struct {
	Plan  BatchPlan
	Reply chan<- BatchResult
}

func (RunBatch) batchCommand() {}
func (Pause) batchCommand()    {}
func (Resume) batchCommand()   {}
func (Cancel) batchCommand()   {}

// StageCommand is the sum type of messages a StageActor accepts.
type StageCommand interface{ stageCommand() }

type RunStage struct {
	Kind  StageKind
	Items []StageItem
	Caps  WorkerCaps
	Reply chan<- StageResult
}

func (RunStage) stageCommand() {}
func (Pause) stageCommand()    {}
func (Resume) stageCommand()   {}
func (Cancel) stageCommand()   {}
