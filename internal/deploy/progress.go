package deploy

// Stage names the pipeline step a progress update belongs to.
type Stage int

const (
	StageResolve Stage = iota
	StageCheckRegistry
	StageCheckDrift
	StageDownload
	StageReconcile
	StageRegister
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageResolve:
		return "resolve"
	case StageCheckRegistry:
		return "check-registry"
	case StageCheckDrift:
		return "check-drift"
	case StageDownload:
		return "download"
	case StageReconcile:
		return "reconcile"
	case StageRegister:
		return "register"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Progress is pushed to the caller as the pipeline runs. Percent is only
// meaningful when Indeterminate is false. The StageDone update carries
// the final status and clears any indicator.
type Progress struct {
	Stage         Stage
	Percent       int
	Indeterminate bool
	Message       string
}

// ProgressFunc receives progress updates. It is called synchronously from
// the deploying goroutine.
type ProgressFunc func(Progress)

type reporter struct {
	fn          ProgressFunc
	lastPercent int
}

func (r *reporter) emit(p Progress) {
	if r == nil || r.fn == nil {
		return
	}
	r.fn(p)
}

func (r *reporter) stage(s Stage, msg string) {
	r.emit(Progress{Stage: s, Indeterminate: true, Message: msg})
}

// transfer converts byte counts to download progress, skipping updates
// that would not change the displayed percentage.
func (r *reporter) transfer(msg string) func(transferred, total int64) {
	r.lastPercent = -1
	return func(transferred, total int64) {
		if total <= 0 {
			r.emit(Progress{Stage: StageDownload, Indeterminate: true, Message: msg})
			return
		}
		pct := int(transferred * 100 / total)
		if pct > 100 {
			pct = 100
		}
		if pct == r.lastPercent {
			return
		}
		r.lastPercent = pct
		r.emit(Progress{Stage: StageDownload, Percent: pct, Message: msg})
	}
}
