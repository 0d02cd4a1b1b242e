package runner

import "github.com/fgeck/goexpdp/internal/models"

// outcome is the result of executing one stage.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeFailed
	outcomeEmpty // stage had nothing to work on
)

func (o outcome) String() string {
	switch o {
	case outcomeOK:
		return "ok"
	case outcomeFailed:
		return "failed"
	case outcomeEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// transition returns the stage that follows stage given its outcome.
func transition(stage models.Stage, out outcome) models.Stage {
	switch stage {
	case models.StageStart:
		return models.StageCleanStale
	case models.StageCleanStale:
		return models.StageValidate
	case models.StageValidate:
		if out == outcomeOK {
			return models.StageBuildCmd
		}
		return models.StageAbort
	case models.StageBuildCmd:
		return models.StageExport
	case models.StageExport:
		if out == outcomeOK {
			return models.StageVerifyLog
		}
		return models.StageFailed
	case models.StageVerifyLog:
		if out == outcomeOK {
			return models.StageLocateFiles
		}
		return models.StageFailed
	case models.StageLocateFiles:
		if out == outcomeOK {
			return models.StageCompress
		}
		return models.StageCleanRun
	case models.StageCompress:
		if out == outcomeOK {
			return models.StageUpload
		}
		return models.StageCleanRun
	case models.StageUpload:
		return models.StageCleanRun
	case models.StageCleanRun:
		return models.StageDone
	default:
		return stage
	}
}
