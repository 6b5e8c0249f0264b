package coordinator

import "errors"

// ErrUnknownFinishStatus — событие run.finished с неизвестным статусом.
var ErrUnknownFinishStatus = errors.New("unknown finish status")
