package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	QUEUED → LAUNCHING → STARTED → SUCCEEDED
//	                             ↘ FAILED
//	                             ↘ CANCELED
//	         LAUNCHING → FAILED_TO_LAUNCH
//	QUEUED → CANCELED (удаление из очереди до запуска)
//
// Статусы до STARTED включительно принадлежат координатору;
// дальше run живёт во внешнем движке исполнения, который сообщает
// о завершении через события runs.finished.
type RunStatus string

const (
	// RunStatusQueued — run ожидает в очереди координатора.
	RunStatusQueued RunStatus = "QUEUED"

	// RunStatusLaunching — run захвачен dequeuer'ом и передаётся launcher'у.
	// Промежуточный статус между выбором и подтверждённым запуском.
	RunStatusLaunching RunStatus = "LAUNCHING"

	// RunStatusStarted — run передан движку исполнения и занимает слот.
	RunStatusStarted RunStatus = "STARTED"

	// RunStatusFailedToLaunch — launcher не смог запустить run.
	// Терминальный статус, автоматический retry не выполняется.
	RunStatusFailedToLaunch RunStatus = "FAILED_TO_LAUNCH"

	// RunStatusSucceeded — движок сообщил об успешном завершении.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — движок сообщил об ошибке выполнения.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCanceled — run отменён: либо удалён из очереди
	// до запуска, либо прерван на стороне движка.
	RunStatusCanceled RunStatus = "CANCELED"
)

// IsTerminal возвращает true, если статус финальный.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusFailedToLaunch, RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// IsInProgress возвращает true, если run занимает слот concurrency-лимитов.
// LAUNCHING учитывается наравне со STARTED: run уже захвачен,
// не учитывать его — значит превысить лимит на следующем цикле.
func (s RunStatus) IsInProgress() bool {
	return s == RunStatusLaunching || s == RunStatusStarted
}

// InProgressStatuses — статусы, учитываемые при подсчёте занятых слотов.
var InProgressStatuses = []RunStatus{RunStatusLaunching, RunStatusStarted}
