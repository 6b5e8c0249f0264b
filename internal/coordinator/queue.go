package coordinator

import (
	"github.com/shaiso/Convoy/internal/config"
	"github.com/shaiso/Convoy/internal/domain"
)

// SelectNextRunnable выбирает следующий run для запуска.
//
// Чистая функция над consistent snapshot состояния: очередь (queued),
// выполняющиеся runs (inProgress) и неизменяемая конфигурация лимитов.
// Не выполняет I/O и не возвращает ошибок — блокировка лимитами
// не ошибка, а ожидаемое состояние.
//
// Правила выбора:
//   - Если глобальный лимит достигнут — никто не выбирается.
//   - Run заблокирован, если хотя бы одно подходящее ему правило
//     исчерпало лимит (правила комбинируются через AND).
//   - Среди незаблокированных побеждает наибольший Priority,
//     при равенстве — наименьший EnqueuedSeq (FIFO).
//
// Заблокированный run не мешает рассмотрению runs позади него:
// сканируется вся очередь, а не только голова.
func SelectNextRunnable(queued, inProgress []domain.Run, limits config.Concurrency) *domain.Run {
	if len(queued) == 0 {
		return nil
	}

	if limits.MaxConcurrentRuns != nil && len(inProgress) >= *limits.MaxConcurrentRuns {
		return nil
	}

	counts := ruleCounts(limits.TagConcurrencyLimits, inProgress)

	var best *domain.Run
	for i := range queued {
		run := &queued[i]
		if run.Status != domain.RunStatusQueued {
			continue
		}
		if isBlocked(run, limits.TagConcurrencyLimits, counts) {
			continue
		}
		if best == nil || beats(run, best) {
			best = run
		}
	}

	return best
}

// ruleCounts считает, сколько выполняющихся runs подпадает под каждое правило.
// Индекс результата соответствует индексу правила.
func ruleCounts(rules []config.TagLimit, inProgress []domain.Run) []int {
	counts := make([]int, len(rules))
	for i, rule := range rules {
		for j := range inProgress {
			if rule.Matches(inProgress[j].Tags) {
				counts[i]++
			}
		}
	}
	return counts
}

// isBlocked возвращает true, если какое-либо подходящее run'у правило
// уже исчерпало лимит.
func isBlocked(run *domain.Run, rules []config.TagLimit, counts []int) bool {
	for i, rule := range rules {
		if rule.Matches(run.Tags) && counts[i] >= rule.Limit {
			return true
		}
	}
	return false
}

// beats возвращает true, если a должен быть выбран раньше b.
func beats(a, b *domain.Run) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.EnqueuedSeq < b.EnqueuedSeq
}
