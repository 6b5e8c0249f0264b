// Package coordinator управляет очередью runs.
//
// Coordinator отвечает за:
//   - Выбор следующего run из очереди (чистая функция SelectNextRunnable)
//   - Соблюдение глобального лимита и tag concurrency limits
//   - Приоритетный порядок с FIFO tie-break по enqueued_seq
//   - Атомарный захват run (QUEUED → LAUNCHING) через условный UPDATE
//   - Передачу захваченных runs launcher'у
//   - Приём событий о завершении runs из очереди RabbitMQ
//
// Ключевое свойство выбора: run, заблокированный tag-лимитом,
// не задерживает runs позади себя в очереди. На каждом цикле
// сканируется всё незаблокированное подмножество, а не только
// голова очереди.
package coordinator
