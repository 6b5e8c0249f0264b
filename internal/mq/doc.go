// Package mq — обмен сообщениями через RabbitMQ.
//
// Включает:
//   - connection.go — соединение с автоматическим reconnect
//   - topology.go — объявление exchanges, queues и bindings
//   - publisher.go — публикация событий run lifecycle
//   - consumer.go — потребление с ручным ack/nack и DLQ
//
// Convoy использует MQ для трёх потоков:
//   - runs.enqueued — wake-сигнал координатору о новых runs
//   - runs.launch — передача захваченных runs движку исполнения
//   - runs.finished — события завершения от движка
package mq
