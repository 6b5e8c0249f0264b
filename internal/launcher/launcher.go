package launcher

import (
	"context"
	"fmt"

	"github.com/shaiso/Convoy/internal/domain"
	"github.com/shaiso/Convoy/internal/mq"
)

// MQLauncher передаёт захваченные runs движку исполнения
// через очередь runs.launch.
//
// Launch возвращает ошибку только если публикация не удалась;
// дальнейшая судьба run — ответственность движка, который
// сообщает о завершении событием run.finished.
type MQLauncher struct {
	publisher *mq.Publisher
}

// NewMQLauncher создаёт новый MQLauncher.
func NewMQLauncher(publisher *mq.Publisher) *MQLauncher {
	return &MQLauncher{publisher: publisher}
}

// Launch публикует run в очередь движка исполнения.
func (l *MQLauncher) Launch(ctx context.Context, run *domain.Run) error {
	if err := l.publisher.PublishRunLaunch(ctx, run.ID, run.Tags, run.Priority); err != nil {
		return fmt.Errorf("publish run.launch: %w", err)
	}
	return nil
}
