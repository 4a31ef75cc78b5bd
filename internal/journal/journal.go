// Package journal persists dialogs and messages to SQLite behind the
// in-memory registries and restores them at boot.
//
// Persistence is write-behind: the journal consumes "chat." bus events and
// never sits on the command path. Events the bus drops under load are lost.
package journal

import (
	"context"
	"fmt"
	"sync"

	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/dialog"
	"github.com/matheus3301/pairchat/internal/messages"
	"github.com/matheus3301/pairchat/internal/metrics"
	"github.com/matheus3301/pairchat/internal/store"
	"go.uber.org/zap"
)

const bufSize = 1024

// Journal mirrors chat events into the store.
type Journal struct {
	db      *store.DB
	bus     *bus.Bus
	dialogs *dialog.Directory
	log     *messages.Log
	metrics *metrics.Metrics
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a journal.
func New(db *store.DB, b *bus.Bus, dialogs *dialog.Directory, log *messages.Log, m *metrics.Metrics, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{
		db:      db,
		bus:     b,
		dialogs: dialogs,
		log:     log,
		metrics: m,
		logger:  logger,
	}
}

// Hydrate loads the journal into the directory and the message log. Call it
// before the gateway accepts connections.
func (j *Journal) Hydrate(ctx context.Context) (dialogs, msgs int, err error) {
	ds, err := j.db.LoadDialogs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load dialogs: %w", err)
	}
	ms, err := j.db.LoadMessages(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load messages: %w", err)
	}
	dialogs = j.dialogs.Restore(ds)
	msgs = j.log.Restore(ms)
	j.logger.Info("journal hydrated", zap.Int("dialogs", dialogs), zap.Int("messages", msgs))
	return dialogs, msgs, nil
}

// Start subscribes to chat events on the bus.
func (j *Journal) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	ch, unsub := j.bus.Subscribe("chat.", bufSize)

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer unsub()
		for {
			select {
			case evt := <-ch:
				j.handleEvent(evt)
			case <-ctx.Done():
				j.drain(ch)
				return
			}
		}
	}()
}

// drain writes whatever is still buffered at shutdown.
func (j *Journal) drain(ch <-chan bus.Event) {
	for {
		select {
		case evt := <-ch:
			j.handleEvent(evt)
		default:
			return
		}
	}
}

// Stop stops the journal after flushing buffered events.
func (j *Journal) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

func (j *Journal) handleEvent(evt bus.Event) {
	ctx := context.Background()
	var err error
	switch p := evt.Payload.(type) {
	case chat.Dialog:
		err = j.db.UpsertDialog(ctx, p)
	case chat.Message:
		err = j.appendMessage(ctx, p)
	case bus.Tombstone:
		err = j.db.MarkMessageDeleted(ctx, p.DialogID, p.MessageID)
	case bus.SeenMark:
		err = j.db.MarkDialogSeen(ctx, p.DialogID, p.UserID, p.At)
	default:
		return
	}
	j.metrics.JournalWrite(evt.Kind, err == nil)
	if err != nil {
		j.logger.Error("journal write failed", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

// appendMessage makes sure the parent dialog row exists even if its creation
// event was dropped.
func (j *Journal) appendMessage(ctx context.Context, m chat.Message) error {
	if d, ok := j.dialogs.Get(m.DialogID); ok {
		if err := j.db.UpsertDialog(ctx, d); err != nil {
			return fmt.Errorf("upsert dialog: %w", err)
		}
	}
	if err := j.db.InsertMessage(ctx, m); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}
