package cmd

import (
	"github.com/rudransh-shrivastava/sharesync/internal/db"
	"github.com/rudransh-shrivastava/sharesync/internal/store"
	"github.com/rudransh-shrivastava/sharesync/internal/transfer"
	"github.com/rudransh-shrivastava/sharesync/internal/transport"
	"github.com/rudransh-shrivastava/sharesync/internal/transport/webrtc"
)

// openHistory opens the transfer history database from the config.
func openHistory() (*store.TransferStore, func(), error) {
	gdb, err := db.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(gdb); err != nil {
			log.WithError(err).Warn("Failed to close history database")
		}
	}
	return store.NewTransferStore(gdb), closeDB, nil
}

func newManager(sink transfer.Sink, history transfer.HistoryRepository, observers ...transfer.Observer) (*transfer.Manager, error) {
	return transfer.NewManager(transfer.Options{
		Protocol:  cfg.Protocol,
		Transfer:  cfg.Transfer,
		Sink:      sink,
		History:   history,
		Observers: observers,
		Logger:    log,
	})
}

func newTransport(signaler transport.Signaler) transport.Transport {
	return webrtc.New(webrtc.Options{
		Signaler:    signaler,
		STUNServers: cfg.WebRTC.STUNServers,
		Label:       cfg.WebRTC.Label,
		Logger:      log,
	})
}
