package node

import (
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/fzft/go-time-server/log"
	"github.com/fzft/go-time-server/proto"
)

// ReaderHandler is invoked by the event loop every time a connection is readable.
// It must not block.
type ReaderHandler interface {
	OnReadable(conn Conn) (Outcome, error)
}

// TimeHandler answers QUERY TIME ORDER with the current time and anything else with BAD ORDER.
type TimeHandler struct {
	Now     func() time.Time
	metrics *Metrics
}

func NewTimeHandler(m *Metrics) *TimeHandler {
	return &TimeHandler{
		Now:     time.Now,
		metrics: m,
	}
}

func (h *TimeHandler) OnReadable(conn Conn) (Outcome, error) {
	data, err := conn.Read()
	if errors.Is(err, io.EOF) {
		return OutcomeClose, nil
	}
	if err != nil {
		return OutcomeClose, err
	}
	if len(data) == 0 {
		return OutcomeKeep, nil
	}

	log.Logger.Info("order received",
		zap.String("conn", conn.ID()),
		zap.String("peer", conn.Ip()),
		zap.ByteString("body", data))

	order, resp := proto.Respond(data, h.Now())
	h.metrics.observeOrder(order)

	if err := conn.Write(resp); err != nil {
		return OutcomeClose, err
	}
	return OutcomeKeep, nil
}
