// Package events publishes window and alert events to NATS.
package events

import (
	"encoding/json"
	"time"

	"Go2NetMon/internal/config"
	"Go2NetMon/internal/model"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// WindowEvent is the payload published for every persisted window.
type WindowEvent struct {
	WindowID     string           `json:"window_id"`
	StartTime    time.Time        `json:"start_time"`
	EndTime      time.Time        `json:"end_time"`
	TotalFlows   int64            `json:"total_flows"`
	BenignFlows  int64            `json:"benign_flows"`
	AttackFlows  int64            `json:"attack_flows"`
	UnknownFlows int64            `json:"unknown_flows"`
	LabelCounts  map[string]int64 `json:"attacks_per_label"`
	Reprocessed  bool             `json:"reprocessed"`
}

// Encode serializes v to Protobuf by way of its JSON form.
func Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode event")
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Wrap(err, "event is not a JSON object")
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build event struct")
	}
	return proto.Marshal(st)
}

// Decode is the inverse of Encode.
func Decode(data []byte) (map[string]any, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal event")
	}
	return st.AsMap(), nil
}

// Publisher is responsible for publishing pipeline events to NATS subjects.
type Publisher struct {
	nc            *nats.Conn
	windowSubject string
	alertSubject  string
	logger        *zap.Logger
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.EventsConfig, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("netmon-engine"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to NATS at %s", cfg.NATSURL)
	}
	logger.Info("Connected to NATS server", zap.String("url", cfg.NATSURL))
	return &Publisher{
		nc:            nc,
		windowSubject: cfg.WindowSubject,
		alertSubject:  cfg.AlertSubject,
		logger:        logger,
	}, nil
}

func (p *Publisher) publish(subject string, v any) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	return errors.Wrapf(p.nc.PublishMsg(msg), "failed to publish to %s", subject)
}

// PublishWindow announces a persisted window.
func (p *Publisher) PublishWindow(w *model.Window, reprocessed bool) error {
	return p.publish(p.windowSubject, WindowEvent{
		WindowID:     w.ID,
		StartTime:    w.StartTime.UTC(),
		EndTime:      w.EndTime.UTC(),
		TotalFlows:   w.TotalFlows,
		BenignFlows:  w.BenignFlows,
		AttackFlows:  w.AttackFlows,
		UnknownFlows: w.UnknownFlows,
		LabelCounts:  w.LabelCounts,
		Reprocessed:  reprocessed,
	})
}

// PublishAlert announces a newly created alert.
func (p *Publisher) PublishAlert(a *model.Alert) error {
	return p.publish(p.alertSubject, a)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.logger.Warn("NATS drain failed", zap.Error(err))
		}
		p.logger.Info("NATS connection drained and closed.")
	}
}
