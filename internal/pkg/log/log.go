// Package log add logging utilities.
package log

import (
	"strings"
	"time"

	"rtspc/internal/pkg/packet"
	"rtspc/internal/pkg/rtsp"
	"rtspc/internal/pkg/stats"

	"github.com/sirupsen/logrus"
)

// SetLogger sets the default logger's level.
func SetLogger(level string) {
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = time.RFC3339
	customFormatter.FullTimestamp = true
	logrus.SetFormatter(customFormatter)
	logrus.SetLevel(ParseLevel(level))
}

// ParseLevel maps a level name to a logrus level, defaulting to error.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.ErrorLevel
	}
}

func RequestFields(req *rtsp.Request) logrus.Fields {
	fields := logrus.Fields{
		"method": string(req.Method),
		"media":  req.MediaID,
		"cseq":   req.CSeq,
	}
	if req.Session != "" {
		fields["rtsp_session"] = req.Session
	}
	if req.ClientPort != 0 {
		fields["client_port"] = req.ClientPort
	}
	return fields
}

func ResponseFields(res *rtsp.Response) logrus.Fields {
	return logrus.Fields{
		"code":         res.Code,
		"message":      res.Message,
		"cseq":         res.CSeq,
		"rtsp_session": res.Session,
	}
}

func PacketFields(p *packet.Packet) logrus.Fields {
	return logrus.Fields{
		"seq":          p.SequenceNumber,
		"timestamp":    p.Timestamp,
		"payload_type": p.PayloadType,
		"marker":       p.Marker,
		"size":         len(p.Payload),
	}
}

func ReportFields(r stats.Report) logrus.Fields {
	return logrus.Fields{
		"total":        r.Total,
		"out_of_order": r.OutOfOrder,
		"early":        r.Early,
		"late":         r.Late,
		"max_seq":      r.MaxSeq,
		"elapsed":      r.Elapsed.String(),
		"frame_rate":   r.FrameRate,
		"loss_rate":    r.LossRate,
	}
}
