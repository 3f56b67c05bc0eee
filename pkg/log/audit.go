package log

import (
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditLog is one line of the analysis audit trail: the request that
// asked for an analysis and what the analyzer concluded.
type AuditLog struct {
	AuditID    string `json:"auditID"`
	RequestID  string `json:"requestID,omitempty"`
	Verb       string `json:"verb"`
	RequestURI string `json:"requestURI"`

	// State is the block state, e.g. "complete" or "started".
	State          string        `json:"state"`
	ConfigID       string        `json:"config,omitempty"`
	Classification string        `json:"classification,omitempty"`
	KilledPID      int64         `json:"killedPID,omitempty"`
	Error          string        `json:"error,omitempty"`
	Cached         bool          `json:"cached"`
	Took           time.Duration `json:"took"`
}

type AuditOption func(*AuditLog)

func (ev *AuditLog) applyOpts(opts []AuditOption) {
	for _, opt := range opts {
		opt(ev)
	}

	if ev.AuditID == "" {
		ev.AuditID = uuid.New().String()
	}
}

// fields skips the analysis outcome that is not known, e.g. the killed
// pid of a rejected text.
func (ev *AuditLog) fields() []zap.Field {
	fs := []zap.Field{
		zap.String("auditID", ev.AuditID),
		zap.String("verb", ev.Verb),
		zap.String("requestURI", ev.RequestURI),
		zap.String("state", ev.State),
		zap.Bool("cached", ev.Cached),
		zap.Duration("took", ev.Took),
	}
	if ev.RequestID != "" {
		fs = append(fs, zap.String("requestID", ev.RequestID))
	}
	if ev.ConfigID != "" {
		fs = append(fs, zap.String("config", ev.ConfigID))
	}
	if ev.Classification != "" {
		fs = append(fs, zap.String("classification", ev.Classification))
	}
	if ev.KilledPID != 0 {
		fs = append(fs, zap.Int64("killedPID", ev.KilledPID))
	}
	if ev.Error != "" {
		fs = append(fs, zap.String("error", ev.Error))
	}
	return fs
}

func WithAuditID(auditID string) AuditOption {
	return func(ev *AuditLog) {
		ev.AuditID = auditID
	}
}

func WithRequestID(requestID string) AuditOption {
	return func(ev *AuditLog) {
		ev.RequestID = requestID
	}
}

func WithRequest(verb string, requestURI string) AuditOption {
	return func(ev *AuditLog) {
		ev.Verb = verb
		ev.RequestURI = requestURI
	}
}

func WithState(state string) AuditOption {
	return func(ev *AuditLog) {
		ev.State = state
	}
}

func WithConfigID(id string) AuditOption {
	return func(ev *AuditLog) {
		ev.ConfigID = id
	}
}

func WithClassification(classification string) AuditOption {
	return func(ev *AuditLog) {
		ev.Classification = classification
	}
}

func WithKilledPID(pid int64) AuditOption {
	return func(ev *AuditLog) {
		ev.KilledPID = pid
	}
}

// WithError records why the analysis did not produce a result.
func WithError(err error) AuditOption {
	return func(ev *AuditLog) {
		if err != nil {
			ev.Error = err.Error()
		}
	}
}

// WithCached marks a response served from the result cache.
func WithCached() AuditOption {
	return func(ev *AuditLog) {
		ev.Cached = true
	}
}

func WithTook(took time.Duration) AuditOption {
	return func(ev *AuditLog) {
		ev.Took = took
	}
}

type AuditLogger interface {
	Log(...AuditOption)
}

func NewNopAuditLogger() AuditLogger {
	return &auditLogger{logger: zap.NewNop()}
}

// NewAuditLogger writes JSON lines to logFile (rotated), or to stdout
// when logFile is empty.
func NewAuditLogger(logFile string) AuditLogger {
	var w zapcore.WriteSyncer
	if logFile != "" {
		w = zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    128, // megabytes
			MaxBackups: 5,
			MaxAge:     3, // days
			Compress:   true,
		})
	} else {
		w = zapcore.AddSync(os.Stdout)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.LevelKey = ""
	encoderConfig.MessageKey = ""
	encoderConfig.CallerKey = ""
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339Nano)
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		w,
		zap.NewAtomicLevelAt(zap.InfoLevel),
	)
	return &auditLogger{logger: zap.New(core)}
}

type auditLogger struct {
	logger *zap.Logger
}

func (l *auditLogger) Log(opts ...AuditOption) {
	ev := &AuditLog{}
	ev.applyOpts(opts)
	l.logger.Info("", ev.fields()...)
}

// CreateAuditLogFilepath derives the audit file from the main log file,
// "/var/log/oomanalyzer.log" becomes "/var/log/oomanalyzer.audit".
func CreateAuditLogFilepath(logFile string) string {
	if logFile == "" {
		return ""
	}
	return strings.TrimSuffix(logFile, ".log") + ".audit"
}
