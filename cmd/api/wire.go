package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"engagement-platform/internal/audit"
	"engagement-platform/internal/channel"
	"engagement-platform/internal/config"
	"engagement-platform/internal/customer"
	"engagement-platform/internal/definitions"
	"engagement-platform/internal/dialog"
	"engagement-platform/internal/httpapi"
	"engagement-platform/internal/objection"
	"engagement-platform/internal/orchestrator"
	"engagement-platform/internal/reporting"
	"engagement-platform/internal/signals"
	"engagement-platform/internal/specialist"
	"engagement-platform/internal/timeline"

	"github.com/redis/go-redis/v9"
)

// stores holds one backend per concern. Without Postgres everything runs in memory,
// which is only meant for local development.
type stores struct {
	customers   customer.Directory
	signals     signals.Repository
	timelines   timeline.Repository
	dialogs     dialog.Repository
	objections  objection.Repository
	specialists specialist.Repository
	pins        interface {
		specialist.PinStore
		specialist.PinWriter
	}
}

func newStores(db *sql.DB) stores {
	if db == nil {
		return stores{
			customers:   customer.NewMemoryDirectory(),
			signals:     signals.NewMemoryRepo(),
			timelines:   timeline.NewMemoryRepo(),
			dialogs:     dialog.NewMemoryRepo(),
			objections:  objection.NewMemoryRepo(),
			specialists: specialist.NewMemoryRepo(),
			pins:        specialist.NewMemoryPinStore(),
		}
	}
	sp := specialist.NewPostgresRepo(db)
	return stores{
		customers:   customer.NewPostgresDirectory(db),
		signals:     signals.NewPostgresRepo(db),
		timelines:   timeline.NewPostgresRepo(db),
		dialogs:     dialog.NewPostgresRepo(db),
		objections:  objection.NewPostgresRepo(db),
		specialists: sp,
		pins:        sp,
	}
}

// engine is the fully wired process: services plus the closers to run on shutdown.
type engine struct {
	handlers httpapi.Handlers
	webhooks httpapi.TwilioWebhooks
	closers  []io.Closer
}

func (e *engine) Close() {
	for _, c := range e.closers {
		_ = c.Close()
	}
}

func buildEngine(ctx context.Context, cfg config.Config, db *sql.DB, rdb *redis.Client, log *slog.Logger) (*engine, error) {
	st := newStores(db)
	e := &engine{}

	var auditRepo audit.Repository = audit.NewMemoryRepo()
	if cfg.HasKafka() {
		kr, err := audit.NewKafkaRepo(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return nil, fmt.Errorf("audit: %w", err)
		}
		auditRepo = kr
		e.closers = append(e.closers, kr)
	}
	auditSvc := audit.NewService(auditRepo)

	if cfg.App.DefinitionsPath != "" {
		doc, warnings, err := definitions.LoadFile(cfg.App.DefinitionsPath)
		if err != nil {
			return nil, fmt.Errorf("definitions: %w", err)
		}
		for _, w := range warnings {
			log.Warn("definition warning", "path", cfg.App.DefinitionsPath, "warning", w)
		}
		if err := definitions.Seed(ctx, doc, definitions.Repos{
			Timelines:   st.timelines,
			Dialogs:     st.dialogs,
			Objections:  st.objections,
			Specialists: st.specialists,
		}); err != nil {
			return nil, fmt.Errorf("seed definitions: %w", err)
		}
		log.Info("definitions loaded",
			"timelines", len(doc.Timelines), "dialog_trees", len(doc.DialogTrees),
			"objection_handlers", len(doc.ObjectionHandlers), "specialists", len(doc.Specialists))
	}

	var dispatch channel.Dispatcher = channel.NewMemoryDispatcher()
	if cfg.HasTwilio() {
		opts := channel.TwilioOptions{
			AccountSID:   cfg.Twilio.AccountSID,
			AuthToken:    cfg.Twilio.AuthToken,
			FromNumber:   cfg.Twilio.FromNumber,
			VoiceURL:     cfg.Twilio.VoiceURL,
			VoicemailURL: cfg.Twilio.VoicemailURL,
		}
		if cfg.Twilio.WebhookBaseURL != "" {
			opts.StatusCallbackURL = strings.TrimRight(cfg.Twilio.WebhookBaseURL, "/") + "/webhooks/twilio/call-status"
		}
		td, err := channel.NewTwilioDispatcher(opts, log)
		if err != nil {
			return nil, fmt.Errorf("twilio: %w", err)
		}
		mux := channel.NewMux().Handle(td, customer.ChannelSMS, customer.ChannelCall, customer.ChannelRVM)
		for _, ch := range mux.Unmounted(customer.ChannelEmail, customer.ChannelSMS, customer.ChannelCall, customer.ChannelRVM) {
			log.Warn("no dispatcher for channel, timeline actions on it stay pending", "channel", ch)
		}
		dispatch = mux
	} else {
		log.Warn("twilio not configured, outbound messages are recorded in memory only")
	}

	var capacity specialist.Capacity = specialist.NewMemoryCapacity()
	var locks timeline.Locker = timeline.NewMemoryLocker()
	if rdb != nil {
		capacity = specialist.NewRedisCapacity(rdb, cfg.Engine.CapacityTTL)
		locks = timeline.NewRedisLocker(rdb, cfg.Engine.ProgressLockTTL)
	}

	sigSvc := signals.NewService(st.signals)

	sched := timeline.NewScheduler(st.timelines, st.customers, sigSvc, dispatch, log)
	sched.Locks = locks
	sched.Audit = auditSvc

	specSvc := specialist.NewService(st.specialists, capacity, log)
	specSvc.Pins = st.pins
	specSvc.Hooks = specialist.AuditAdapter{Audit: auditSvc}

	objSvc := objection.NewService(st.objections)
	x := dialog.NewExecutor(objSvc, specSvc, log)
	x.Audit = auditSvc

	orch := orchestrator.New(st.customers, sched, dialog.NewService(st.dialogs, st.customers, x), sigSvc, log)

	e.handlers = httpapi.Handlers{
		Engine:      orch,
		Reports:     reporting.NewService(st.timelines, st.objections),
		Audit:       auditSvc,
		Specialists: specSvc,
		Pins:        st.pins,
	}
	e.webhooks = httpapi.TwilioWebhooks{Engine: orch}
	return e, nil
}
