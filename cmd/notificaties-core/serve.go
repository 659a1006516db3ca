package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/open-zaak/open-notificaties/pkg/backoff"
	"github.com/open-zaak/open-notificaties/pkg/bootstrap"
	"github.com/open-zaak/open-notificaties/pkg/config"
	"github.com/open-zaak/open-notificaties/pkg/delivery"
	"github.com/open-zaak/open-notificaties/pkg/domain"
	"github.com/open-zaak/open-notificaties/pkg/httpmw"
	"github.com/open-zaak/open-notificaties/pkg/ingest"
	"github.com/open-zaak/open-notificaties/pkg/notifyerr"
	"github.com/open-zaak/open-notificaties/pkg/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the publisher-facing HTTP ingest surface and minimal admin CRUD",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromFlags(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.NewService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	logger := bootstrap.NewLogger("serve", cfg.LogLevel)

	mux := http.NewServeMux()
	mountIngest(mux, svc, logger)
	mountAdmin(mux, svc, logger)

	if cfg.RunWorkerInline {
		startWorkerLoop(ctx, svc, logger)
	}

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpmw.Wrap(logger, mux),
	}

	logger.Info("serve starting", "addr", cfg.ListenAddr, "run_worker_inline", cfg.RunWorkerInline)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// mountIngest wires the two publisher-facing ingest endpoints (spec.md
// §6's inbound HTTP table).
func mountIngest(mux *http.ServeMux, svc *bootstrap.Service, logger *slog.Logger) {
	handler := ingest.NewHandler(svc.Store, svc.Config.AuditEnabled, logger.With("component", "ingest"))
	mux.HandleFunc("POST /api/v1/notificaties", handler.Notificatie)
	mux.HandleFunc("POST /api/v1/cloudevent", handler.CloudEvent)
}

// startWorkerLoop builds the shared ClientCache, delivery.Worker, and
// scheduler.Scheduler, and starts the tick loop in the background —
// used by `serve --run-worker-inline` and by the standalone `worker`
// subcommand (see worker.go).
func startWorkerLoop(ctx context.Context, svc *bootstrap.Service, logger *slog.Logger) {
	cfg := svc.Config

	clients, err := delivery.NewClientCache(delivery.ClientConfig{
		ConnectTimeout: cfg.RequestConnectTimeout,
		ReadTimeout:    cfg.RequestReadTimeout,
		ExtraCABundle:  cfg.ExtraCABundle,
	})
	if err != nil {
		logger.Error("failed to build delivery client cache", "error", err)
		return
	}

	worker := delivery.NewWorker(svc.Store, clients, logger.With("component", "delivery"))

	sched := scheduler.New(svc.Store, worker, scheduler.Config{
		MaxRetries: cfg.MaxRetries,
		Backoff: backoff.Config{
			Base:   cfg.RetryBackoffBase,
			Factor: cfg.RetryBackoffFactor,
			Max:    cfg.RetryBackoffMax,
			Jitter: cfg.JitterEnabled,
		},
		BatchSize:   cfg.SchedulerBatchSize,
		LeaseFor:    cfg.SchedulerLease,
		FanoutLimit: 16,
	}, logger.With("component", "scheduler"))

	go sched.Run(ctx, cfg.SchedulerTick)
}

// mountAdmin wires the minimal channel/subscription CRUD surface
// spec.md §1 calls out as "out of scope: administrative HTTP/CRUD
// surfaces" in the sense that their full shape (pagination, auth,
// OpenAPI) isn't specified — but §6's interface table still names the
// routes, so the core serves a subset of them: POST and GET
// /api/v1/kanaal, POST /api/v1/abonnement and DELETE
// /api/v1/abonnement/{id}. PUT and PATCH on either resource and GET
// /api/v1/abonnement are not served.
func mountAdmin(mux *http.ServeMux, svc *bootstrap.Service, logger *slog.Logger) {
	log := logger.With("component", "admin-http")

	mux.HandleFunc("POST /api/v1/kanaal", func(w http.ResponseWriter, r *http.Request) {
		var req createChannelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAdminError(w, notifyerr.Wrap(err, notifyerr.CodeValidation, "invalid JSON body"))
			return
		}
		channel := domain.Channel{ID: uuid.New(), Name: req.Name, DocumentationURL: req.DocumentationURL, FilterKeys: req.FilterKeys}
		if err := svc.Store.CreateChannel(r.Context(), channel); err != nil {
			log.Error("creating channel failed", "error", err)
			writeAdminError(w, err)
			return
		}
		writeAdminJSON(w, http.StatusCreated, channel)
	})

	mux.HandleFunc("GET /api/v1/kanaal", func(w http.ResponseWriter, r *http.Request) {
		channels, err := svc.Store.ListChannels(r.Context())
		if err != nil {
			log.Error("listing channels failed", "error", err)
			writeAdminError(w, err)
			return
		}
		writeAdminJSON(w, http.StatusOK, channels)
	})

	mux.HandleFunc("POST /api/v1/abonnement", func(w http.ResponseWriter, r *http.Request) {
		var req upsertSubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAdminError(w, notifyerr.Wrap(err, notifyerr.CodeValidation, "invalid JSON body"))
			return
		}

		clientID := req.ClientID
		if clientID == "" {
			clientID = clientIDFromAuthHeader(r.Header.Get("Authorization"))
		}

		sub := domain.Subscription{
			ID:                uuid.New(),
			CallbackURL:       req.CallbackURL,
			AuthType:          req.AuthType,
			Auth:              req.Auth,
			ClientID:          clientID,
			Secret:            req.Secret,
			OAuth2TokenURL:    req.OAuth2TokenURL,
			OAuth2Scope:       req.OAuth2Scope,
			ClientCertificate: req.ClientCertificate,
			ServerCertificate: req.ServerCertificate,
			SendCloudEvents:   req.SendCloudEvents,
		}

		filterGroups := make([]domain.FilterGroup, 0, len(req.FilterGroups))
		for _, fg := range req.FilterGroups {
			channel, err := svc.Store.GetChannelByName(r.Context(), fg.ChannelName)
			if err != nil {
				writeAdminError(w, err)
				return
			}
			keys := make([]string, 0, len(fg.Filters))
			for k := range fg.Filters {
				keys = append(keys, k)
			}
			if !channel.MatchFilterNames(keys) {
				writeAdminError(w, notifyerr.ErrAbonnementFiltersInvalid)
				return
			}
			filterGroups = append(filterGroups, domain.FilterGroup{
				ID: uuid.New(), SubscriptionID: sub.ID, ChannelName: fg.ChannelName, Filters: fg.Filters,
			})
		}

		ceGroups := make([]domain.CloudEventFilterGroup, 0, len(req.CloudEventGroups))
		for _, ce := range req.CloudEventGroups {
			ceGroups = append(ceGroups, domain.CloudEventFilterGroup{
				ID: uuid.New(), SubscriptionID: sub.ID, TypeSubstring: ce.TypeSubstring, Filters: ce.Filters,
			})
		}

		if err := svc.Store.UpsertSubscription(r.Context(), sub, filterGroups, ceGroups); err != nil {
			log.Error("upserting subscription failed", "error", err)
			writeAdminError(w, err)
			return
		}
		writeAdminJSON(w, http.StatusCreated, sub)
	})

	mux.HandleFunc("DELETE /api/v1/abonnement/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeAdminError(w, notifyerr.New(notifyerr.CodeValidation, "invalid subscription id"))
			return
		}
		if err := svc.Store.DeleteSubscription(r.Context(), id); err != nil {
			log.Error("deleting subscription failed", "error", err)
			writeAdminError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// clientIDFromAuthHeader extracts the original's "client_id extracted
// from the Auth header" convenience (SPEC_FULL.md §C) — the bearer
// token or API key's subject-ish prefix before any ':' separator, or
// the header verbatim if it carries none.
func clientIDFromAuthHeader(header string) string {
	header = strings.TrimPrefix(header, "Bearer ")
	if idx := strings.Index(header, ":"); idx >= 0 {
		return header[:idx]
	}
	return header
}

func writeAdminError(w http.ResponseWriter, err error) {
	code := notifyerr.GetCode(err)
	status := notifyerr.HTTPStatus(code)
	writeAdminJSON(w, status, map[string]string{"code": string(code), "title": err.Error()})
}

func writeAdminJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type createChannelRequest struct {
	Name             string   `json:"naam"`
	DocumentationURL string   `json:"documentatieLink"`
	FilterKeys       []string `json:"filters"`
}

type upsertSubscriptionRequest struct {
	CallbackURL       string                         `json:"callbackUrl"`
	AuthType          domain.AuthType                `json:"authType"`
	Auth              string                         `json:"auth"`
	ClientID          string                         `json:"clientId"`
	Secret            string                         `json:"secret"`
	OAuth2TokenURL    string                         `json:"oauth2TokenUrl"`
	OAuth2Scope       string                         `json:"oauth2Scope"`
	ClientCertificate string                         `json:"clientCertificate"`
	ServerCertificate string                         `json:"serverCertificate"`
	SendCloudEvents   bool                           `json:"sendCloudEvents"`
	FilterGroups      []filterGroupRequest           `json:"kanalen"`
	CloudEventGroups  []cloudEventFilterGroupRequest `json:"cloudEventKanalen"`
}

type filterGroupRequest struct {
	ChannelName string            `json:"kanaal"`
	Filters     map[string]string `json:"filters"`
}

type cloudEventFilterGroupRequest struct {
	TypeSubstring string            `json:"typeSubstring"`
	Filters       map[string]string `json:"filters"`
}
